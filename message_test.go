package amqprpc

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Packet codec", func() {
	It("round-trips a request through Serialize/DeserializeRequest", func() {
		headers := NewHeaders()
		headers.Add("Accept", "application/json")
		headers.Add("X-Trace", "a")
		headers.Add("X-Trace", "b")

		req := &RequestPacket{
			Method:  "POST",
			URI:     "http://service.internal/widgets",
			Version: "HTTP/1.1",
			Headers: headers,
			Body:    []byte(`{"name":"widget"}`),
		}

		data, err := req.Serialize()
		Expect(err).NotTo(HaveOccurred())

		got, err := DeserializeRequest(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Method).To(Equal(req.Method))
		Expect(got.URI).To(Equal(req.URI))
		Expect(got.Version).To(Equal(req.Version))
		Expect(got.Body).To(Equal(req.Body))
		Expect(got.Headers.Names()).To(Equal(req.Headers.Names()))
		Expect(got.Headers.Values("X-Trace")).To(Equal([]string{"a", "b"}))
	})

	It("round-trips a response through Serialize/DeserializeResponse", func() {
		headers := NewHeaders()
		headers.Set(ContentLengthHeader, "5")

		resp := &ResponsePacket{
			StatusCode:   200,
			ReasonPhrase: "OK",
			Version:      "HTTP/1.1",
			Headers:      headers,
			Body:         []byte("hello"),
		}

		data, err := resp.Serialize()
		Expect(err).NotTo(HaveOccurred())

		got, err := DeserializeResponse(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.StatusCode).To(Equal(resp.StatusCode))
		Expect(got.ReasonPhrase).To(Equal(resp.ReasonPhrase))
		Expect(got.Body).To(Equal(resp.Body))
	})

	It("fails with ErrBadResponse on truncated input", func() {
		_, err := DeserializeResponse([]byte{0x00, 0x00})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(ErrBadResponse.Error()))
	})

	It("rewrites Content-Length to match the actual body on fixContentLength", func() {
		resp := &ResponsePacket{Headers: NewHeaders(), Body: []byte("abc")}
		resp.fixContentLength()
		length, ok := resp.Headers.Get(ContentLengthHeader)
		Expect(ok).To(BeTrue())
		Expect(length).To(Equal("3"))
	})
})

var _ = Describe("Headers", func() {
	It("preserves insertion order across Set/Add/Delete", func() {
		h := NewHeaders()
		h.Add("A", "1")
		h.Add("B", "2")
		h.Add("A", "3")
		Expect(h.Names()).To(Equal([]string{"A", "B"}))
		Expect(h.Values("A")).To(Equal([]string{"1", "3"}))

		h.Delete("A")
		Expect(h.Names()).To(Equal([]string{"B"}))
		_, ok := h.Get("A")
		Expect(ok).To(BeFalse())
	})

	It("deep-copies on Clone", func() {
		h := NewHeaders()
		h.Add("A", "1")
		clone := h.Clone()
		clone.Add("A", "2")
		Expect(h.Values("A")).To(Equal([]string{"1"}))
		Expect(clone.Values("A")).To(Equal([]string{"1", "2"}))
	})
})
