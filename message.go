package amqprpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Headers is an ordered multimap of header name to its list of values.
// Insertion order of distinct names is preserved across a
// serialize/deserialize round trip.
type Headers struct {
	names  []string
	values map[string][]string
}

// NewHeaders returns an empty, ready-to-use Headers multimap.
func NewHeaders() Headers {
	return Headers{values: make(map[string][]string)}
}

// Add appends a value under name, recording name's first-seen position.
func (h *Headers) Add(name, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = append(h.values[name], value)
}

// Set replaces all values under name with a single value.
func (h *Headers) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = []string{value}
}

// Get returns the first value under name, if any.
func (h Headers) Get(name string) (string, bool) {
	vs, ok := h.values[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value under name, in insertion order.
func (h Headers) Values(name string) []string {
	return h.values[name]
}

// Names returns every distinct header name, in first-seen order.
func (h Headers) Names() []string {
	return h.names
}

// Delete removes name and all of its values.
func (h *Headers) Delete(name string) {
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	for i, n := range h.names {
		if n == name {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of h.
func (h Headers) Clone() Headers {
	out := NewHeaders()
	for _, name := range h.names {
		for _, v := range h.values[name] {
			out.Add(name, v)
		}
	}
	return out
}

// RequestPacket is an HTTP-shaped request.
type RequestPacket struct {
	Method  string
	URI     string
	Headers Headers
	Body    []byte
	Version string
}

// ResponsePacket is an HTTP-shaped response, symmetric to RequestPacket.
type ResponsePacket struct {
	StatusCode   int
	ReasonPhrase string
	Headers      Headers
	Body         []byte
	Version      string
}

// ContentLengthHeader is the well-known header name the core rewrites on
// every received response.
const ContentLengthHeader = "Content-Length"

// Serialize encodes r into a self-describing byte sequence: a sequence of
// length-prefixed fields (method, uri, version, header count, then each
// header name/value pair, then the body), all integers as big-endian
// uint32 lengths. Deserialize(Serialize(r)) reproduces r exactly (modulo
// Content-Length, which the core rewrites on receipt).
func (r *RequestPacket) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, r.Method)
	writeString(&buf, r.URI)
	writeString(&buf, r.Version)
	writeHeaders(&buf, r.Headers)
	writeBytes(&buf, r.Body)
	return buf.Bytes(), nil
}

// DeserializeRequest decodes a byte sequence produced by Serialize.
func DeserializeRequest(data []byte) (*RequestPacket, error) {
	buf := bytes.NewReader(data)
	method, err := readString(buf)
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: malformed request: method")
	}
	uri, err := readString(buf)
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: malformed request: uri")
	}
	version, err := readString(buf)
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: malformed request: version")
	}
	headers, err := readHeaders(buf)
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: malformed request: headers")
	}
	body, err := readBytes(buf)
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: malformed request: body")
	}
	return &RequestPacket{Method: method, URI: uri, Version: version, Headers: headers, Body: body}, nil
}

// Serialize encodes r the same way RequestPacket.Serialize does, except
// that a big-endian int32 status code and the reason phrase take the place
// of the method and URI.
func (r *ResponsePacket) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, int32(r.StatusCode)); err != nil {
		return nil, err
	}
	writeString(&buf, r.ReasonPhrase)
	writeString(&buf, r.Version)
	writeHeaders(&buf, r.Headers)
	writeBytes(&buf, r.Body)
	return buf.Bytes(), nil
}

// DeserializeResponse decodes a byte sequence produced by
// ResponsePacket.Serialize. It returns ErrBadResponse (wrapped) on any
// malformed input.
func DeserializeResponse(data []byte) (*ResponsePacket, error) {
	buf := bytes.NewReader(data)
	var status int32
	if err := binary.Read(buf, binary.BigEndian, &status); err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	reason, err := readString(buf)
	if err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	version, err := readString(buf)
	if err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	headers, err := readHeaders(buf)
	if err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	body, err := readBytes(buf)
	if err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	return &ResponsePacket{
		StatusCode:   int(status),
		ReasonPhrase: reason,
		Version:      version,
		Headers:      headers,
		Body:         body,
	}, nil
}

// fixContentLength overwrites the Content-Length header to reflect
// len(r.Body). Called on every successfully deserialized response
// before it is handed to the waiter.
func (r *ResponsePacket) fixContentLength() {
	r.Headers.Set(ContentLengthHeader, strconv.Itoa(len(r.Body)))
}

// syntheticOKResponse builds the empty 200 OK response returned to a
// fire-and-forget Send (timeout == 0).
func syntheticOKResponse() *ResponsePacket {
	h := NewHeaders()
	h.Set(ContentLengthHeader, "0")
	return &ResponsePacket{
		StatusCode:   200,
		ReasonPhrase: "OK",
		Version:      "HTTP/1.1",
		Headers:      h,
		Body:         nil,
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func writeHeaders(buf *bytes.Buffer, h Headers) {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(h.names)))
	buf.Write(countBuf[:])
	for _, name := range h.names {
		values := h.values[name]
		writeString(buf, name)
		var vcBuf [4]byte
		binary.BigEndian.PutUint32(vcBuf[:], uint32(len(values)))
		buf.Write(vcBuf[:])
		for _, v := range values {
			writeString(buf, v)
		}
	}
}

func readHeaders(r io.Reader) (Headers, error) {
	h := NewHeaders()
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return h, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return h, err
		}
		var vcBuf [4]byte
		if _, err := io.ReadFull(r, vcBuf[:]); err != nil {
			return h, err
		}
		vc := binary.BigEndian.Uint32(vcBuf[:])
		for j := uint32(0); j < vc; j++ {
			v, err := readString(r)
			if err != nil {
				return h, err
			}
			h.Add(name, v)
		}
	}
	return h, nil
}

// RequestOptions carries per-request overrides passed to SendWithOptions.
// A timeout override can also travel in the request header named by
// RequestOptionsPropertyKey.
type RequestOptions struct {
	// Timeout overrides the client's default timeout for this request. Zero
	// means fire-and-forget; InfiniteTimeout disables the timer entirely.
	// A nil *time.Duration means "use the client default".
	Timeout *time.Duration
}

// RequestOptionsPropertyKey is the request header Send reads a timeout
// override from (a time.Duration string, as written by WithRequestTimeout).
// Send removes the header before serializing the request.
const RequestOptionsPropertyKey = "amqprpc-request-options"

func (o *RequestOptions) String() string {
	if o == nil || o.Timeout == nil {
		return "<default>"
	}
	return fmt.Sprintf("timeout=%s", o.Timeout)
}
