package amqprpc

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Future is a single-shot handle to a pending response, returned by Send.
// It is fulfilled by exactly one of: the callback consumer delivering a
// matching response, the request's timer, the caller's context being
// canceled, or client disposal.
type Future struct {
	waiter *Waiter
}

// Wait blocks until the future is completed or waitCtx is done, whichever
// comes first. waitCtx bounds only how long the caller is willing to block
// here; it is independent of the request's own timeout/cancellation, which
// were already fixed at Send time.
func (f *Future) Wait(waitCtx context.Context) (*ResponsePacket, error) {
	return f.waiter.Future(waitCtx)
}

// Client is a request/response RPC client tunneling HTTP-shaped exchanges
// over an AMQP broker. A Client owns its connection, channel pool,
// callback consumer, and pending-request registry; none of these are
// ever shared with another Client instance.
type Client struct {
	cfg      *Config
	clientID string
	registry *Registry
	sup      *supervisor

	mu      sync.Mutex
	started bool

	disposed atomic.Bool
}

// New validates cfg, applies defaults, and returns a Client ready to
// Send. The broker connection is not established until the first Send.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "amqprpc: invalid configuration")
	}
	cfg.applyDefaults()

	clientID := randomID()
	registry := NewRegistry()

	c := &Client{
		cfg:      &cfg,
		clientID: clientID,
		registry: registry,
	}
	c.sup = newSupervisor(c.cfg, clientID, registry)
	return c, nil
}

// SetBaseURI sets the base URI requests without an absolute URI are
// resolved against. Fails with ErrInvalidState once the client has sent
// its first request, and with ErrDisposed once disposed.
func (c *Client) SetBaseURI(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	if c.started {
		return ErrInvalidState
	}
	c.cfg.BaseURI = uri
	return nil
}

// SetDefaultTimeout sets the timeout applied to a Send call whose
// RequestOptions does not specify one. Same mutation rules as
// SetBaseURI.
func (c *Client) SetDefaultTimeout(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	if c.started {
		return ErrInvalidState
	}
	c.cfg.DefaultTimeout = timeout
	return nil
}

// SetDefaultHeaders sets headers merged into every request that does not
// already set them. Same mutation rules as SetBaseURI.
func (c *Client) SetDefaultHeaders(headers Headers) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	if c.started {
		return ErrInvalidState
	}
	c.cfg.DefaultHeaders = headers.Clone()
	return nil
}

// Send dispatches req and returns a Future for its response. ctx is the
// request's cancellation token: if ctx is done before a response, timer,
// or disposal completes the future, the future completes with
// ErrCanceled.
func (c *Client) Send(ctx context.Context, req *RequestPacket) (*Future, error) {
	return c.SendWithOptions(ctx, req, nil)
}

// SendWithOptions is Send with an explicit RequestOptions override,
// equivalent to attaching RequestOptions under RequestOptionsPropertyKey.
func (c *Client) SendWithOptions(ctx context.Context, req *RequestPacket, opts *RequestOptions) (*Future, error) {
	if req == nil {
		return nil, ErrInvalidArgument
	}

	c.mu.Lock()
	if err := c.prepareLocked(req); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.disposed.Load() {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	c.started = true
	timeout := c.resolveTimeoutLocked(req, opts)
	c.mu.Unlock()

	if err := c.sup.ensureStarted(ctx); err != nil {
		slog.Error("amqprpc: connection supervisor failed to start", "error", err)
		return nil, err
	}

	corrID := randomID()
	exchangeDescriptor, routingKey, expirable := c.cfg.Mapper.Map(req)
	if routingKey == "" {
		routingKey = defaultRoutingKey()
	}

	var waiter *Waiter
	if timeout != 0 {
		waiter = newWaiter(corrID)
		waiter.arm(timeout, ctx)
		if err := c.registry.Register(corrID, waiter); err != nil {
			return nil, err
		}
	}

	cleanup := func() {
		if waiter != nil {
			c.registry.Remove(corrID)
		}
	}

	lease, err := c.sup.borrowChannel(ctx)
	if err != nil {
		cleanup()
		slog.Error("amqprpc: unable to borrow publisher channel", "error", err, "correlation_id", corrID)
		return nil, err
	}

	if err := c.sup.declareIfStale(lease.Channel()); err != nil {
		cleanup()
		lease.Discard()
		slog.Error("amqprpc: topology declare failed", "error", err, "correlation_id", corrID, "exchange", exchangeName(exchangeDescriptor))
		return nil, errors.Wrap(err, "amqprpc: topology declare failed")
	}

	body, err := req.Serialize()
	if err != nil {
		cleanup()
		lease.Close()
		slog.Error("amqprpc: unable to serialize request", "error", err, "correlation_id", corrID)
		return nil, errors.Wrap(err, "amqprpc: unable to serialize request")
	}

	publishing := amqp.Publishing{
		CorrelationId: corrID,
		ReplyTo:       c.sup.callbackQueueName(),
		ContentType:   "application/octet-stream",
		Body:          body,
	}
	if timeout > 0 && expirable {
		millis := timeout.Milliseconds()
		if millis > maxAMQPExpirationMillis {
			millis = maxAMQPExpirationMillis
		}
		publishing.Expiration = strconv.FormatInt(millis, 10)
	}

	exchange := exchangeName(exchangeDescriptor)
	if err := lease.Channel().Publish(ctx, exchange, routingKey, false, false, publishing); err != nil {
		cleanup()
		lease.Discard()
		slog.Error("amqprpc: publish failed", "error", err, "correlation_id", corrID, "exchange", exchange)
		return nil, errors.Wrap(ErrPublishFailed, err.Error())
	}
	lease.Close()
	slog.Debug("amqprpc: request published", "correlation_id", corrID, "exchange", exchange, "routing_key", routingKey)

	if timeout == 0 {
		// Fire-and-forget: the registry was never used for this
		// correlation ID.
		synthetic := newWaiter(corrID)
		synthetic.complete(syntheticOKResponse(), nil)
		return &Future{waiter: synthetic}, nil
	}

	return &Future{waiter: waiter}, nil
}

// CancelPendingRequests cancels every currently pending waiter with
// ErrCanceled, without tearing down the connection supervisor.
func (c *Client) CancelPendingRequests() {
	c.registry.CancelAll(ErrCanceled)
}

// Dispose idempotently shuts the client down: every pending waiter is
// completed with ErrDisposed, the callback consumer and channel pool are
// torn down, and the connection is closed. Subsequent Send calls fail
// with ErrDisposed.
func (c *Client) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.sup.dispose()
}

// Get, Post, Put and Delete are convenience wrappers that construct a
// RequestPacket and delegate to Send.
func (c *Client) Get(ctx context.Context, uri string) (*Future, error) {
	return c.Send(ctx, &RequestPacket{Method: "GET", URI: uri, Headers: NewHeaders(), Version: "HTTP/1.1"})
}

func (c *Client) Post(ctx context.Context, uri string, body []byte) (*Future, error) {
	return c.Send(ctx, &RequestPacket{Method: "POST", URI: uri, Body: body, Headers: NewHeaders(), Version: "HTTP/1.1"})
}

func (c *Client) Put(ctx context.Context, uri string, body []byte) (*Future, error) {
	return c.Send(ctx, &RequestPacket{Method: "PUT", URI: uri, Body: body, Headers: NewHeaders(), Version: "HTTP/1.1"})
}

func (c *Client) Delete(ctx context.Context, uri string) (*Future, error) {
	return c.Send(ctx, &RequestPacket{Method: "DELETE", URI: uri, Headers: NewHeaders(), Version: "HTTP/1.1"})
}

// prepareLocked resolves req.URI against the configured base URI and
// merges default headers without overwriting caller-set ones. Must be
// called with c.mu held.
func (c *Client) prepareLocked(req *RequestPacket) error {
	uri := req.URI
	if uri == "" {
		uri = c.cfg.BaseURI
	}
	if uri == "" {
		return ErrInvalidState
	}

	resolved, err := resolveURI(c.cfg.BaseURI, uri)
	if err != nil {
		return errors.Wrap(ErrInvalidState, err.Error())
	}
	req.URI = resolved
	req.Headers = mergeHeaders(c.cfg.DefaultHeaders, req.Headers)
	return nil
}

// resolveTimeoutLocked returns the per-request timeout override, checked
// in priority order: the explicit opts parameter, then the well-known
// request-options header (for callers that build requests before they
// have a Client handle to pass opts to), then the client's default. Must
// be called with c.mu held.
func (c *Client) resolveTimeoutLocked(req *RequestPacket, opts *RequestOptions) time.Duration {
	raw, hadHeader := req.Headers.Get(RequestOptionsPropertyKey)
	if hadHeader {
		// This is an internal client option, not an HTTP header bound for
		// the eventual server, so it never goes out on the wire.
		req.Headers.Delete(RequestOptionsPropertyKey)
	}

	if opts != nil && opts.Timeout != nil {
		return *opts.Timeout
	}
	if hadHeader {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return c.cfg.DefaultTimeout
}

// WithRequestTimeout attaches a per-request timeout override to req under
// RequestOptionsPropertyKey, for callers assembling a RequestPacket ahead
// of the Send call.
func WithRequestTimeout(req *RequestPacket, timeout time.Duration) {
	req.Headers.Set(RequestOptionsPropertyKey, timeout.String())
}

// resolveURI resolves uri against base: an absolute uri is returned
// unchanged; a relative one is resolved against base.
func resolveURI(base, uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return uri, nil
	}
	if base == "" {
		return "", errors.New("relative URI with no base URI configured")
	}
	baseParsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseParsed.ResolveReference(parsed).String(), nil
}

// mergeHeaders merges defaults into req without overwriting names req
// already sets.
func mergeHeaders(defaults, req Headers) Headers {
	merged := req.Clone()
	for _, name := range defaults.Names() {
		if _, ok := merged.Get(name); ok {
			continue
		}
		for _, v := range defaults.Values(name) {
			merged.Add(name, v)
		}
	}
	return merged
}
