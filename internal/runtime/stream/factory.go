package stream

import (
	"context"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/loop"
	"github.com/drblury/relayflow/internal/runtime/metrics"
	"github.com/drblury/relayflow/internal/runtime/socket"
)

// Factory opens streams by channel name. It carries the process-wide
// registry, resolver, hub and loop so callers only name the channel.
type Factory struct {
	Registry *channels.Registry
	Resolver address.Resolver
	Hub      *socket.Hub
	Loop     *loop.Loop
	Logger   logging.ServiceLogger
	Metrics  *metrics.Metrics
	// DefaultKind is used when no WithTransport option is given.
	DefaultKind address.Kind
}

type options struct {
	kind     address.Kind
	host     string
	port     int
	bind     *bool
	noLoop   bool
	identity []byte
	recv     RecvHandler
	raw      RawRecvHandler
	send     SendHandler
}

// Option configures one stream.
type Option func(*options)

// WithTransport selects the transport kind.
func WithTransport(kind address.Kind) Option {
	return func(o *options) { o.kind = kind }
}

// WithHostPort sets the address of a tcp endpoint.
func WithHostPort(host string, port int) Option {
	return func(o *options) {
		o.host = host
		o.port = port
	}
}

// Bind makes the stream bind its endpoint instead of connecting.
func Bind() Option {
	return func(o *options) {
		b := true
		o.bind = &b
	}
}

// Connect makes the stream connect to its endpoint instead of binding.
func Connect() Option {
	return func(o *options) {
		b := false
		o.bind = &b
	}
}

// WithoutLoop writes sends on the caller's goroutine. Worker-side progress
// reporters use it.
func WithoutLoop() Option {
	return func(o *options) { o.noLoop = true }
}

// WithIdentity fixes the routing identity of a dealer stream.
func WithIdentity(id []byte) Option {
	return func(o *options) { o.identity = id }
}

// WithRecv installs a typed receive handler.
func WithRecv(h RecvHandler) Option {
	return func(o *options) { o.recv = h }
}

// WithRawRecv installs a raw receive handler.
func WithRawRecv(h RawRecvHandler) Option {
	return func(o *options) { o.raw = h }
}

// WithSend installs a send handler.
func WithSend(h SendHandler) Option {
	return func(o *options) { o.send = h }
}

// PubStream opens a PUB stream. It binds unless Connect is given.
func (f *Factory) PubStream(ctx context.Context, channel string, opts ...Option) (*Stream, error) {
	return f.Open(ctx, socket.Pub, channel, true, opts...)
}

// SubStream opens a SUB stream. It connects unless Bind is given.
func (f *Factory) SubStream(ctx context.Context, channel string, opts ...Option) (*Stream, error) {
	return f.Open(ctx, socket.Sub, channel, false, opts...)
}

// RouterStream opens a ROUTER stream. It binds unless Connect is given.
func (f *Factory) RouterStream(ctx context.Context, channel string, opts ...Option) (*Stream, error) {
	return f.Open(ctx, socket.Router, channel, true, opts...)
}

// DealerStream opens a DEALER stream. It connects unless Bind is given.
func (f *Factory) DealerStream(ctx context.Context, channel string, opts ...Option) (*Stream, error) {
	return f.Open(ctx, socket.Dealer, channel, false, opts...)
}

// Open looks up channel, resolves its endpoint and opens a socket of the
// given role. Unknown channels and bad transport parameters fail with a
// ChannelConfigError.
func (f *Factory) Open(ctx context.Context, role socket.Role, channel string, bindByDefault bool, opts ...Option) (*Stream, error) {
	o := options{kind: f.DefaultKind}
	if o.kind == "" {
		o.kind = address.IPC
	}
	for _, opt := range opts {
		opt(&o)
	}
	bind := bindByDefault
	if o.bind != nil {
		bind = *o.bind
	}

	spec, err := f.Registry.Lookup(channel)
	if err != nil {
		return nil, err
	}
	ep, err := f.Resolver.Resolve(spec.Name, o.kind, o.host, o.port)
	if err != nil {
		return nil, err
	}

	lp := f.Loop
	if o.noLoop {
		lp = nil
	}
	s := newStream(spec, ep, lp, f.Logger, f.Metrics)
	s.recv = o.recv
	if o.raw != nil {
		s.raw = o.raw
		s.recv = nil
	}
	s.onSend = o.send

	var handler socket.Handler
	if role != socket.Pub {
		handler = s.Deliver
	}
	sock, err := socket.Open(ctx, f.Hub, role, ep, handler, socket.Options{
		Bind:     bind,
		Identity: o.identity,
		Logger:   f.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.attach(sock)
	return s, nil
}
