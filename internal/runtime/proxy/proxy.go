// Package proxy forwards wire units between streams without decoding them.
package proxy

import (
	"context"
	"errors"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/metrics"
	"github.com/drblury/relayflow/internal/runtime/stream"
)

// Route labels used in forward metrics.
const (
	RouteRequest = "request"
	RouteResult  = "result"
)

// Endpoint selects the transport of one side of a proxy. A zero value uses
// the factory default.
type Endpoint struct {
	Kind address.Kind
	Host string
	Port int
}

func (e Endpoint) options() []stream.Option {
	var opts []stream.Option
	if e.Kind != "" {
		opts = append(opts, stream.WithTransport(e.Kind))
	}
	if e.Host != "" || e.Port != 0 {
		opts = append(opts, stream.WithHostPort(e.Host, e.Port))
	}
	return opts
}

type forwarder struct {
	name    string
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
}

// forward queues parts on dst. Write failures are reported through the
// destination's send handler.
func (f forwarder) forward(dst *stream.Stream, route string) stream.RawRecvHandler {
	return func(parts [][]byte) {
		err := dst.SendRaw(parts)
		if err == nil {
			return
		}
		f.logger.Error("Forward failed, dropping unit", err, logging.LogFields{"route": route})
		if errors.Is(err, rferrors.ErrStreamClosed) {
			f.metrics.RecordForward(f.name, route, err)
		}
	}
}

func (f forwarder) record(route string) stream.SendHandler {
	return func(_ [][]byte, err error) {
		f.metrics.RecordForward(f.name, route, err)
		if err != nil {
			f.logger.Error("Forward write failed, unit dropped", err, logging.LogFields{"route": route})
		}
	}
}

func closeAll(streams ...*stream.Stream) error {
	var errs []error
	for _, s := range streams {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

// RequestProxy accepts requests on a ROUTER front door, broadcasts them to
// every worker on /request/do_work, and routes results collected on
// /request/result back through the front door. The front door router pops
// the leading identity of each result to address its requestor.
type RequestProxy struct {
	front     *stream.Stream
	broadcast *stream.Stream
	collect   *stream.Stream
	logger    logging.ServiceLogger
}

// RequestProxyOptions configure NewRequestProxy.
type RequestProxyOptions struct {
	// Front is the transport requestors connect to.
	Front Endpoint
	// Back is the transport workers connect to.
	Back Endpoint
}

// NewRequestProxy binds the three streams. Any failure closes what was
// already opened and is returned.
func NewRequestProxy(ctx context.Context, f *stream.Factory, opts RequestProxyOptions) (*RequestProxy, error) {
	logger := logging.OrNop(f.Logger).With(logging.LogFields{"proxy": "request"})
	fw := forwarder{name: "request", logger: logger, metrics: f.Metrics}
	p := &RequestProxy{logger: logger}

	var err error
	p.broadcast, err = f.PubStream(ctx, channels.RequestDoWork,
		append(opts.Back.options(), stream.WithSend(fw.record(RouteRequest)))...)
	if err != nil {
		return nil, err
	}
	p.collect, err = f.SubStream(ctx, channels.RequestResult,
		append(opts.Back.options(), stream.Bind())...)
	if err != nil {
		_ = closeAll(p.broadcast)
		return nil, err
	}
	p.front, err = f.RouterStream(ctx, channels.RequestRequest,
		append(opts.Front.options(), stream.WithSend(fw.record(RouteResult)))...)
	if err != nil {
		_ = closeAll(p.broadcast, p.collect)
		return nil, err
	}

	p.front.OnRecvRaw(fw.forward(p.broadcast, RouteRequest))
	p.collect.OnRecvRaw(fw.forward(p.front, RouteResult))

	logger.Info("Request proxy started", logging.LogFields{
		"front":   p.front.Endpoint().URL(),
		"do_work": p.broadcast.Endpoint().URL(),
		"result":  p.collect.Endpoint().URL(),
	})
	return p, nil
}

// Close closes all streams.
func (p *RequestProxy) Close() error {
	return closeAll(p.front, p.broadcast, p.collect)
}

// LocalRequestProxy bridges an in-process ROUTER on /request/local to a
// DEALER connected to /request/request, so a process can submit work
// without a public endpoint of its own.
type LocalRequestProxy struct {
	local    *stream.Stream
	upstream *stream.Stream
}

// LocalRequestProxyOptions configure NewLocalRequestProxy.
type LocalRequestProxyOptions struct {
	// Upstream is the transport of the request proxy's front door.
	Upstream Endpoint
}

// NewLocalRequestProxy binds /request/local over inproc and connects to the
// request proxy.
func NewLocalRequestProxy(ctx context.Context, f *stream.Factory, opts LocalRequestProxyOptions) (*LocalRequestProxy, error) {
	logger := logging.OrNop(f.Logger).With(logging.LogFields{"proxy": "local_request"})
	fw := forwarder{name: "local_request", logger: logger, metrics: f.Metrics}
	p := &LocalRequestProxy{}

	var err error
	p.upstream, err = f.DealerStream(ctx, channels.RequestRequest,
		append(opts.Upstream.options(), stream.WithSend(fw.record(RouteRequest)))...)
	if err != nil {
		return nil, err
	}
	p.local, err = f.RouterStream(ctx, channels.RequestLocal,
		stream.WithTransport(address.Inproc), stream.WithSend(fw.record(RouteResult)))
	if err != nil {
		_ = closeAll(p.upstream)
		return nil, err
	}

	p.local.OnRecvRaw(fw.forward(p.upstream, RouteRequest))
	p.upstream.OnRecvRaw(fw.forward(p.local, RouteResult))

	logger.Info("Local request proxy started", logging.LogFields{
		"local":    p.local.Endpoint().URL(),
		"upstream": p.upstream.Endpoint().URL(),
	})
	return p, nil
}

// Close closes both streams.
func (p *LocalRequestProxy) Close() error {
	return closeAll(p.local, p.upstream)
}
