// Package client submits provider requests from a front-end process. A
// Requester talks to the in-process end of a LocalRequestProxy and waits
// for the single terminal reply, passing progress replies to a callback.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/ids"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/msg"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("relayflow: requester is closed")

// ProviderError is returned by Do when the provider answers with an error
// state.
type ProviderError struct {
	Service string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("relayflow: %s: %s", e.Service, e.Message)
}

// ProgressFunc receives every non-terminal reply of a request.
type ProgressFunc func(resp *msg.ProviderResponse)

// Requester runs one request at a time over a DEALER on /request/local.
// Do blocks until the reply arrives, so it must not be called from the
// loop goroutine.
//
// Every request gets a fresh RequestID. Replies carrying another id are
// dropped, which covers both replies to abandoned calls and the extra
// terminal replies sent when several providers serve one request.
type Requester struct {
	stream *stream.Stream
	logger logging.ServiceLogger

	// call serialises Do.
	call sync.Mutex

	mu      sync.Mutex
	pending string
	queue   []*msg.ProviderResponse
	ready   chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

// NewRequester connects to /request/local over inproc. opts are applied
// after the defaults.
func NewRequester(ctx context.Context, streams *stream.Factory, opts ...stream.Option) (*Requester, error) {
	r := &Requester{
		logger: logging.OrNop(streams.Logger).With(logging.LogFields{"component": "requester"}),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	base := []stream.Option{
		stream.WithTransport(address.Inproc),
		stream.WithRecv(stream.Typed(r.onReply)),
	}
	s, err := streams.DealerStream(ctx, channels.RequestLocal, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	r.stream = s
	return r, nil
}

// onReply runs on the loop. Replies of the pending request are queued
// without bound so the loop never waits on a slow caller.
func (r *Requester) onReply(_ [][]byte, resps []*msg.ProviderResponse) {
	r.mu.Lock()
	queued := 0
	for _, resp := range resps {
		if r.pending == "" || resp.RequestID != r.pending {
			r.logger.Debug("Discarding stale reply", logging.LogFields{
				"service":    resp.ServiceName,
				"request_id": resp.RequestID,
			})
			continue
		}
		r.queue = append(r.queue, resp)
		queued++
	}
	r.mu.Unlock()
	if queued == 0 {
		return
	}
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// begin makes id the only request whose replies are kept.
func (r *Requester) begin(id string) {
	r.mu.Lock()
	r.pending = id
	clear(r.queue)
	r.queue = r.queue[:0]
	r.mu.Unlock()
}

func (r *Requester) next(ctx context.Context) (*msg.ProviderResponse, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			resp := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return resp, nil
		}
		r.mu.Unlock()

		select {
		case <-r.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.closed:
			return nil, ErrClosed
		}
	}
}

// Do sends req and returns its first terminal reply. progress may be nil. A
// terminal error state is returned together with a *ProviderError. req is
// not modified; the request on the wire carries a new RequestID.
//
// When ctx ends first the request is abandoned and its late replies are
// discarded.
func (r *Requester) Do(ctx context.Context, req *msg.ProviderRequest, progress ProgressFunc) (*msg.ProviderResponse, error) {
	r.call.Lock()
	defer r.call.Unlock()

	select {
	case <-r.closed:
		return nil, ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := *req
	out.RequestID = ids.CreateULID()
	r.begin(out.RequestID)
	defer r.begin("")

	if err := r.stream.Send(&out); err != nil {
		return nil, err
	}

	for {
		resp, err := r.next(ctx)
		if err != nil {
			return nil, err
		}
		if resp.State != nil && !resp.State.StateID.Terminal() {
			if progress != nil {
				progress(resp)
			}
			continue
		}
		if resp.State != nil && resp.State.StateID == msg.StateError {
			return resp, &ProviderError{Service: resp.ServiceName, Message: resp.State.Error}
		}
		return resp, nil
	}
}

// Close releases the stream and fails pending and future calls.
func (r *Requester) Close() error {
	var err error
	r.closeMu.Do(func() {
		close(r.closed)
		err = r.stream.Close()
	})
	return err
}
