// Package stream provides typed envelope streams: a socket plus the channel
// contract that decides which Go types may be sent, received and replied.
package stream

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/codec"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/frames"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/loop"
	"github.com/drblury/relayflow/internal/runtime/metrics"
)

// Direction selects the queues drained by Flush.
type Direction uint8

const (
	Inbound Direction = 1 << iota
	Outbound
	Both = Inbound | Outbound
)

// RecvHandler receives the envelope and the decoded payloads of one unit.
type RecvHandler func(env [][]byte, msgs []any)

// RawRecvHandler receives an inbound unit undecoded.
type RawRecvHandler func(parts [][]byte)

// SendHandler is told about every unit written to the socket.
type SendHandler func(parts [][]byte, err error)

// Conn is the socket side of a stream.
type Conn interface {
	Send(parts [][]byte) error
	Close() error
}

type outbound struct {
	parts [][]byte
	kind  string
}

// Stream is a typed envelope stream. With a loop, inbound units are handled
// and outbound units are written on the loop goroutine. Without one, sends
// are written on the caller's goroutine and inbound units wait for Flush.
type Stream struct {
	spec    channels.Spec
	ep      address.Endpoint
	loop    *loop.Loop
	logger  logging.ServiceLogger
	metrics *metrics.Metrics

	mu        sync.Mutex
	conn      Conn
	recv      RecvHandler
	raw       RawRecvHandler
	onSend    SendHandler
	inbox     [][][]byte
	outbox    []outbound
	inQueued  bool
	outQueued bool
	closed    bool
}

// New wraps conn. lp may be nil.
func New(spec channels.Spec, ep address.Endpoint, conn Conn, lp *loop.Loop, logger logging.ServiceLogger, m *metrics.Metrics) *Stream {
	s := newStream(spec, ep, lp, logger, m)
	s.attach(conn)
	return s
}

func newStream(spec channels.Spec, ep address.Endpoint, lp *loop.Loop, logger logging.ServiceLogger, m *metrics.Metrics) *Stream {
	return &Stream{
		spec:    spec,
		ep:      ep,
		loop:    lp,
		logger:  logging.OrNop(logger).With(logging.LogFields{"channel": spec.Name}),
		metrics: m,
	}
}

// attach sets the connection and schedules units that arrived while the
// socket was being opened.
func (s *Stream) attach(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	schedule := s.loop != nil && len(s.inbox) > 0 && !s.inQueued
	if schedule {
		s.inQueued = true
	}
	s.mu.Unlock()
	if schedule {
		s.loop.AddCallback(s.drainIn)
	}
}

// Spec returns the channel contract.
func (s *Stream) Spec() channels.Spec { return s.spec }

// Endpoint returns the endpoint the stream's socket uses.
func (s *Stream) Endpoint() address.Endpoint { return s.ep }

// Identity returns the routing identity of a dealer stream, or nil.
func (s *Stream) Identity() []byte {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if c, ok := conn.(interface{ Identity() []byte }); ok {
		return c.Identity()
	}
	return nil
}

// OnRecv installs the typed receive handler, replacing any raw handler. nil
// disables receiving.
func (s *Stream) OnRecv(h RecvHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = h
	s.raw = nil
}

// OnRecvRaw installs a handler that receives units undecoded, replacing any
// typed handler.
func (s *Stream) OnRecvRaw(h RawRecvHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = h
	s.recv = nil
}

// OnSend installs the send handler. nil disables it.
func (s *Stream) OnSend(h SendHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSend = h
}

// Send writes msg with no envelope. msg must have the channel's send type.
func (s *Stream) Send(msg any) error {
	return s.write(nil, frames.Deliver, msg, s.spec.SendType)
}

// SendTo writes msg with the given envelope in front. msg must have the
// channel's send type.
func (s *Stream) SendTo(env [][]byte, msg any) error {
	return s.write(env, frames.Deliver, msg, s.spec.SendType)
}

// Reply writes msg back along env. msg must have the channel's reply type.
func (s *Stream) Reply(env [][]byte, msg any) error {
	return s.write(env, frames.Reply, msg, s.spec.ReplyType)
}

// SendRaw writes parts unchanged.
func (s *Stream) SendRaw(parts [][]byte) error {
	return s.enqueue(outbound{parts: parts, kind: "raw"})
}

func (s *Stream) write(env [][]byte, tag frames.Tag, msg any, want reflect.Type) error {
	if got := reflect.TypeOf(msg); got != want {
		return &rferrors.TypeMismatchError{Channel: s.spec.Name, Want: want, Got: got}
	}
	payload, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %v for %s: %w", want, s.spec.Name, err)
	}
	unit := frames.Unit{
		Envelope: frames.CopyEnvelope(env),
		Tag:      tag,
		Payloads: [][]byte{payload},
	}
	return s.enqueue(outbound{parts: unit.Frames(), kind: tag.String()})
}

func (s *Stream) enqueue(out outbound) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return rferrors.ErrStreamClosed
	}
	if s.loop == nil {
		s.mu.Unlock()
		return s.transmit(out)
	}
	s.outbox = append(s.outbox, out)
	schedule := !s.outQueued
	s.outQueued = true
	s.mu.Unlock()
	if schedule {
		s.loop.AddCallback(s.drainOut)
	}
	return nil
}

func (s *Stream) transmit(out outbound) error {
	s.mu.Lock()
	conn, onSend := s.conn, s.onSend
	s.mu.Unlock()

	var err error
	if conn == nil {
		err = rferrors.ErrStreamClosed
	} else {
		err = conn.Send(out.parts)
	}
	if err != nil {
		s.logger.Error("Failed to write unit", err, logging.LogFields{"kind": out.kind})
		s.metrics.RecordDropped(s.spec.Name, "send_failed")
	} else {
		s.metrics.RecordSent(s.spec.Name, out.kind)
	}
	if onSend != nil {
		onSend(out.parts, err)
	}
	return err
}

func (s *Stream) drainOut() {
	s.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	s.outQueued = false
	s.mu.Unlock()
	for _, out := range batch {
		_ = s.transmit(out)
	}
}

// Deliver hands an inbound unit to the stream. Sockets call it from their
// reader goroutine.
func (s *Stream) Deliver(parts [][]byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.RecordDropped(s.spec.Name, "closed")
		return
	}
	s.inbox = append(s.inbox, parts)
	schedule := s.loop != nil && s.conn != nil && !s.inQueued
	if schedule {
		s.inQueued = true
	}
	s.mu.Unlock()
	if schedule {
		s.loop.AddCallback(s.drainIn)
	}
}

func (s *Stream) drainIn() {
	s.mu.Lock()
	batch := s.inbox
	s.inbox = nil
	s.inQueued = false
	s.mu.Unlock()
	for _, parts := range batch {
		s.handle(parts)
	}
}

func (s *Stream) handle(parts [][]byte) {
	s.mu.Lock()
	recv, raw := s.recv, s.raw
	s.mu.Unlock()

	if raw != nil {
		s.metrics.RecordReceived(s.spec.Name, "raw")
		raw(parts)
		return
	}
	if recv == nil {
		s.logger.Debug("No receive handler, dropping unit", nil)
		s.metrics.RecordDropped(s.spec.Name, "no_handler")
		return
	}

	unit, err := frames.Split(parts)
	if err != nil {
		s.logger.Error("Dropping malformed unit", err, logging.LogFields{"frames": len(parts)})
		s.metrics.RecordDropped(s.spec.Name, "malformed")
		return
	}
	typ := s.spec.RecvType
	if unit.Tag == frames.Reply {
		typ = s.spec.ReplyType
	}

	msgs := make([]any, 0, len(unit.Payloads))
	for i, payload := range unit.Payloads {
		m, err := codec.Unmarshal(payload, typ)
		if err != nil {
			s.logger.Error("Skipping undecodable payload", err, logging.LogFields{"index": i, "type": fmt.Sprint(typ)})
			s.metrics.RecordDecodeFailure(s.spec.Name)
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return
	}
	s.metrics.RecordReceived(s.spec.Name, unit.Tag.String())
	recv(unit.Envelope, msgs)
}

// Flush synchronously handles queued inbound units and writes queued
// outbound units, at most limit in total (0 means no limit). It returns the
// number processed.
func (s *Stream) Flush(dir Direction, limit int) int {
	n := 0
	if dir&Inbound != 0 {
		for _, parts := range s.take(&s.inbox, remaining(limit, n)) {
			s.handle(parts)
			n++
		}
	}
	if dir&Outbound != 0 {
		s.mu.Lock()
		quota := remaining(limit, n)
		if quota < 0 || quota > len(s.outbox) {
			quota = len(s.outbox)
		}
		batch := s.outbox[:quota:quota]
		s.outbox = s.outbox[quota:]
		s.mu.Unlock()
		for _, out := range batch {
			_ = s.transmit(out)
			n++
		}
	}
	return n
}

// remaining returns how many more items may be processed, or -1 for no limit.
func remaining(limit, done int) int {
	if limit <= 0 {
		return -1
	}
	if done >= limit {
		return 0
	}
	return limit - done
}

func (s *Stream) take(queue *[][][]byte, quota int) [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quota < 0 || quota > len(*queue) {
		quota = len(*queue)
	}
	batch := (*queue)[:quota:quota]
	*queue = (*queue)[quota:]
	return batch
}

// Close writes any queued outbound units and releases the socket. Only the
// first call has an effect; later sends return ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.outbox
	s.outbox = nil
	s.inbox = nil
	s.mu.Unlock()

	for _, out := range pending {
		_ = s.transmit(out)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Typed adapts a handler over one message type. Payloads of other types are
// skipped.
func Typed[T any](h func(env [][]byte, msgs []T)) RecvHandler {
	return func(env [][]byte, msgs []any) {
		typed := make([]T, 0, len(msgs))
		for _, m := range msgs {
			if t, ok := m.(T); ok {
				typed = append(typed, t)
			}
		}
		if len(typed) > 0 {
			h(env, typed)
		}
	}
}
