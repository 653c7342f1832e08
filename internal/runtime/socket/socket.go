// Package socket implements the four messaging roles over watermill
// transports.
//
// A PUB socket publishes to the endpoint topic and a SUB socket receives
// everything published there. A DEALER publishes to the endpoint topic with
// its identity in the message metadata and receives on its private peer
// topic. A ROUTER receives on the endpoint topic, prepends the sender's
// identity to every inbound frame list, and sends by popping the leading
// identity frame and publishing to that peer's topic.
package socket

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/internal/runtime/address"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/frames"
	"github.com/drblury/relayflow/internal/runtime/ids"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/transport"
)

// Role is the messaging pattern of a socket.
type Role int

const (
	Pub Role = iota + 1
	Sub
	Router
	Dealer
)

func (r Role) String() string {
	switch r {
	case Pub:
		return "PUB"
	case Sub:
		return "SUB"
	case Router:
		return "ROUTER"
	case Dealer:
		return "DEALER"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func (r Role) receives() bool {
	return r == Sub || r == Router || r == Dealer
}

// peerSeparator joins an endpoint topic and a dealer identity into the topic
// the router replies on.
const peerSeparator = ".peer."

// PeerTopic is the topic a dealer with identity id receives on.
func PeerTopic(ep address.Endpoint, id []byte) string {
	return ep.Topic() + peerSeparator + string(id)
}

// Handler receives the frames of one inbound wire unit. It runs on the
// socket's reader goroutine and must not block.
type Handler func(parts [][]byte)

// Options configure Open.
type Options struct {
	// Bind claims the endpoint exclusively in the hub.
	Bind bool
	// Identity is the dealer identity. A fresh ULID is used when empty.
	Identity []byte
	Logger   logging.ServiceLogger
}

// Socket is one open role on one endpoint.
type Socket struct {
	role     Role
	ep       address.Endpoint
	hub      *Hub
	pub      message.Publisher
	identity []byte
	bound    bool
	logger   logging.ServiceLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open creates a socket and, for receiving roles, subscribes before
// returning so no unit published afterwards is missed. handler may be nil for
// PUB sockets.
func Open(ctx context.Context, hub *Hub, role Role, ep address.Endpoint, handler Handler, opts Options) (*Socket, error) {
	if role < Pub || role > Dealer {
		return nil, fmt.Errorf("relayflow: unknown socket role %d", int(role))
	}
	if role.receives() && handler == nil {
		return nil, fmt.Errorf("relayflow: %s socket on %s needs a handler", role, ep)
	}

	tr, err := hub.Transport(ctx, ep)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		role: role,
		ep:   ep,
		hub:  hub,
		pub:  tr.Publisher,
	}
	if role == Dealer {
		s.identity = bytes.Clone(opts.Identity)
		if len(s.identity) == 0 {
			s.identity = ids.NewIdentity()
		}
		if !validIdentity(s.identity) {
			return nil, fmt.Errorf("relayflow: invalid dealer identity %q", s.identity)
		}
	}
	s.logger = logging.OrNop(opts.Logger).With(logging.LogFields{
		"role":     role.String(),
		"endpoint": ep.URL(),
	})

	if opts.Bind {
		if err := hub.Bind(ep); err != nil {
			return nil, err
		}
		s.bound = true
	}

	if role.receives() {
		topic := ep.Topic()
		if role == Dealer {
			topic = PeerTopic(ep, s.identity)
		}
		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		msgs, err := tr.Subscriber.Subscribe(subCtx, topic)
		if err != nil {
			cancel()
			s.release()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.cancel = cancel
		s.wg.Add(1)
		go s.read(subCtx, msgs, handler)
	}

	s.logger.Debug("Socket opened", logging.LogFields{"bind": opts.Bind})
	return s, nil
}

func validIdentity(id []byte) bool {
	return len(id) > 0 && !bytes.ContainsAny(id, `/\ `) && !bytes.Contains(id, []byte(peerSeparator))
}

func (s *Socket) read(ctx context.Context, msgs <-chan *message.Message, handler Handler) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Backends close the channel once the subscription has released
			// its resources; Close returns only after that.
			for m := range msgs {
				m.Ack()
			}
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			s.deliver(m, handler)
			m.Ack()
		}
	}
}

func (s *Socket) deliver(m *message.Message, handler Handler) {
	parts, err := frames.Decode(m.Payload)
	if err != nil {
		s.logger.Error("Dropping undecodable transport message", err, logging.LogFields{"message_uuid": m.UUID})
		return
	}
	if s.role == Router {
		sender := m.Metadata.Get(transport.MetadataSender)
		if sender == "" {
			s.logger.Info("Dropping message without sender identity", logging.LogFields{"message_uuid": m.UUID})
			return
		}
		parts = append([][]byte{[]byte(sender)}, parts...)
	}
	handler(parts)
}

// Send writes one multipart unit according to the socket role.
func (s *Socket) Send(parts [][]byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rferrors.ErrStreamClosed
	}

	switch s.role {
	case Pub:
		return s.publish(s.ep.Topic(), parts, nil)
	case Dealer:
		return s.publish(s.ep.Topic(), parts, s.identity)
	case Router:
		if len(parts) == 0 || !validIdentity(parts[0]) {
			return rferrors.ErrUnroutable
		}
		return s.publish(PeerTopic(s.ep, parts[0]), parts[1:], nil)
	default:
		return fmt.Errorf("%w: %s", rferrors.ErrSendUnsupported, s.role)
	}
}

func (s *Socket) publish(topic string, parts [][]byte, sender []byte) error {
	m := message.NewMessage(ids.CreateULID(), frames.Encode(parts))
	if sender != nil {
		m.Metadata.Set(transport.MetadataSender, string(sender))
	}
	if err := s.pub.Publish(topic, m); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Role returns the socket role.
func (s *Socket) Role() Role { return s.role }

// Endpoint returns the endpoint the socket is bound or connected to.
func (s *Socket) Endpoint() address.Endpoint { return s.ep }

// Identity returns the dealer identity, or nil for other roles.
func (s *Socket) Identity() []byte { return bytes.Clone(s.identity) }

// Close stops receiving and releases a bound endpoint. Only the first call
// has an effect.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.release()
	s.logger.Debug("Socket closed", nil)
	return nil
}

func (s *Socket) release() {
	if s.bound {
		s.hub.Unbind(s.ep)
		s.bound = false
	}
}
