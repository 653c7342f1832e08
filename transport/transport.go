// Package transport defines the publisher/subscriber pairs that carry wire
// units. Each backend lives in its own sub-package and registers itself with
// the transport registry; package transports imports all of them.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata keys set on transport messages.
const (
	// MetadataSender carries the identity of a dealer so the router on the
	// other side can prepend it to the envelope.
	MetadataSender = "relayflow_sender"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and the subscriber. A pub/sub implemented by one
// value is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Builder creates a transport. addr is the broker host:port for network
// backends and empty for local ones.
type Builder func(ctx context.Context, cfg Config, addr string, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	GetNetworkBackend() string
	GetRuntimeDir() string
	GetIPCPollInterval() time.Duration
	GetAMQPUser() string
	GetAMQPPassword() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
