// Package inproc provides the intra-process transport: one watermill Go
// channel pub/sub shared by every socket of a process.
package inproc

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/relayflow/transport"
)

// TransportName is the backend name the socket hub resolves.
const TransportName = "inproc"

// Factory is swapped out by tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register adds the backend to transport.DefaultRegistry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.InprocCapabilities)
}

// Build creates a Go channel transport. Publish blocks until every subscriber
// has acked, so a topic's messages are delivered in publish order.
func Build(ctx context.Context, cfg transport.Config, addr string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities reports the guarantees sockets can rely on over this backend.
func Capabilities() transport.Capabilities {
	return transport.InprocCapabilities
}
