// Package nats provides the NATS Core transport used for tcp endpoints. The
// endpoint's host and port address the NATS server.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/relayflow/transport"
)

// TransportName is the backend name the socket hub resolves.
const TransportName = "nats"

// PublisherFactory is swapped out by tests.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory is swapped out by tests.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the backend to transport.DefaultRegistry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a NATS transport connected to addr (host:port). Subscriptions
// use no queue group so every subscriber of a subject receives every message,
// and a single handler goroutine per subscription keeps delivery ordered.
func Build(ctx context.Context, cfg transport.Config, addr string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if addr == "" {
		return transport.Transport{}, errors.New("nats: server address is required")
	}
	url := "nats://" + addr
	marshaler := &nats.NATSMarshaler{}
	options := connectOptions(logger)

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			SubscribersCount: 1,
			CloseTimeout:     5 * time.Second,
			SubscribeTimeout: 10 * time.Second,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			JetStream:        nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func connectOptions(logger watermill.LoggerAdapter) []nc.Option {
	return []nc.Option{
		nc.Name("relayflow"),
		nc.Timeout(10 * time.Second),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(60),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": conn.ConnectedUrl()})
		}),
	}
}

// Capabilities reports the guarantees sockets can rely on over this backend.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
