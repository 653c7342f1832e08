// Package rabbitmq provides a RabbitMQ/AMQP transport for tcp endpoints. The
// endpoint's host and port address the broker.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/internal/runtime/ids"
	"github.com/drblury/relayflow/transport"
)

// TransportName is the backend name the socket hub resolves.
const TransportName = "rabbitmq"

// ConnectionFactory dials the broker. Tests replace it.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory is swapped out by tests.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory is swapped out by tests.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// Register adds the backend to transport.DefaultRegistry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// URI builds the AMQP URI for addr with the configured credentials.
func URI(cfg transport.Config, addr string) string {
	u := url.URL{Scheme: "amqp", Host: addr, Path: "/"}
	if user := cfg.GetAMQPUser(); user != "" {
		u.User = url.UserPassword(user, cfg.GetAMQPPassword())
	}
	return u.String()
}

// Build creates a RabbitMQ transport. Every transport instance gets its own
// queue per topic, bound to the topic's fanout exchange, so each process
// receives every message published on a topic.
func Build(ctx context.Context, cfg transport.Config, addr string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if addr == "" {
		return transport.Transport{}, errors.New("rabbitmq: broker address is required")
	}
	uri := URI(cfg, addr)

	amqpConfig := amqp.NewNonDurablePubSubConfig(
		uri,
		amqp.GenerateQueueNameTopicNameWithSuffix(ids.CreateULID()),
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: connect %s: %w", addr, err)
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities reports the guarantees sockets can rely on over this backend.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
