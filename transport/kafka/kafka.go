// Package kafka provides a Kafka transport for tcp endpoints. The endpoint's
// host and port address the bootstrap broker.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// TransportName is the backend name the socket hub resolves.
const TransportName = "kafka"

// PublisherFactory is swapped out by tests.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory is swapped out by tests.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Register adds the backend to transport.DefaultRegistry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// partitionByTopic keys every message of a topic alike so they land on one
// partition and keep their order.
func partitionByTopic(topic string, _ *message.Message) (string, error) {
	return topic, nil
}

// Build creates a Kafka transport. Subscribers join no consumer group, so each
// one reads every partition, and they start at the newest offset.
func Build(ctx context.Context, cfg transport.Config, addr string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if addr == "" {
		return transport.Transport{}, errors.New("kafka: broker address is required")
	}
	brokers := []string{addr}
	marshaler := kafka.NewWithPartitioningMarshaler(partitionByTopic)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: saramaCfg,
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

// Capabilities reports the guarantees sockets can rely on over this backend.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
