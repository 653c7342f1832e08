package transport

// Capabilities describes what a backend guarantees to the sockets built on it.
type Capabilities struct {
	// SupportsOrdering indicates messages from one publisher on one topic
	// arrive in publish order.
	SupportsOrdering bool

	// SupportsFanOut indicates every subscriber of a topic receives every message.
	SupportsFanOut bool

	// CrossProcess indicates publishers and subscribers may live in different processes.
	CrossProcess bool

	// CrossHost indicates publishers and subscribers may live on different hosts.
	CrossHost bool

	// SupportsAck indicates the transport waits for the subscriber's ack.
	SupportsAck bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsRouting reports whether request/reply sockets can run over the
// backend: replies must arrive in order at exactly the subscribed peer.
func (c Capabilities) SupportsRouting() bool {
	return c.SupportsOrdering && c.SupportsFanOut
}

// Predefined capability sets for the built-in transports.
var (
	InprocCapabilities = Capabilities{
		Name:             "inproc",
		SupportsOrdering: true,
		SupportsFanOut:   true,
		SupportsAck:      true,
	}

	FileLogCapabilities = Capabilities{
		Name:             "filelog",
		SupportsOrdering: true,
		SupportsFanOut:   true,
		CrossProcess:     true,
	}

	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		SupportsFanOut:   true,
		CrossProcess:     true,
		CrossHost:        true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsFanOut:   true,
		CrossProcess:     true,
		CrossHost:        true,
		SupportsAck:      true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsFanOut:   true,
		CrossProcess:     true,
		CrossHost:        true,
		SupportsAck:      true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
