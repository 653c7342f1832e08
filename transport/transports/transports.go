// Package transports registers all built-in transports with the default
// registry. Import it for side effects.
package transports

import (
	"github.com/drblury/relayflow/transport/filelog"
	"github.com/drblury/relayflow/transport/inproc"
	"github.com/drblury/relayflow/transport/kafka"
	"github.com/drblury/relayflow/transport/nats"
	"github.com/drblury/relayflow/transport/rabbitmq"
)

func init() {
	RegisterAll()
}

// RegisterAll registers every built-in transport. It is safe to call more
// than once.
func RegisterAll() {
	inproc.Register()
	filelog.Register()
	nats.Register()
	kafka.Register()
	rabbitmq.Register()
}
