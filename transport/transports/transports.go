// Package transports registers every built-in broker transport with the
// default registry.
package transports

import (
	"sync"

	"github.com/drblury/taskflow/transport/channel"
	"github.com/drblury/taskflow/transport/kafka"
	"github.com/drblury/taskflow/transport/nats"
	"github.com/drblury/taskflow/transport/rabbitmq"
)

var once sync.Once

// RegisterAll registers kafka, rabbitmq, nats and channel. Safe to call more
// than once.
func RegisterAll() {
	once.Do(func() {
		kafka.Register()
		rabbitmq.Register()
		nats.Register()
		channel.Register()
	})
}
