package broker

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker fans operator events out to whoever listens. Delivery is at-most-once.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Nop drops everything. It is the scheduler's publisher when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
