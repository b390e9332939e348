package broker

import (
	"context"
	"sync"
)

// MemBroker is an in-process Broker, handy for tests and single-binary setups.
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	// held while sending so Subscribe cannot close a channel under us
	b.mu.RLock()
	defer b.mu.RUnlock()

	// slow subscribers lose messages
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel fed with messages for topics until ctx ends.
func (b *MemBroker) Subscribe(ctx context.Context, topics []string) <-chan Message {
	ch := make(chan Message, 64)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			b.subs[t] = removeChan(b.subs[t], ch)
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *MemBroker) Close() error { return nil }

func removeChan(list []chan Message, ch chan Message) []chan Message {
	out := list[:0]
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}
