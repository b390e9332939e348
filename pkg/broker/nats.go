package broker

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
)

type NatsBroker struct {
	nc     *nats.Conn
	prefix string
}

// NewNatsBroker connects to url. prefix is prepended to every subject, e.g.
// "beacon-oracle" turns topic "anchor:submitted" into "beacon-oracle.anchor.submitted".
func NewNatsBroker(url, prefix string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc, prefix: prefix}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(b.subject(topic), payload)
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
	return nil
}

func (b *NatsBroker) subject(topic string) string {
	subj := topicToSubject(topic)
	if b.prefix == "" {
		return subj
	}
	return b.prefix + "." + subj
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
