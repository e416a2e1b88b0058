package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config dials the log bus, mirroring the connection options the
// teacher's event subscriber sets up (name tag, unbounded reconnect,
// optional credentials).
type Config struct {
	URL      string
	User     string
	Password string
}

// NATSBus is the Bus adapter backed by NATS JetStream. JetStream is used
// rather than core NATS pub/sub (which the teacher's own event subscriber
// uses) because the delivery semantics spec.md asks for — manual offset
// commit, per-key ordering, at-least-once redelivery — need a persistent,
// ack-tracked log, which only the JetStream layer of this same module
// provides.
type NATSBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNATSBus connects to the log bus and obtains a JetStream context.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("rtcmesh"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	return &NATSBus{conn: conn, js: js}, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// ensureStream lazily creates a single-subject stream per topic, matching
// spec.md §4.4's "created lazily on first start of the node".
func (b *NATSBus) ensureStream(topic string) error {
	_, err := b.js.StreamInfo(topic)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     topic,
		Subjects: []string{topic},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return err
	}
	return nil
}

func (b *NATSBus) Produce(ctx context.Context, topic, key string, value []byte) error {
	if err := b.ensureStream(topic); err != nil {
		return fmt.Errorf("bus: ensure stream %s: %w", topic, err)
	}

	msg := nats.NewMsg(topic)
	msg.Header.Set("Rtcmesh-Key", key)
	msg.Data = value

	_, err := b.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("bus: produce %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic, groupID string, handler func(Record)) error {
	if err := b.ensureStream(topic); err != nil {
		return fmt.Errorf("bus: ensure stream %s: %w", topic, err)
	}

	sub, err := b.js.PullSubscribe(topic, groupID, nats.ManualAck())
	if err != nil {
		return fmt.Errorf("bus: pull subscribe %s/%s: %w", topic, groupID, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return fmt.Errorf("bus: fetch %s/%s: %w", topic, groupID, err)
		}

		for _, m := range msgs {
			rec := Record{
				Key:   m.Header.Get("Rtcmesh-Key"),
				Value: m.Data,
				ack:   m.Ack,
			}
			handler(rec)
		}
	}
}
