// Package bus defines the out-of-scope log bus collaborator (per-node
// inbound delivery topics plus the single-partition control topic) and its
// concrete adapters.
package bus

import "context"

// Topic naming, fixed by spec.md §6.
const (
	ControlRingTopic  = "rtc.control.ring"
	ControlScaleTopic = "rtc.control.scale"
	ControlDrainTopic = "rtc.control.drain"
)

// DeliveryTopic returns the per-node inbound topic name for nodeID.
func DeliveryTopic(nodeID string) string {
	return "delivery_node_" + nodeID
}

// ConsumerGroup returns the delivery consumer group name for nodeID.
func ConsumerGroup(nodeID string) string {
	return "socket-delivery-" + nodeID
}

// Record is one message read off a subscription, carrying enough to
// support manual offset commit.
type Record struct {
	Key   string
	Value []byte
	ack   func() error
}

// Ack commits this record's offset. Consumers must call Ack exactly once
// per record, after processing succeeds (or after a poison record is
// deliberately skipped).
func (r Record) Ack() error {
	if r.ack == nil {
		return nil
	}
	return r.ack()
}

// Bus is the minimal log-bus surface the relay router and control plane
// need: keyed produce to a named topic, and a pull-style subscription with
// manual offset commit per record.
type Bus interface {
	// Produce publishes value to topic with the given partition key,
	// under an idempotent producer with unbounded retry/backoff.
	Produce(ctx context.Context, topic, key string, value []byte) error

	// Subscribe starts a consumer for topic under groupID and invokes
	// handler for every record, sequentially, honoring manual commit
	// (handler is responsible for calling Record.Ack()). Subscribe blocks
	// until ctx is canceled.
	Subscribe(ctx context.Context, topic, groupID string, handler func(Record)) error

	// Close releases the underlying connection.
	Close() error
}
