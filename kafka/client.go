package kafka

import (
	"context"
)

type Client interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
}

type Producer interface {
	// Send enqueues a record for delivery. It returns ErrQueueFull when the
	// local send queue cannot accept the record right now; callers may retry.
	// Any other error is not retriable.
	Send(ctx context.Context, topic string, key, value []byte, headers []Header) error
	Flush(ctx context.Context) error
	Close()
}

type Consumer interface {
	Subscribe(topics []string, rebalanceCb RebalanceCallback) error
	Poll(ctx context.Context) ([]ConsumerRecord, error)
	// MarkOffset records the offset a restart should resume from for tp.
	// Marked offsets are persisted by Commit or by the client's auto commit.
	MarkOffset(tp TopicPartition, offset Offset) error
	Commit(ctx context.Context) error
	Close()
}

type RebalanceCallback interface {
	OnAssigned(ctx context.Context, partitions []TopicPartition)
	OnRevoked(ctx context.Context, partitions []TopicPartition)
}
