package mockkafka

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hugolhafner/go-transformer/kafka"
)

var _ kafka.Client = (*Client)(nil)

// ProducedRecord is a record captured by Send.
type ProducedRecord = kafka.ProducerRecord

// partitionQueue holds the records of one partition and the read position
// of the next Poll.
type partitionQueue struct {
	records []kafka.ConsumerRecord
	next    int
}

func (q *partitionQueue) pop() (kafka.ConsumerRecord, bool) {
	if q == nil || q.next >= len(q.records) {
		return kafka.ConsumerRecord{}, false
	}
	q.next++
	return q.records[q.next-1], true
}

// Client is an in-memory kafka.Client. Records added with AddRecords are
// handed out by Poll, sends are captured in order, and every failure point
// can be scripted.
type Client struct {
	mu sync.RWMutex

	queues      map[kafka.TopicPartition]*partitionQueue
	assigned    []kafka.TopicPartition
	topics      []string
	rebalanceCb kafka.RebalanceCallback
	subscribed  bool
	closed      bool

	produced     []ProducedRecord
	sendAttempts int

	marks     map[kafka.TopicPartition][]kafka.Offset
	committed map[kafka.TopicPartition]kafka.Offset
	// uncommitted holds the marks since the last successful Commit.
	uncommitted map[kafka.TopicPartition]kafka.Offset

	maxPollRecords int
	idleDelay      time.Duration

	script
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		queues:         make(map[kafka.TopicPartition]*partitionQueue),
		marks:          make(map[kafka.TopicPartition][]kafka.Offset),
		committed:      make(map[kafka.TopicPartition]kafka.Offset),
		uncommitted:    make(map[kafka.TopicPartition]kafka.Offset),
		maxPollRecords: 10,
		idleDelay:      5 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AddRecords queues records for Poll. Topic and partition are always set;
// a zero offset is replaced by the record's position in the partition.
func (c *Client) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}
	q, ok := c.queues[tp]
	if !ok {
		q = &partitionQueue{}
		c.queues[tp] = q
	}

	for i := range records {
		records[i].Topic = topic
		records[i].Partition = partition
		if records[i].Offset == 0 {
			records[i].Offset = int64(len(q.records) + i)
		}
	}
	q.records = append(q.records, records...)
}

// Subscribe assigns every known partition of topics at once. Later calls are
// ignored.
func (c *Client) Subscribe(topics []string, rebalanceCb kafka.RebalanceCallback) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}

	c.subscribed = true
	c.topics = slices.Clone(topics)
	c.rebalanceCb = rebalanceCb

	c.assigned = nil
	for tp := range c.queues {
		if slices.Contains(topics, tp.Topic) {
			c.assigned = append(c.assigned, tp)
		}
	}
	partitions := slices.Clone(c.assigned)
	c.mu.Unlock()

	if len(partitions) > 0 && rebalanceCb != nil {
		rebalanceCb.OnAssigned(context.Background(), partitions)
	}
	return nil
}

// Poll returns up to maxPollRecords records, taking one record per assigned
// partition in turn. An empty Poll waits for the idle delay so loops do not
// spin.
func (c *Client) Poll(ctx context.Context) ([]kafka.ConsumerRecord, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, kafka.ErrClientClosed
	}
	if err := c.pollFailure(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	var records []kafka.ConsumerRecord
	for progressed := true; progressed && len(records) < c.maxPollRecords; {
		progressed = false
		for _, tp := range c.assigned {
			if len(records) == c.maxPollRecords {
				break
			}
			if rec, ok := c.queues[tp].pop(); ok {
				records = append(records, rec)
				progressed = true
			}
		}
	}
	c.mu.Unlock()

	if len(records) == 0 && c.idleDelay > 0 {
		t := time.NewTimer(c.idleDelay)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return records, nil
}

// MarkOffset records a resume offset. Every mark is kept so tests can check
// that marks never move backwards.
func (c *Client) MarkOffset(tp kafka.TopicPartition, offset kafka.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markErr != nil {
		if err := c.markErr(tp, offset); err != nil {
			return err
		}
	}

	c.marks[tp] = append(c.marks[tp], offset)
	c.uncommitted[tp] = offset
	return nil
}

// Commit moves the marks made since the last commit to committed.
func (c *Client) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitFailure(); err != nil {
		return err
	}

	maps.Copy(c.committed, c.uncommitted)
	clear(c.uncommitted)
	return nil
}

func (c *Client) Ping(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pingErr
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// TriggerAssign simulates the group assigning more partitions.
func (c *Client) TriggerAssign(partitions []kafka.TopicPartition) {
	c.mu.Lock()
	cb := c.rebalanceCb
	c.assigned = append(c.assigned, partitions...)
	c.mu.Unlock()

	if cb != nil {
		cb.OnAssigned(context.Background(), partitions)
	}
}

// TriggerRevoke simulates the group taking partitions away. Like a real group
// member it returns only after the callback has.
func (c *Client) TriggerRevoke(partitions []kafka.TopicPartition) {
	c.mu.Lock()
	cb := c.rebalanceCb
	c.assigned = slices.DeleteFunc(
		c.assigned, func(tp kafka.TopicPartition) bool {
			return slices.Contains(partitions, tp)
		},
	)
	c.mu.Unlock()

	if cb != nil {
		cb.OnRevoked(context.Background(), partitions)
	}
}

// CommittedOffset returns the last committed offset of tp.
func (c *Client) CommittedOffset(tp kafka.TopicPartition) (kafka.Offset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	offset, ok := c.committed[tp]
	return offset, ok
}

// MarkedOffset returns the latest mark of tp that is not yet committed.
func (c *Client) MarkedOffset(tp kafka.TopicPartition) (kafka.Offset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	offset, ok := c.uncommitted[tp]
	return offset, ok
}

// MarkHistory returns every offset marked for tp, in call order.
func (c *Client) MarkHistory(tp kafka.TopicPartition) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]int64, len(c.marks[tp]))
	for i, m := range c.marks[tp] {
		history[i] = m.Offset
	}
	return history
}

// LastMark returns the latest mark of tp, committed or not.
func (c *Client) LastMark(tp kafka.TopicPartition) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	marks := c.marks[tp]
	if len(marks) == 0 {
		return 0, false
	}
	return marks[len(marks)-1].Offset, true
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.topics)
}

func (c *Client) AssignedPartitions() []kafka.TopicPartition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.assigned)
}

func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
