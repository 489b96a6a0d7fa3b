package mockkafka

import (
	"context"

	"github.com/hugolhafner/go-transformer/kafka"
)

// Send captures a copy of the record. Scripted queue-full results come
// first, then the send error hook.
func (c *Client) Send(_ context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendAttempts++

	if c.closed {
		return kafka.ErrClientClosed
	}
	if c.queueFullLeft > 0 {
		c.queueFullLeft--
		return kafka.ErrQueueFull
	}
	if c.sendErr != nil {
		if err := c.sendErr(topic, key, value); err != nil {
			return err
		}
	}

	c.produced = append(
		c.produced, ProducedRecord{
			Topic:   topic,
			Key:     kafka.CloneBytes(key),
			Value:   append([]byte{}, value...),
			Headers: kafka.CloneHeaders(headers, 0),
		},
	)
	return nil
}

// Flush returns the scripted flush error. Sends are synchronous, so there is
// nothing to wait for.
func (c *Client) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flushErr
}

// ProducedRecords returns every captured record in send order.
func (c *Client) ProducedRecords() []ProducedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ProducedRecord(nil), c.produced...)
}

func (c *Client) ProducedRecordsForTopic(topic string) []ProducedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ProducedRecord
	for _, r := range c.produced {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

// ProducedValues returns the values sent to topic as strings, in send order.
func (c *Client) ProducedValues(topic string) []string {
	records := c.ProducedRecordsForTopic(topic)
	values := make([]string, len(records))
	for i, r := range records {
		values[i] = string(r.Value)
	}
	return values
}

// SendAttempts counts every Send call, failed ones included.
func (c *Client) SendAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendAttempts
}
