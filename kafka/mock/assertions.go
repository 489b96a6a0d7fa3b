package mockkafka

import (
	"bytes"
	"slices"
	"testing"

	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/stretchr/testify/require"
)

// findProduced returns the first record produced to topic with key.
func (c *Client) findProduced(topic string, key []byte) (ProducedRecord, bool) {
	for _, r := range c.ProducedRecordsForTopic(topic) {
		if bytes.Equal(r.Key, key) {
			return r, true
		}
	}
	return ProducedRecord{}, false
}

func (c *Client) AssertProducedCount(tb testing.TB, expected int) {
	tb.Helper()
	require.Len(tb, c.ProducedRecords(), expected, "produced record count")
}

func (c *Client) AssertProducedCountForTopic(tb testing.TB, topic string, expected int) {
	tb.Helper()
	require.Len(tb, c.ProducedRecordsForTopic(topic), expected, "records produced to %q", topic)
}

func (c *Client) AssertNoProducedRecords(tb testing.TB) {
	tb.Helper()
	require.Empty(tb, c.ProducedRecords(), "expected nothing to be produced")
}

// AssertProducedString checks a record with key and value reached topic.
func (c *Client) AssertProducedString(tb testing.TB, topic, key, value string) {
	tb.Helper()

	r, ok := c.findProduced(topic, []byte(key))
	require.True(tb, ok, "no record with key %q produced to %q", key, topic)
	require.Equal(tb, value, string(r.Value), "value of key %q in %q", key, topic)
}

func (c *Client) AssertNotProduced(tb testing.TB, topic string, key []byte) {
	tb.Helper()

	r, ok := c.findProduced(topic, key)
	require.False(tb, ok, "key %q was produced to %q with value %q", key, topic, r.Value)
}

// AssertProducedValues checks the exact sequence of values produced to topic.
func (c *Client) AssertProducedValues(tb testing.TB, topic string, expected ...string) {
	tb.Helper()

	actual := c.ProducedValues(topic)
	if len(expected) == 0 {
		require.Empty(tb, actual)
		return
	}
	require.Equal(tb, expected, actual)
}

func (c *Client) AssertHeader(tb testing.TB, topic string, key []byte, headerKey string, headerValue []byte) {
	tb.Helper()

	r, ok := c.findProduced(topic, key)
	require.True(tb, ok, "no record with key %q produced to %q", key, topic)

	actual, ok := kafka.HeaderValue(r.Headers, headerKey)
	require.True(tb, ok, "record %q has no header %q", key, headerKey)
	require.Equal(tb, string(headerValue), string(actual), "header %q of record %q", headerKey, key)
}

// AssertCommittedOffset checks the committed resume offset of tp.
func (c *Client) AssertCommittedOffset(tb testing.TB, tp kafka.TopicPartition, expected int64) {
	tb.Helper()

	actual, ok := c.CommittedOffset(tp)
	require.True(tb, ok, "nothing committed for %s", tp)
	require.Equal(tb, expected, actual.Offset, "committed offset of %s", tp)
}

// AssertMarkedOffset checks the latest resume offset marked for tp.
func (c *Client) AssertMarkedOffset(tb testing.TB, tp kafka.TopicPartition, expected int64) {
	tb.Helper()

	actual, ok := c.LastMark(tp)
	require.True(tb, ok, "nothing marked for %s", tp)
	require.Equal(tb, expected, actual, "marked offset of %s", tp)
}

// AssertMarksMonotonic checks that the marks of tp never moved backwards.
func (c *Client) AssertMarksMonotonic(tb testing.TB, tp kafka.TopicPartition) {
	tb.Helper()

	history := c.MarkHistory(tp)
	require.True(
		tb, slices.IsSorted(history), "marked offsets of %s moved backwards: %v", tp, history,
	)
}

func (c *Client) AssertSubscribed(tb testing.TB, topics ...string) {
	tb.Helper()

	subs := c.Subscriptions()
	for _, topic := range topics {
		require.Contains(tb, subs, topic, "not subscribed to %q", topic)
	}
}

func (c *Client) AssertAssigned(tb testing.TB, partitions ...kafka.TopicPartition) {
	tb.Helper()

	assigned := c.AssignedPartitions()
	for _, tp := range partitions {
		require.Contains(tb, assigned, tp, "%s is not assigned", tp)
	}
}

func (c *Client) AssertClosed(tb testing.TB) {
	tb.Helper()
	require.True(tb, c.IsClosed(), "expected client to be closed")
}

func (c *Client) AssertNotClosed(tb testing.TB) {
	tb.Helper()
	require.False(tb, c.IsClosed(), "expected client to be open")
}
