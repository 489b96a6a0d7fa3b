package kafka

import (
	"strconv"
	"time"
)

// TopicPartition identifies one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.FormatInt(int64(tp.Partition), 10)
}

// Offset is the next offset to consume, in Kafka's commit convention.
type Offset struct {
	LeaderEpoch int32
	Offset      int64
}

// Header is a record header. Keys may repeat.
type Header struct {
	Key   string
	Value []byte
}

// HeaderValue returns the value of the first header with key.
func HeaderValue(headers []Header, key string) ([]byte, bool) {
	for _, h := range headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// CloneHeaders deep copies headers, leaving extra room for n more.
func CloneHeaders(headers []Header, n int) []Header {
	out := make([]Header, len(headers), len(headers)+n)
	for i, h := range headers {
		out[i] = Header{Key: h.Key, Value: CloneBytes(h.Value)}
	}
	return out
}

// CloneBytes copies b. A nil slice stays nil.
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// ConsumerRecord is one polled input record. Its position is
// (Topic, Partition, Offset).
type ConsumerRecord struct {
	Key         []byte
	Value       []byte
	Headers     []Header
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Timestamp   time.Time
}

func (r ConsumerRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Copy returns r with its key, value and headers deep copied, so the copy
// stays valid after the client reuses its buffers.
func (r ConsumerRecord) Copy() ConsumerRecord {
	c := r
	c.Key = CloneBytes(r.Key)
	c.Value = CloneBytes(r.Value)
	c.Headers = CloneHeaders(r.Headers, 0)
	return c
}

// ProducerRecord is a record handed to a Producer.
type ProducerRecord struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}
