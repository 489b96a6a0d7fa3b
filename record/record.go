package record

import (
	"time"

	"github.com/hugolhafner/go-transformer/kafka"
)

// Metadata describes where an input record came from. Transforms may set
// Headers and Timestamp on their output; the remaining fields are informative.
type Metadata struct {
	Timestamp time.Time
	Headers   []kafka.Header

	Topic     string
	Partition int32
	Offset    int64
}

type Record[K, V any] struct {
	Key   K
	Value V
	Metadata
}

// New builds a record with the given key and value and empty metadata.
func New[K, V any](key K, value V) *Record[K, V] {
	return &Record[K, V]{Key: key, Value: value}
}

// WithMetadata returns a copy of r carrying meta.
func (r *Record[K, V]) WithMetadata(meta Metadata) *Record[K, V] {
	out := *r
	out.Metadata = meta
	return &out
}
