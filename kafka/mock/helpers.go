package mockkafka

import (
	"fmt"
	"time"

	"github.com/hugolhafner/go-transformer/kafka"
)

// RecordOption adjusts a record built by Record.
type RecordOption func(*kafka.ConsumerRecord)

// AtOffset pins the record's offset instead of letting AddRecords assign one.
func AtOffset(offset int64) RecordOption {
	return func(r *kafka.ConsumerRecord) { r.Offset = offset }
}

func WithTimestamp(ts time.Time) RecordOption {
	return func(r *kafka.ConsumerRecord) { r.Timestamp = ts }
}

func WithHeader(key string, value []byte) RecordOption {
	return func(r *kafka.ConsumerRecord) {
		r.Headers = append(r.Headers, kafka.Header{Key: key, Value: value})
	}
}

func WithLeaderEpoch(epoch int32) RecordOption {
	return func(r *kafka.ConsumerRecord) { r.LeaderEpoch = epoch }
}

// Record builds a record with a string key and value, stamped with the
// current time.
func Record(key, value string, opts ...RecordOption) kafka.ConsumerRecord {
	r := kafka.ConsumerRecord{
		Key:       []byte(key),
		Value:     []byte(value),
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Records builds one record per key, value pair.
func Records(kv ...string) []kafka.ConsumerRecord {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("mockkafka.Records: odd number of arguments (%d)", len(kv)))
	}

	records := make([]kafka.ConsumerRecord, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		records = append(records, Record(kv[i], kv[i+1]))
	}
	return records
}

// ValueRecords builds one keyless record per value.
func ValueRecords(values ...string) []kafka.ConsumerRecord {
	records := make([]kafka.ConsumerRecord, len(values))
	for i, v := range values {
		records[i] = kafka.ConsumerRecord{Value: []byte(v), Timestamp: time.Now()}
	}
	return records
}
