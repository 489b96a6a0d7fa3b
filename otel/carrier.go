package otel

import (
	"github.com/hugolhafner/go-transformer/kafka"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = KafkaHeadersCarrier{}

// KafkaHeadersCarrier reads and writes trace context in record headers. Set
// mutates the slice behind Headers.
type KafkaHeadersCarrier struct {
	Headers *[]kafka.Header
}

func NewKafkaHeadersCarrier(headers *[]kafka.Header) KafkaHeadersCarrier {
	return KafkaHeadersCarrier{Headers: headers}
}

func (c KafkaHeadersCarrier) Get(key string) string {
	v, _ := kafka.HeaderValue(*c.Headers, key)
	return string(v)
}

// Set leaves exactly one header for key, at the position of the first
// existing one or at the end.
func (c KafkaHeadersCarrier) Set(key, value string) {
	h := kafka.Header{Key: key, Value: []byte(value)}

	out := (*c.Headers)[:0]
	seen := false
	for _, existing := range *c.Headers {
		switch {
		case existing.Key != key:
			out = append(out, existing)
		case !seen:
			out = append(out, h)
			seen = true
		}
	}
	if !seen {
		out = append(out, h)
	}

	*c.Headers = out
}

func (c KafkaHeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
