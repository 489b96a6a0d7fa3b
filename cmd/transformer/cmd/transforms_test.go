//go:build unit

package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/hugolhafner/go-transformer/config"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/stretchr/testify/require"
)

func testConfig(name string, latency time.Duration) config.Config {
	return config.Config{
		Name: "svc",
		Kafka: config.KafkaConfig{
			InputTopics: []string{"in"},
			OutputTopic: "out",
		},
		Transform: config.TransformConfig{Name: name, Latency: latency},
	}
}

func apply(t *testing.T, name, value string) (string, bool) {
	t.Helper()

	p, err := buildPipeline(testConfig(name, 0))
	require.NoError(t, err)

	in, err := p.Decode(kafka.ConsumerRecord{Topic: "in", Key: []byte("k"), Value: []byte(value)})
	require.NoError(t, err)

	out, err := p.Transform(context.Background(), in)
	require.NoError(t, err)
	if out == nil {
		return "", false
	}

	_, v, err := p.Encode(out)
	require.NoError(t, err)
	return string(v), true
}

func TestBuiltinTransforms(t *testing.T) {
	tests := []struct {
		name      string
		transform string
		in        string
		want      string
		kept      bool
	}{
		{"passthrough keeps value", "passthrough", "hello", "hello", true},
		{"uppercase", "uppercase", "hello", "HELLO", true},
		{"drop-empty keeps text", "drop-empty", "x", "x", true},
		{"drop-empty drops blank", "drop-empty", "  ", "", false},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				got, kept := apply(t, tt.transform, tt.in)
				require.Equal(t, tt.kept, kept)
				require.Equal(t, tt.want, got)
			},
		)
	}
}

func TestBuildPipeline_UnknownTransform(t *testing.T) {
	_, err := buildPipeline(testConfig("reverse", 0))
	require.ErrorContains(t, err, "reverse")
}

func TestWithLatency(t *testing.T) {
	p, err := buildPipeline(testConfig("passthrough", 50*time.Millisecond))
	require.NoError(t, err)

	in, err := p.Decode(kafka.ConsumerRecord{Topic: "in", Value: []byte("v")})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Transform(context.Background(), in)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Transform(ctx, in)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientID(t *testing.T) {
	cfg := testConfig("passthrough", 0)
	cfg.InstanceID = "7"
	require.Equal(t, "svc-consumer-7", clientID(cfg, "consumer"))

	cfg.InstanceID = ""
	require.Regexp(t, `^svc-producer-[0-9a-f-]{36}$`, clientID(cfg, "producer"))
}
