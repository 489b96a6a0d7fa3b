//go:build unit

package runner

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/errorhandler"
	mockkafka "github.com/hugolhafner/go-transformer/kafka/mock"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/stretchr/testify/require"
)

func newGenerator(
	t *testing.T, client *mockkafka.Client, fn pipeline.GenerateFunc[string, string], opts ...AsyncOption,
) Runner {
	t.Helper()

	p, err := pipeline.NewGenerator("gen", "output", serde.String(), serde.String(), fn)
	require.NoError(t, err)

	opts = append(
		[]AsyncOption{
			WithBackpressureBackoff(backoff.NewFixed(time.Millisecond)),
			WithRetryBackoff(backoff.NewFixed(time.Millisecond)),
		}, opts...,
	)
	r, err := NewGeneratorRunner(opts...)(p, nil, client, nil)
	require.NoError(t, err)
	return r
}

// counting returns a generator of "0", "1", ... that stops producing after
// limit records and skips every multiple of skipEvery.
func counting(limit, skipEvery int64) pipeline.GenerateFunc[string, string] {
	var n atomic.Int64
	return func(ctx context.Context) (*record.Record[string, string], error) {
		i := n.Add(1) - 1
		if i >= limit {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if skipEvery > 0 && i%skipEvery == skipEvery-1 {
			return nil, nil
		}
		return &record.Record[string, string]{Key: "k", Value: strconv.FormatInt(i, 10)}, nil
	}
}

func TestGeneratorRunner_PublishesInCallOrder(t *testing.T) {
	client := mockkafka.NewClient()
	r := newGenerator(t, client, counting(6, 3))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedValues("output")) == 4 && r.Stats().Filtered == 2
		}, 3*time.Second, 5*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "0", "1", "3", "4")
	stats := r.Stats()
	require.Equal(t, StateStopped, stats.State)
	require.Equal(t, int64(4), stats.Emitted)
	require.Equal(t, int64(2), stats.Filtered)
}

func TestGeneratorRunner_FullQueueIsRetried(t *testing.T) {
	client := mockkafka.NewClient(mockkafka.WithQueueFull(3))
	r := newGenerator(t, client, counting(2, 0))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedValues("output")) == 2
		}, 3*time.Second, 5*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "0", "1")
	require.Equal(t, int64(3), r.Stats().Backpressure)
}

func TestGeneratorRunner_FunctionErrorIsFatal(t *testing.T) {
	client := mockkafka.NewClient()
	r := newGenerator(
		t, client, func(context.Context) (*record.Record[string, string], error) {
			return nil, errors.New("source exhausted")
		},
	)
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	_, ok := AsFatalError(err)
	require.True(t, ok)
	_, ok = pipeline.AsTransformError(err)
	require.True(t, ok)
	require.Contains(t, err.Error(), "source exhausted")
	client.AssertNoProducedRecords(t)
}

func TestGeneratorRunner_HandlerCanSkipFailures(t *testing.T) {
	var calls atomic.Int32
	client := mockkafka.NewClient()
	r := newGenerator(
		t, client, func(ctx context.Context) (*record.Record[string, string], error) {
			switch calls.Add(1) {
			case 1:
				return nil, errors.New("flaky")
			case 2:
				return &record.Record[string, string]{Key: "k", Value: "ok"}, nil
			default:
				<-ctx.Done()
				return nil, ctx.Err()
			}
		},
		WithProcessingErrorHandler(errorhandler.LogAndContinue(logger.NewNoopLogger())),
	)
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedValues("output")) == 1
		}, 3*time.Second, 5*time.Millisecond,
	)
	require.NoError(t, stop())
	require.Equal(t, int64(1), r.Stats().Skipped)
}

func TestGeneratorRunner_RejectsConsumingPipelines(t *testing.T) {
	client := mockkafka.NewClient()

	_, err := NewGeneratorRunner()(newTestPipeline(t, passthrough()), nil, client, nil)
	require.Error(t, err)

	p, err := pipeline.NewGenerator("gen", "output", serde.String(), serde.String(), counting(1, 0))
	require.NoError(t, err)
	_, err = NewAsyncRunner()(p, client, client, nil)
	require.Error(t, err)
}
