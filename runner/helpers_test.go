//go:build unit

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/errorhandler"
	mockkafka "github.com/hugolhafner/go-transformer/kafka/mock"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/hugolhafner/go-transformer/transform"
	"github.com/stretchr/testify/require"
)

type stringFunc = transform.Func[string, string, string, string]

func newTestPipeline(t *testing.T, fn stringFunc) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.NewBuilder[string, string, string, string]("test").
		From("input").
		To("output").
		WithInputSerdes(serde.String(), serde.String()).
		WithOutputSerdes(serde.String(), serde.String()).
		Transform(fn).
		Build()
	require.NoError(t, err)

	return p
}

func passthrough() stringFunc {
	return func(_ context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		return in, nil
	}
}

func newTestScheduler(
	t *testing.T, policy OrderPolicy, client *mockkafka.Client, handler errorhandler.Handler,
) (*scheduler, *counters) {
	t.Helper()

	if handler == nil {
		handler = errorhandler.SilentFail()
	}

	stats := &counters{}
	return &scheduler{
		policy: policy,
		sink: &sink{
			producer:     client,
			pipeline:     newTestPipeline(t, passthrough()),
			backpressure: backoff.NewFixed(time.Millisecond),
			retry:        backoff.NewFixed(time.Millisecond),
			handler:      handler,
			stats:        stats,
			telemetry:    otel.Noop(),
			logger:       logger.NewNoopLogger(),
		},
	}, stats
}

func completed(offset int64, value string) *pendingItem {
	it := item(offset)
	it.result = record.NewUntyped("k", value, record.Metadata{})
	return it
}

// startRunner runs r in the background and returns a function that cancels
// it and returns the result of Run.
func startRunner(t *testing.T, r Runner) (stop func() error, done <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	stop = func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for runner to stop")
			return nil
		}
	}
	t.Cleanup(cancel)

	return stop, errCh
}

func waitForExit(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for runner to exit on its own")
		return nil
	}
}
