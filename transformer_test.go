//go:build unit

package transformer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	transformer "github.com/hugolhafner/go-transformer"
	mockkafka "github.com/hugolhafner/go-transformer/kafka/mock"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/runner"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/hugolhafner/go-transformer/transform/builtins"
	"github.com/stretchr/testify/require"
)

func upperPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.NewBuilder[string, string, string, string]("upper").
		From("in").
		To("out").
		WithInputSerdes(serde.String(), serde.String()).
		WithOutputSerdes(serde.String(), serde.String()).
		Transform(
			builtins.MapValues[string, string, string](
				func(_ context.Context, v string) (string, error) {
					return strings.ToUpper(v), nil
				},
			),
		).
		Build()
	require.NoError(t, err)

	return p
}

func TestApplication_RunAndClose(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("in", 0, mockkafka.ValueRecords("a", "b", "c")...)

	app, err := transformer.NewApplication(
		client, client, upperPipeline(t),
		transformer.WithLogger(logger.NewNoopLogger()),
	)
	require.NoError(t, err)

	_, err = app.Stats()
	require.ErrorIs(t, err, transformer.ErrNotStarted)

	done := make(chan error, 1)
	go func() {
		done <- app.RunWith(context.Background(), runner.NewAsyncRunner(runner.WithOrderPolicy(runner.InputOrder)))
	}()

	require.Eventually(
		t, func() bool {
			return len(client.ProducedValues("out")) == 3
		}, 3*time.Second, 10*time.Millisecond,
	)
	client.AssertProducedValues(t, "out", "A", "B", "C")

	stats, err := app.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Emitted)

	app.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("application did not stop after Close")
	}

	require.ErrorIs(t, app.Run(context.Background()), transformer.ErrClosed)
}

func TestApplication_AlreadyRunning(t *testing.T) {
	client := mockkafka.NewClient()

	app, err := transformer.NewApplication(client, client, upperPipeline(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx)
	}()

	require.Eventually(
		t, func() bool {
			stats, err := app.Stats()
			return err == nil && stats.State == runner.StateRunning
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.ErrorIs(t, app.Run(ctx), transformer.ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestNewApplication_Validates(t *testing.T) {
	client := mockkafka.NewClient()

	_, err := transformer.NewApplication(client, client, nil)
	require.Error(t, err)

	_, err = transformer.NewApplication(nil, client, upperPipeline(t))
	require.Error(t, err)
}
