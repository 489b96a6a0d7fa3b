package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugolhafner/go-transformer/config"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/hugolhafner/go-transformer/transform"
	"github.com/hugolhafner/go-transformer/transform/builtins"
)

type valueFunc = transform.Func[[]byte, string, []byte, string]

var transforms = map[string]func() valueFunc{
	"passthrough": builtins.Passthrough[[]byte, string],
	"uppercase": func() valueFunc {
		return builtins.MapValues[[]byte, string, string](
			func(_ context.Context, v string) (string, error) {
				return strings.ToUpper(v), nil
			},
		)
	},
	"drop-empty": func() valueFunc {
		return builtins.Filter[[]byte, string](
			func(_ context.Context, _ []byte, v string) (bool, error) {
				return strings.TrimSpace(v) != "", nil
			},
		)
	},
}

// withLatency delays every record by d to simulate a slow remote call.
func withLatency(d time.Duration, fn valueFunc) valueFunc {
	if d <= 0 {
		return fn
	}

	return func(ctx context.Context, in *record.Record[[]byte, string]) (*record.Record[[]byte, string], error) {
		t := time.NewTimer(d)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		return fn(ctx, in)
	}
}

func buildPipeline(cfg config.Config) (*pipeline.Pipeline, error) {
	newFn, ok := transforms[cfg.Transform.Name]
	if !ok {
		return nil, fmt.Errorf("transform.name: unknown transform %q", cfg.Transform.Name)
	}

	return pipeline.NewBuilder[[]byte, string, []byte, string](cfg.Name).
		From(cfg.Kafka.InputTopics...).
		To(cfg.Kafka.OutputTopic).
		WithInputSerdes(serde.Bytes(), serde.String()).
		WithOutputSerdes(serde.Bytes(), serde.String()).
		Transform(withLatency(cfg.Transform.Latency, newFn())).
		Build()
}
