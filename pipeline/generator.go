package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
)

// GenerateFunc returns the next record to publish. A nil record publishes
// nothing. It is called in a loop, so it must pace itself.
type GenerateFunc[K, V any] func(ctx context.Context) (*record.Record[K, V], error)

// NewGenerator builds a pipeline without input topics. Its transform ignores
// its input and calls fn.
func NewGenerator[K, V any](
	name, outputTopic string, key serde.Serialiser[K], value serde.Serialiser[V], fn GenerateFunc[K, V],
) (*Pipeline, error) {
	var errs []error
	if name == "" {
		errs = append(errs, errors.New("pipeline name is required"))
	}
	if outputTopic == "" {
		errs = append(errs, errors.New("output topic is required"))
	}
	if key == nil || value == nil {
		errs = append(errs, errors.New("output serdes are required"))
	}
	if fn == nil {
		errs = append(errs, errors.New("generate function is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build generator %q: %w", name, err)
	}

	return &Pipeline{
		name:            name,
		outputTopic:     outputTopic,
		keySerialiser:   serde.ToUntypedSerialiser(key),
		valueSerialiser: serde.ToUntypedSerialiser(value),
		transform: func(ctx context.Context, _ *record.UntypedRecord) (*record.UntypedRecord, error) {
			out, err := fn(ctx)
			if err != nil || out == nil {
				return nil, err
			}
			return out.ToUntyped(), nil
		},
	}, nil
}

// IsGenerator reports whether the pipeline has no input topics.
func (p *Pipeline) IsGenerator() bool {
	return len(p.inputTopics) == 0
}
