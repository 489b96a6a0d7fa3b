package builtins

import (
	"context"
	"time"

	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/transform"
)

type MapFunc[KIn, VIn, KOut, VOut any] func(context.Context, KIn, VIn) (KOut, VOut, error)

type PredicateFunc[K, V any] func(context.Context, K, V) (bool, error)

// Map rewrites key and value. Metadata is carried over to the output.
func Map[KIn, VIn, KOut, VOut any](mapper MapFunc[KIn, VIn, KOut, VOut]) transform.Func[KIn, VIn, KOut, VOut] {
	return func(ctx context.Context, r *record.Record[KIn, VIn]) (*record.Record[KOut, VOut], error) {
		k, v, err := mapper(ctx, r.Key, r.Value)
		if err != nil {
			return nil, err
		}

		return &record.Record[KOut, VOut]{
			Key:      k,
			Value:    v,
			Metadata: r.Metadata,
		}, nil
	}
}

// MapValues rewrites the value and keeps the key.
func MapValues[K, VIn, VOut any](mapper func(context.Context, VIn) (VOut, error)) transform.Func[K, VIn, K, VOut] {
	return Map(
		func(ctx context.Context, k K, v VIn) (K, VOut, error) {
			out, err := mapper(ctx, v)
			return k, out, err
		},
	)
}

// Filter keeps the records the predicate accepts and drops the rest.
func Filter[K, V any](predicate PredicateFunc[K, V]) transform.Func[K, V, K, V] {
	return func(ctx context.Context, r *record.Record[K, V]) (*record.Record[K, V], error) {
		ok, err := predicate(ctx, r.Key, r.Value)
		if err != nil || !ok {
			return nil, err
		}
		return r, nil
	}
}

func Passthrough[K, V any]() transform.Func[K, V, K, V] {
	return func(_ context.Context, r *record.Record[K, V]) (*record.Record[K, V], error) {
		return r, nil
	}
}

// ForEach runs a side effect for every record and forwards it unchanged.
func ForEach[K, V any](action func(context.Context, K, V) error) transform.Func[K, V, K, V] {
	return func(ctx context.Context, r *record.Record[K, V]) (*record.Record[K, V], error) {
		if err := action(ctx, r.Key, r.Value); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Then runs next on the output of first. A filtered record stops the chain.
func Then[KIn, VIn, KMid, VMid, KOut, VOut any](
	first transform.Func[KIn, VIn, KMid, VMid], next transform.Func[KMid, VMid, KOut, VOut],
) transform.Func[KIn, VIn, KOut, VOut] {
	return func(ctx context.Context, r *record.Record[KIn, VIn]) (*record.Record[KOut, VOut], error) {
		mid, err := first(ctx, r)
		if err != nil || mid == nil {
			return nil, err
		}
		return next(ctx, mid)
	}
}

// WithTimeout bounds each invocation of fn. The transform must honour ctx
// for the bound to take effect.
func WithTimeout[KIn, VIn, KOut, VOut any](d time.Duration, fn transform.Func[KIn, VIn, KOut, VOut]) transform.Func[KIn, VIn, KOut, VOut] {
	return func(ctx context.Context, r *record.Record[KIn, VIn]) (*record.Record[KOut, VOut], error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx, r)
	}
}
