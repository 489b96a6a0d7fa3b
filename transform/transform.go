package transform

import (
	"context"

	"github.com/hugolhafner/go-transformer/record"
)

// Func turns one input record into at most one output record. A nil output
// with a nil error filters the input out: nothing is emitted for it, but it
// still counts as processed.
type Func[KIn, VIn, KOut, VOut any] func(ctx context.Context, in *record.Record[KIn, VIn]) (*record.Record[KOut, VOut], error)

// UntypedFunc is the type-erased form driven by the engine.
type UntypedFunc func(ctx context.Context, in *record.UntypedRecord) (*record.UntypedRecord, error)

func (f Func[KIn, VIn, KOut, VOut]) ToUntyped() UntypedFunc {
	return func(ctx context.Context, in *record.UntypedRecord) (*record.UntypedRecord, error) {
		typed, err := record.FromUntyped[KIn, VIn](in)
		if err != nil {
			return nil, err
		}

		out, err := f(ctx, typed)
		if err != nil || out == nil {
			return nil, err
		}

		return out.ToUntyped(), nil
	}
}
