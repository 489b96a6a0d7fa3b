package record

import "fmt"

// UntypedRecord is the type-erased record the engine moves between the
// deserialisers, the transform and the serialisers.
type UntypedRecord struct {
	Key   any
	Value any
	Metadata
}

func NewUntyped(key, value any, meta Metadata) *UntypedRecord {
	return &UntypedRecord{
		Key:      key,
		Value:    value,
		Metadata: meta,
	}
}

func (r *Record[K, V]) ToUntyped() *UntypedRecord {
	return &UntypedRecord{
		Key:      r.Key,
		Value:    r.Value,
		Metadata: r.Metadata,
	}
}

// FromUntyped converts back to a typed record. A nil key or value maps to the
// zero value of its type.
func FromUntyped[K, V any](r *UntypedRecord) (*Record[K, V], error) {
	out := &Record[K, V]{Metadata: r.Metadata}

	if r.Key != nil {
		k, ok := r.Key.(K)
		if !ok {
			return nil, fmt.Errorf("record: expected key %T, got %T", *new(K), r.Key)
		}
		out.Key = k
	}

	if r.Value != nil {
		v, ok := r.Value.(V)
		if !ok {
			return nil, fmt.Errorf("record: expected value %T, got %T", *new(V), r.Value)
		}
		out.Value = v
	}

	return out, nil
}
