package serde

import "fmt"

func ToUntypedDeserialiser[T any](d Deserialiser[T]) UntypedDeserialiser {
	return deserialiserAdapter[T]{typed: d}
}

func ToUntypedSerialiser[T any](s Serialiser[T]) UntypedSerialiser {
	return serialiserAdapter[T]{typed: s}
}

func ToUntyped[T any](s Serde[T]) UntypedSerde {
	return serdeAdapter[T]{
		deserialiserAdapter[T]{typed: s},
		serialiserAdapter[T]{typed: s},
	}
}

type deserialiserAdapter[T any] struct {
	typed Deserialiser[T]
}

func (a deserialiserAdapter[T]) Deserialise(topic string, data []byte) (any, error) {
	return a.typed.Deserialise(topic, data)
}

type serialiserAdapter[T any] struct {
	typed Serialiser[T]
}

func (a serialiserAdapter[T]) Serialise(topic string, value any) ([]byte, error) {
	if value == nil {
		var zero T
		return a.typed.Serialise(topic, zero)
	}

	typed, ok := value.(T)
	if !ok {
		return nil, fmt.Errorf("serde: expected %T, got %T", *new(T), value)
	}
	return a.typed.Serialise(topic, typed)
}

type serdeAdapter[T any] struct {
	deserialiserAdapter[T]
	serialiserAdapter[T]
}
