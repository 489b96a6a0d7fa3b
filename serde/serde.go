package serde

import "errors"

var errUnexpectedMessage = errors.New("serde: message type does not match")

type Serde[T any] interface {
	Serialiser[T]
	Deserialiser[T]
}

type Serialiser[T any] interface {
	Serialise(topic string, value T) ([]byte, error)
}

type Deserialiser[T any] interface {
	Deserialise(topic string, data []byte) (T, error)
}

// UntypedDeserialiser is the type-erased form used by the engine.
type UntypedDeserialiser interface {
	Deserialise(topic string, data []byte) (any, error)
}

// UntypedSerialiser is the type-erased form used by the engine.
type UntypedSerialiser interface {
	Serialise(topic string, value any) ([]byte, error)
}

type UntypedSerde interface {
	UntypedSerialiser
	UntypedDeserialiser
}
