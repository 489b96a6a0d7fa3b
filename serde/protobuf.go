package serde

import (
	"google.golang.org/protobuf/proto"
)

type protobufSerde[T proto.Message] struct{}

func Protobuf[T proto.Message]() Serde[T] {
	return protobufSerde[T]{}
}

func (s protobufSerde[T]) Serialise(_ string, value T) ([]byte, error) {
	return proto.Marshal(value)
}

func (s protobufSerde[T]) Deserialise(_ string, data []byte) (T, error) {
	var zero T
	// generated messages answer ProtoReflect on a nil receiver, which gives
	// access to the concrete type without reflection on T.
	result, ok := zero.ProtoReflect().Type().New().Interface().(T)
	if !ok {
		return zero, errUnexpectedMessage
	}
	if err := proto.Unmarshal(data, result); err != nil {
		return zero, err
	}
	return result, nil
}
