package serde

import "encoding/json"

var (
	_ Serde[[]byte] = bytesSerde{}
	_ Serde[string] = stringSerde{}
)

type bytesSerde struct{}

// Bytes passes payloads through untouched.
func Bytes() Serde[[]byte] {
	return bytesSerde{}
}

func (bytesSerde) Serialise(_ string, value []byte) ([]byte, error) {
	return value, nil
}

func (bytesSerde) Deserialise(_ string, data []byte) ([]byte, error) {
	return data, nil
}

type stringSerde struct{}

func String() Serde[string] {
	return stringSerde{}
}

func (stringSerde) Serialise(_ string, value string) ([]byte, error) {
	return []byte(value), nil
}

func (stringSerde) Deserialise(_ string, data []byte) (string, error) {
	return string(data), nil
}

type jsonSerde[T any] struct{}

// JSON returns a Serde that uses encoding/json.
func JSON[T any]() Serde[T] {
	return jsonSerde[T]{}
}

func (jsonSerde[T]) Serialise(_ string, value T) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonSerde[T]) Deserialise(_ string, data []byte) (T, error) {
	var result T
	err := json.Unmarshal(data, &result)
	return result, err
}
