//go:build unit

package serde_test

import (
	"testing"

	"github.com/hugolhafner/go-transformer/serde"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

func TestJSON(t *testing.T) {
	t.Parallel()
	s := serde.JSON[order]()

	data, err := s.Serialise("orders", order{ID: "a-1", Total: 30})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a-1","total":30}`, string(data))

	out, err := s.Deserialise("orders", []byte(`{"id":"b-2","total":7}`))
	require.NoError(t, err)
	require.Equal(t, order{ID: "b-2", Total: 7}, out)

	_, err = s.Deserialise("orders", []byte(`{"id":`))
	require.Error(t, err)

	_, err = serde.JSON[any]().Serialise("orders", func() {})
	require.Error(t, err)
}

func TestStringAndBytes(t *testing.T) {
	t.Parallel()

	str, err := serde.String().Deserialise("t", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", str)

	b, err := serde.String().Serialise("t", "world")
	require.NoError(t, err)
	require.Equal(t, []byte("world"), b)

	raw := []byte{0x00, 0xff}
	out, err := serde.Bytes().Deserialise("t", raw)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestProtobuf(t *testing.T) {
	t.Parallel()
	s := serde.Protobuf[*wrapperspb.StringValue]()

	data, err := s.Serialise("t", wrapperspb.String("hello"))
	require.NoError(t, err)

	out, err := s.Deserialise("t", data)
	require.NoError(t, err)
	require.True(t, proto.Equal(wrapperspb.String("hello"), out))

	_, err = s.Deserialise("t", []byte("not valid protobuf \xff\xfe"))
	require.Error(t, err)
}

func TestToUntyped(t *testing.T) {
	t.Parallel()
	s := serde.ToUntyped(serde.String())

	v, err := s.Deserialise("t", []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	data, err := s.Serialise("t", "xyz")
	require.NoError(t, err)
	require.Equal(t, []byte("xyz"), data)

	_, err = s.Serialise("t", 42)
	require.ErrorContains(t, err, "expected string, got int")

	data, err = serde.ToUntypedSerialiser[[]byte](serde.Bytes()).Serialise("t", nil)
	require.NoError(t, err)
	require.Nil(t, data)

	d := serde.ToUntypedDeserialiser[order](serde.JSON[order]())
	v, err = d.Deserialise("t", []byte(`{"id":"x"}`))
	require.NoError(t, err)
	require.Equal(t, order{ID: "x"}, v)
}
