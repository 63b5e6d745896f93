package resp_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/resp"
)

func roundTrip(t *testing.T, r resp.Reply, protocol int) resp.Reply {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, resp.Encode(w, r, protocol))
	require.NoError(t, w.Flush())

	got, err := resp.Decode(bufio.NewReader(&buf))
	require.NoError(t, err)
	return got
}

func TestRoundTripRESP2(t *testing.T) {
	cases := []resp.Reply{
		resp.String("hello"),
		resp.Err("bad command"),
		resp.Int(42),
		resp.Nil(),
		resp.Array(resp.String("a"), resp.Int(1), resp.Nil()),
	}
	for _, c := range cases {
		got := roundTrip(t, c, 2)
		assert.Equal(t, c.Kind, got.Kind)
	}
}

func TestRoundTripRESP3Map(t *testing.T) {
	m := resp.Map(resp.MapEntry{Key: resp.String("total_results"), Value: resp.Int(6)})
	got := roundTrip(t, m, 3)
	require.Equal(t, resp.KindMap, got.Kind)
	require.Len(t, got.Map, 1)
	assert.Equal(t, "total_results", got.Map[0].Key.Str)
	n, ok := got.Map[0].Value.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(6), n)
}

func TestRESP2MapFlattensToArray(t *testing.T) {
	m := resp.Map(resp.MapEntry{Key: resp.String("k"), Value: resp.Int(1)})
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, resp.Encode(w, m, 2))
	require.NoError(t, w.Flush())

	got, err := resp.Decode(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, resp.KindArray, got.Kind)
	require.Len(t, got.Array, 2)
}

func TestDoubleEncoding(t *testing.T) {
	got := roundTrip(t, resp.Double(1.5), 3)
	f, ok := got.AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 1.5, f)

	got2 := roundTrip(t, resp.Double(1.5), 2)
	f2, ok := got2.AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 1.5, f2)
}

func TestAsInt64FromSimpleString(t *testing.T) {
	r := resp.String("123")
	n, ok := r.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(123), n)
}

func TestDecodeUnknownPrefix(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("@nope\r\n"))
	_, err := resp.Decode(r)
	assert.ErrorIs(t, err, resp.ErrProtocol)
}
