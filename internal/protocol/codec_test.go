package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/resp"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"simple", Simple("OK")},
		{"empty simple", Simple("")},
		{"error", Err("ERR unknown command 'foo'")},
		{"integer", Integer(42)},
		{"max integer", Integer(^uint64(0))},
		{"bulk", Bulk([]byte("hello"))},
		{"empty bulk", Bulk([]byte{})},
		{"binary bulk", Bulk([]byte{0x00, '\r', '\n', 0xff})},
		{"null", Null()},
		{"empty array", Array()},
		{"command", Array(Bulk([]byte("set")), Bulk([]byte("foo")), Bulk([]byte("bar")))},
		{"nested", Array(Integer(1), Array(Simple("a"), Null()), Err("e"), Array())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := AppendFrame(nil, tt.frame)

			got, n, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
			assert.Equal(t, tt.frame, got)
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		frame Frame
		want  string
	}{
		{Simple("PONG"), "+PONG\r\n"},
		{Err("ERR boom"), "-ERR boom\r\n"},
		{Integer(7), ":7\r\n"},
		{Null(), "$-1\r\n"},
		{Bulk([]byte("hi")), "$2\r\nhi\r\n"},
		{Bulk([]byte{}), "$0\r\n\r\n"},
		{Array(Bulk([]byte("PING"))), "*1\r\n$4\r\nPING\r\n"},
		{Simple("a\r\nb"), "+a  b\r\n"},
		{Err("ERR x\n+PONG"), "-ERR x +PONG\r\n"},
	}

	for _, tt := range tests {
		b, err := tt.frame.MarshalRESP()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}
}

func TestCheckIncompleteOnEveryPrefix(t *testing.T) {
	f := Array(Bulk([]byte("set")), Simple("key"), Integer(10), Null(), Array(Err("x")))
	encoded := AppendFrame(nil, f)

	for i := 0; i < len(encoded); i++ {
		err := Check(NewCursor(encoded[:i]))
		assert.ErrorIs(t, err, ErrIncomplete, "prefix length %d", i)
	}

	c := NewCursor(encoded)
	require.NoError(t, Check(c))
	assert.Equal(t, len(encoded), c.Position())
}

func TestCheckStopsAtFrameBoundary(t *testing.T) {
	buf := []byte("+OK\r\n:1\r\n")

	f, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Simple("OK"), f)
	assert.Equal(t, 5, n)

	f, n, err = Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, Integer(1), f)
	assert.Equal(t, 4, n)
}

func TestCheckMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown tag", "!oops\r\n"},
		{"inline command", "PING\r\n"},
		{"non numeric integer", ":abc\r\n"},
		{"negative integer", ":-5\r\n"},
		{"non numeric bulk length", "$x\r\nhello\r\n"},
		{"bad null bulk", "$-2\r\n"},
		{"bulk longer than declared", "$2\r\nhello\r\n"},
		{"non numeric array count", "*z\r\n"},
		{"invalid utf-8 simple", "+\xff\xfe\r\n"},
		{"invalid utf-8 error", "-\xc3\x28\r\n"},
		{"bad nested child", "*2\r\n+ok\r\n?\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(NewCursor([]byte(tt.input)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocol), "got %v", err)
			assert.False(t, errors.Is(err, ErrIncomplete))
		})
	}
}

func TestParseCopiesBulkPayload(t *testing.T) {
	buf := []byte("$3\r\nabc\r\n")
	f, _, err := Decode(buf)
	require.NoError(t, err)

	copy(buf, bytes.Repeat([]byte{'z'}, len(buf)))
	assert.Equal(t, []byte("abc"), f.Bulk)
}

func TestDecodeRequestFromRespWriter(t *testing.T) {
	var buf bytes.Buffer
	wr := resp.NewWriter(&buf)
	require.NoError(t, wr.WriteArray([]resp.Value{
		resp.StringValue("SET"),
		resp.StringValue("foo"),
		resp.StringValue("bar"),
	}))

	f, n, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.Equal(t, Array(Bulk([]byte("SET")), Bulk([]byte("foo")), Bulk([]byte("bar"))), f)
}

func TestEncodingReadableByRespReader(t *testing.T) {
	f := Array(Simple("OK"), Bulk([]byte("bar")), Integer(3), Null())
	rd := resp.NewReader(bytes.NewReader(AppendFrame(nil, f)))

	v, _, err := rd.ReadValue()
	require.NoError(t, err)
	require.Equal(t, resp.Array, v.Type())

	items := v.Array()
	require.Len(t, items, 4)
	assert.Equal(t, "OK", items[0].String())
	assert.Equal(t, []byte("bar"), items[1].Bytes())
	assert.Equal(t, 3, items[2].Integer())
	assert.True(t, items[3].IsNull())
}
