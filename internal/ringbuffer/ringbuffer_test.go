package ringbuffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	b := New(8)
	require.True(t, b.Empty())
	require.False(t, b.Full())

	n := b.Put([]byte("hello"))
	require.Equal(t, 5, n)
	require.Equal(t, 5, b.Size())

	out := make([]byte, 5)
	got := b.Get(out)
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(out))
	require.True(t, b.Empty())
}

func TestPutRespectsCapacity(t *testing.T) {
	b := New(4)
	n := b.Put([]byte("abcdef"))
	require.Equal(t, 4, n)
	require.True(t, b.Full())
	require.Equal(t, 0, b.Free())
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	b.Put([]byte("ab"))
	out := make([]byte, 2)
	b.Get(out) // drains "ab", head now at 2

	n := b.Put([]byte("cdef"))
	require.Equal(t, 4, n) // wraps: "cd" then "ef" at the front

	out = make([]byte, 4)
	got := b.Get(out)
	require.Equal(t, 4, got)
	require.Equal(t, "cdef", string(out))
}

func TestPeekDoesNotRemove(t *testing.T) {
	b := New(8)
	b.Put([]byte("xyz"))

	out := make([]byte, 2)
	n := b.Peek(out)
	require.Equal(t, 2, n)
	require.Equal(t, 3, b.Size())

	b.Discard(2)
	require.Equal(t, 1, b.Size())

	out = make([]byte, 1)
	b.Get(out)
	require.Equal(t, "z", string(out))
}

func TestDrainFromReader(t *testing.T) {
	b := New(8)
	b.Put([]byte("ab")) // head at 0, count 2
	out := make([]byte, 2)
	b.Get(out) // head now at 2, count 0

	src := bytes.NewReader([]byte("0123456789"))
	n, err := b.DrainFromReader(src, 8)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.True(t, b.Full())

	got := make([]byte, 8)
	b.Get(got)
	require.Equal(t, "01234567", string(got))
}
