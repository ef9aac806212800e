package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogBufferRetainsWrittenBytes(t *testing.T) {
	b := newLogBuffer()
	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(b.Bytes()))
}

func TestLogBufferDiscardsOldestBytesPastCapacity(t *testing.T) {
	b := newLogBuffer()
	b.cap = 10

	_, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = b.Write([]byte("abc"))
	require.NoError(t, err)

	require.Equal(t, "3456789abc", string(b.Bytes()))
	require.Len(t, b.Bytes(), 10)
}

func TestLogBufferBytesReturnsIndependentCopy(t *testing.T) {
	b := newLogBuffer()
	_, _ = b.Write([]byte("hello"))

	got := b.Bytes()
	got[0] = 'X'

	require.Equal(t, "hello", string(b.Bytes()))
}
