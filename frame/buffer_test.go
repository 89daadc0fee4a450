package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferByteAtATime(t *testing.T) {
	var stream []byte
	var want []string
	for i := 0; i < 20; i++ {
		msg := fmt.Sprintf("message %d %s", i, bytes.Repeat([]byte("."), i*13))
		b, err := Encode([]byte(msg))
		require.NoError(t, err)
		stream = append(stream, b...)
		want = append(want, msg)
	}

	buf := NewBuffer(0)
	var got []string
	for i := range stream {
		buf.Write(stream[i : i+1])
		for {
			f, err := buf.Next()
			if err == ErrNeedMoreData {
				break
			}
			require.NoError(t, err)
			got = append(got, f.Text())
		}
	}

	assert.Equal(t, want, got)
	assert.Zero(t, buf.Len())
}

func TestBufferKeepsTail(t *testing.T) {
	first, err := EncodeUnmasked([]byte("one"))
	require.NoError(t, err)
	second, err := EncodeUnmasked([]byte("two"))
	require.NoError(t, err)

	buf := NewBuffer(0)
	buf.Write(first)
	buf.Write(second[:3])

	f, err := buf.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", f.Text())
	assert.Equal(t, second[:3], buf.Bytes())

	_, err = buf.Next()
	assert.ErrorIs(t, err, ErrNeedMoreData)

	buf.Write(second[3:])
	f, err = buf.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", f.Text())
}

func TestBufferClose(t *testing.T) {
	msg, err := Encode([]byte("bye"))
	require.NoError(t, err)

	buf := NewBuffer(0)
	buf.Write(msg)
	buf.Write(EncodeClose())

	f, err := buf.Next()
	require.NoError(t, err)
	assert.Equal(t, "bye", f.Text())

	_, err = buf.Next()
	assert.ErrorIs(t, err, ErrConnectionClose)
}

func TestBufferFrameTooLarge(t *testing.T) {
	header := []byte{0x81, 127}
	header = binary.BigEndian.AppendUint64(header, 1<<40)

	buf := NewBuffer(4096)
	buf.Write(header)

	_, err := buf.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestBufferCompacts(t *testing.T) {
	b, err := Encode(bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)

	buf := NewBuffer(0)
	for i := 0; i < 1000; i++ {
		buf.Write(b)
		buf.Write(b[:10])
		_, err := buf.Next()
		require.NoError(t, err)
		buf.Write(b[10:])
		_, err = buf.Next()
		require.NoError(t, err)
	}

	assert.Zero(t, buf.Len())
	assert.Less(t, cap(buf.buf), 64*len(b))
}
