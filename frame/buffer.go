package frame

import "fmt"

// Buffer accumulates stream bytes and yields complete frames.
//
// Bytes are appended at the tail and consumed from a read cursor, so partial
// reads never force the pending bytes to be copied again. The backing array is
// compacted only once the cursor has passed half of it.
type Buffer struct {
	buf      []byte
	off      int
	maxFrame uint64
}

// NewBuffer returns a Buffer that rejects frames declaring more than
// maxFrame payload bytes. A zero maxFrame disables the check.
func NewBuffer(maxFrame int) *Buffer {
	b := &Buffer{}
	if maxFrame > 0 {
		b.maxFrame = uint64(maxFrame)
	}
	return b
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.off > 0 && b.off >= cap(b.buf)/2 {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.off
}

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// Write.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.off:]
}

// Next decodes the next complete frame and advances past it.
//
// It returns ErrNeedMoreData when the pending bytes do not hold a complete
// frame yet, and ErrConnectionClose when the next frame is a close frame.
func (b *Buffer) Next() (Frame, error) {
	f, n, err := Decode(b.buf[b.off:])
	if err != nil {
		if err == ErrNeedMoreData && b.maxFrame > 0 && f.Length > b.maxFrame {
			return Frame{}, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, f.Length, b.maxFrame)
		}
		return Frame{}, err
	}
	if b.maxFrame > 0 && f.Length > b.maxFrame {
		return Frame{}, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, f.Length, b.maxFrame)
	}

	b.off += n
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	}
	return f, nil
}

// Reset discards all pending bytes.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}
