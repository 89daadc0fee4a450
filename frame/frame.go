// Package frame encodes and decodes single WebSocket text frames.
//
// It covers the subset of RFC 6455 the relay speaks: unfragmented text frames,
// close detection, 7/16/64-bit payload lengths and client masking.
//
//	b, err := frame.Encode([]byte("hello"))
//	...
//	f, n, err := frame.Decode(b)
//	if errors.Is(err, frame.ErrNeedMoreData) {
//		// read more bytes and try again
//	}
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"unicode/utf8"
)

var (
	ErrNeedMoreData    = errors.New("frame: need more data")
	ErrConnectionClose = errors.New("frame: connection close")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrFrameTooLarge   = errors.New("frame: declared frame too large")
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(o))
	}
}

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// MaxPayload is the largest payload Encode accepts. There is no 64-bit
// length path on the send side.
const MaxPayload = math.MaxUint16

// StatusNormalClosure is the close code carried by EncodeClose.
const StatusNormalClosure = 1000

// Frame is one decoded WebSocket frame.
//
// https://tools.ietf.org/html/rfc6455#section-5.2
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Length  uint64
	Payload []byte
}

// Text returns the payload as UTF-8 text. Invalid sequences are replaced.
func (f Frame) Text() string {
	if utf8.Valid(f.Payload) {
		return string(f.Payload)
	}
	return strings.ToValidUTF8(string(f.Payload), "\uFFFD")
}

// Encode builds a masked FIN text frame, as a client sends it.
func Encode(payload []byte) ([]byte, error) {
	return encode(OpText, payload, true)
}

// EncodeUnmasked builds an unmasked FIN text frame, as a server sends it.
func EncodeUnmasked(payload []byte) ([]byte, error) {
	return encode(OpText, payload, false)
}

// EncodeClose builds a masked close frame with a normal closure status.
func EncodeClose() []byte {
	var status [2]byte
	binary.BigEndian.PutUint16(status[:], StatusNormalClosure)
	b, _ := encode(OpClose, status[:], true)
	return b
}

// EncodeCloseUnmasked builds an unmasked close frame with a normal closure status.
func EncodeCloseUnmasked() []byte {
	var status [2]byte
	binary.BigEndian.PutUint16(status[:], StatusNormalClosure)
	b, _ := encode(OpClose, status[:], false)
	return b
}

func encode(op Opcode, payload []byte, masked bool) ([]byte, error) {
	n := len(payload)
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}

	size := 2 + n
	if n > 125 {
		size += 2
	}
	if masked {
		size += 4
	}

	b := make([]byte, 0, size)
	b = append(b, 0x80|byte(op))

	var b1 byte
	if masked {
		b1 = 0x80
	}
	if n <= 125 {
		b = append(b, b1|byte(n))
	} else {
		b = append(b, b1|126)
		b = binary.BigEndian.AppendUint16(b, uint16(n))
	}

	if !masked {
		return append(b, payload...), nil
	}

	var mask [4]byte
	binary.BigEndian.PutUint32(mask[:], rand.Uint32())
	b = append(b, mask[:]...)

	start := len(b)
	b = append(b, payload...)
	xor(mask, b[start:])
	return b, nil
}

// Decode parses the frame at the start of buf. It returns the frame and the
// exact number of bytes it occupies so the caller can keep any tail bytes
// belonging to the next frame.
//
// ErrNeedMoreData is returned while buf holds less than a complete frame;
// Decode is safe to call again once more bytes arrived. A close opcode yields
// ErrConnectionClose regardless of what follows the header.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrNeedMoreData
	}

	b0, b1 := buf[0], buf[1]
	f := Frame{
		Fin:    b0&0x80 != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&0x80 != 0,
	}
	if f.Opcode == OpClose {
		return f, 0, ErrConnectionClose
	}

	pos := 2
	switch l := b1 & 0x7F; l {
	case 126:
		if len(buf) < pos+2 {
			return Frame{}, 0, ErrNeedMoreData
		}
		f.Length = uint64(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
	case 127:
		if len(buf) < pos+8 {
			return Frame{}, 0, ErrNeedMoreData
		}
		f.Length = binary.BigEndian.Uint64(buf[pos:])
		pos += 8
	default:
		f.Length = uint64(l)
	}

	if f.Masked {
		if len(buf) < pos+4 {
			return Frame{}, 0, ErrNeedMoreData
		}
		copy(f.Mask[:], buf[pos:pos+4])
		pos += 4
	}

	if f.Length > uint64(len(buf)-pos) {
		return f, 0, ErrNeedMoreData
	}

	end := pos + int(f.Length)
	f.Payload = make([]byte, f.Length)
	copy(f.Payload, buf[pos:end])
	if f.Masked {
		xor(f.Mask, f.Payload)
	}
	return f, end, nil
}

// xor applies the masking key in place.
//
// https://tools.ietf.org/html/rfc6455#section-5.3
func xor(mask [4]byte, data []byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}
