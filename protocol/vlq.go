package protocol

import (
	"errors"
	"math"
)

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqShifts are the 7-bit groups above the lowest one, most significant first
var vlqShifts = [...]uint{28, 21, 14, 7}

// EncodeVLQInt writes v using the variable length encoding of the link.
// Values in [-32, 96) take one byte; each further byte extends the range
// by 7 bits. The top bits of the first byte sign-extend on decode.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	for _, shift := range vlqShifts {
		lo := -(int32(1) << (shift - 2))
		hi := int32(3) << (shift - 2)
		if v < lo || v >= hi {
			buf[n] = byte(v>>shift)&0x7F | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint writes an unsigned value; it shares the signed encoding
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// EncodeVLQBool writes a flag as 0 or 1
func EncodeVLQBool(output OutputBuffer, v bool) {
	if v {
		EncodeVLQUint(output, 1)
		return
	}
	EncodeVLQUint(output, 0)
}

// EncodeVLQFloat writes the IEEE-754 bit pattern of f
func EncodeVLQFloat(output OutputBuffer, f float32) {
	EncodeVLQUint(output, math.Float32bits(f))
}

// DecodeVLQInt reads one value and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := buf[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}

	i := 1
	for c&0x80 != 0 {
		if i >= len(buf) {
			return 0, ErrBufferTooSmall
		}
		if i == len(vlqShifts)+1 {
			return 0, ErrInvalidVLQ
		}
		c = buf[i]
		v = v<<7 | uint32(c&0x7F)
		i++
	}

	*data = buf[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one unsigned value
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQBool reads a flag; any non-zero value is true
func DecodeVLQBool(data *[]byte) (bool, error) {
	v, err := DecodeVLQUint(data)
	return v != 0, err
}

// DecodeVLQFloat reads a float32 written by EncodeVLQFloat
func DecodeVLQFloat(data *[]byte) (float32, error) {
	v, err := DecodeVLQUint(data)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// EncodeVLQ returns the encoding of v as a new slice
func EncodeVLQ(v int32) []byte {
	output := NewScratchOutput()
	EncodeVLQInt(output, v)
	return append([]byte(nil), output.Result()...)
}

// DecodeVLQ decodes the value at the start of data and reports how many
// bytes it used. data is not modified.
func DecodeVLQ(data []byte) (int32, int, error) {
	rest := data
	v, err := DecodeVLQInt(&rest)
	if err != nil {
		return 0, 0, err
	}
	return v, len(data) - len(rest), nil
}

// EncodeVLQBytes writes a length-prefixed byte string
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a length-prefixed byte string. The result aliases data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	rest := *data
	n, err := DecodeVLQUint(&rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < n {
		return nil, ErrBufferTooSmall
	}
	*data = rest[n:]
	return rest[:n:n], nil
}

// EncodeVLQString writes a length-prefixed string
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString reads a length-prefixed string
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
