// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "encoding/binary"

// maxVarint is the largest value representable by a QUIC variable-length
// integer (2^62 - 1).
const maxVarint = (1 << 62) - 1

// appendVarint appends v to b using the smallest QUIC variable-length
// integer encoding that can represent it. It panics if v exceeds maxVarint.
func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(b, byte(v))
	case v <= 16383:
		return append(b, 0x40|byte(v>>8), byte(v))
	case v <= 1073741823:
		return append(b,
			0x80|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	case v <= maxVarint:
		return append(b,
			0xc0|byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("quic: varint value out of range")
	}
}

// varintLen returns the number of bytes appendVarint(nil, v) would produce.
func varintLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}

// consumeVarint parses a QUIC variable-length integer from the front of b.
// It returns the value, the number of bytes consumed, and false if b does
// not contain a complete encoding.
func consumeVarint(b []byte) (v uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, 0, false
	}
	v = uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = (v << 8) | uint64(b[i])
	}
	return v, length, true
}

// consumeUint32 reads a big-endian uint32 from the front of b.
func consumeUint32(b []byte) (v uint32, n int, ok bool) {
	if len(b) < 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(b), 4, true
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}
