// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{
		0, 1, 63, 64,
		16383, 16384,
		1<<30 - 1, 1 << 30,
		maxVarint,
	} {
		b := appendVarint(nil, v)
		if got, want := len(b), varintLen(v); got != want {
			t.Errorf("appendVarint(%v) len = %v, want %v", v, got, want)
		}
		got, n, ok := consumeVarint(b)
		if !ok || n != len(b) || got != v {
			t.Errorf("consumeVarint(appendVarint(%v)) = %v, %v, %v; want %v, %v, true", v, got, n, ok, v, len(b))
		}
	}
}

func TestVarintLengths(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1}, {63, 1}, {64, 2}, {16383, 2}, {16384, 4},
		{1<<30 - 1, 4}, {1 << 30, 8}, {maxVarint, 8},
	}
	for _, c := range cases {
		if got := varintLen(c.v); got != c.want {
			t.Errorf("varintLen(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestConsumeVarintShortBuffer(t *testing.T) {
	full := appendVarint(nil, 1073741823)
	for i := 0; i < len(full); i++ {
		if _, _, ok := consumeVarint(full[:i]); ok {
			t.Errorf("consumeVarint(%d of %d bytes) succeeded, want failure", i, len(full))
		}
	}
	if _, _, ok := consumeVarint(nil); ok {
		t.Errorf("consumeVarint(nil) succeeded, want failure")
	}
}

func TestReconstructPN(t *testing.T) {
	cases := []struct {
		largest   packetNumber
		truncated uint64
		nbits     uint
		want      packetNumber
	}{
		{0xffffffff, 0x01, 8, 0x100000001},
		{0x00, 0xff, 8, 0xff},
	}
	for _, c := range cases {
		got := reconstructPacketNumber(c.largest, c.truncated, c.nbits)
		if got != c.want {
			t.Errorf("reconstructPacketNumber(%v, %#x, %v) = %#x, want %#x", c.largest, c.truncated, c.nbits, got, c.want)
		}
	}
}
