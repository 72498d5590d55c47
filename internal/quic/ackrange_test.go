// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestAckRangeSetMerge(t *testing.T) {
	var s ackRangeSet
	s.add(5)
	s.add(3)
	s.add(4)
	wantRanges(t, &s, []ackRange{{3, 5}})

	s.add(1)
	wantRanges(t, &s, []ackRange{{3, 5}, {1, 1}})

	s.add(2)
	wantRanges(t, &s, []ackRange{{1, 5}})
}

func TestAckRangeSetIdempotent(t *testing.T) {
	var s ackRangeSet
	s.add(10)
	s.add(10)
	wantRanges(t, &s, []ackRange{{10, 10}})
}

func TestAckRangeSetDisjointDescending(t *testing.T) {
	var s ackRangeSet
	for _, pn := range []packetNumber{100, 50, 200, 1} {
		s.add(pn)
	}
	wantRanges(t, &s, []ackRange{{200, 200}, {100, 100}, {50, 50}, {1, 1}})
}

func wantRanges(t *testing.T, s *ackRangeSet, want []ackRange) {
	t.Helper()
	if len(s.ranges) != len(want) {
		t.Fatalf("got %v ranges, want %v: %+v", len(s.ranges), len(want), s.ranges)
	}
	for i, r := range want {
		if s.ranges[i] != r {
			t.Fatalf("range[%d] = %+v, want %+v (all: %+v)", i, s.ranges[i], r, s.ranges)
		}
	}
}
