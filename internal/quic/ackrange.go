// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// ackRange is a closed interval [first, last] of packet numbers, both
// inclusive (spec §3 "AckRangeSet").
type ackRange struct {
	first, last packetNumber
}

// ackRangeSet is an ordered list of disjoint, non-touching closed
// intervals over packet numbers, held newest-first (spec §3, §4.4).
type ackRangeSet struct {
	ranges []ackRange
}

// numRanges returns the number of disjoint ranges currently held.
func (s *ackRangeSet) numRanges() int { return len(s.ranges) }

// contains reports whether pn falls within any held range.
func (s *ackRangeSet) contains(pn packetNumber) bool {
	for _, r := range s.ranges {
		if pn >= r.first && pn <= r.last {
			return true
		}
	}
	return false
}

// add inserts pn into the set, merging with adjacent or overlapping ranges
// as needed (spec §3 invariant (c)). Inserting the same pn twice is
// idempotent.
func (s *ackRangeSet) add(pn packetNumber) {
	// Ranges are newest-first (descending). Find the first range whose
	// first-1 is <= pn, i.e. where pn might merge or belongs before.
	for i := range s.ranges {
		r := &s.ranges[i]
		switch {
		case pn >= r.first && pn <= r.last:
			return // already present
		case pn == r.last+1:
			r.last = pn
			// May now touch the previous (newer) range.
			if i > 0 && s.ranges[i-1].first == r.last+1 {
				s.ranges[i-1].first = r.first
				s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
			}
			return
		case pn == r.first-1:
			r.first = pn
			// May now touch the next (older) range.
			if i+1 < len(s.ranges) && s.ranges[i+1].last == r.first-1 {
				r.first = s.ranges[i+1].first
				s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
			}
			return
		case pn > r.last:
			// Belongs before this range (newer than it).
			s.ranges = append(s.ranges, ackRange{})
			copy(s.ranges[i+1:], s.ranges[i:])
			s.ranges[i] = ackRange{first: pn, last: pn}
			return
		}
	}
	s.ranges = append(s.ranges, ackRange{first: pn, last: pn})
}

// largest returns the largest packet number in the set and true, or
// (0, false) if the set is empty.
func (s *ackRangeSet) largest() (packetNumber, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].last, true
}

// isEmpty reports whether the set holds no ranges.
func (s *ackRangeSet) isEmpty() bool { return len(s.ranges) == 0 }
