// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestTXRingFillAndDrain(t *testing.T) {
	r := newTXRing()
	if !r.empty() {
		t.Fatalf("new ring is not empty")
	}
	for i := 0; i < txBufsNB; i++ {
		buf := r.reserve()
		if buf == nil {
			t.Fatalf("reserve returned nil before ring was full (i=%d)", i)
		}
		buf = append(buf, byte(i))
		r.commit(len(buf))
	}
	if !r.full() {
		t.Fatalf("ring not full after %d commits", txBufsNB)
	}
	if r.reserve() != nil {
		t.Fatalf("reserve on a full ring returned a buffer")
	}

	for i := 0; i < txBufsNB; i++ {
		d, ok := r.peek()
		if !ok {
			t.Fatalf("peek failed at i=%d", i)
		}
		if len(d) != 1 || d[0] != byte(i) {
			t.Errorf("peek at i=%d = %v, want [%d]", i, d, i)
		}
		r.advance()
	}
	if !r.empty() {
		t.Errorf("ring not empty after draining every buffer")
	}
}

func TestTXRingWraparound(t *testing.T) {
	r := newTXRing()
	for round := 0; round < 3; round++ {
		buf := r.reserve()
		buf = append(buf, byte(round))
		r.commit(len(buf))
		d, ok := r.peek()
		if !ok || d[0] != byte(round) {
			t.Fatalf("round %d: peek = %v, ok=%v", round, d, ok)
		}
		r.advance()
	}
	if !r.empty() {
		t.Errorf("ring should be empty after equal reserve/advance counts")
	}
}
