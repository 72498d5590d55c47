// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

// TestNewLocalCIDNoCollisionWithinSameSecond guards against truncating
// xid's 12-byte identifier down to local_cid_len: within one process,
// xid's time/machine/pid bytes are constant for calls made in the same
// wall-clock second, so only the counter bytes distinguish them. A
// truncating implementation drops those bytes whenever local_cid_len <
// 12 and mints identical SCIDs, silently merging two clients' packets
// in the listener's cids index.
func TestNewLocalCIDNoCollisionWithinSameSecond(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id, err := newLocalCID(defaultLocalCIDLen)
		if err != nil {
			t.Fatalf("newLocalCID: %v", err)
		}
		if len(id) != defaultLocalCIDLen {
			t.Fatalf("newLocalCID returned length %d, want %d", len(id), defaultLocalCIDLen)
		}
		k := id.key()
		if seen[k] {
			t.Fatalf("newLocalCID produced a duplicate CID after %d calls: %x", i, id)
		}
		seen[k] = true
	}
}

// TestNewLocalCIDShortLengths checks that lengths shorter than the
// underlying 12-byte xid come back at exactly the requested length.
func TestNewLocalCIDShortLengths(t *testing.T) {
	for _, n := range []int{1, 4, 8} {
		id, err := newLocalCID(n)
		if err != nil {
			t.Fatalf("newLocalCID(%d): %v", n, err)
		}
		if len(id) != n {
			t.Fatalf("newLocalCID(%d) returned length %d", n, len(id))
		}
	}
}

func TestNewLocalCIDZeroLength(t *testing.T) {
	id, err := newLocalCID(0)
	if err != nil {
		t.Fatalf("newLocalCID(0): %v", err)
	}
	if len(id) != 0 {
		t.Fatalf("newLocalCID(0) returned length %d, want 0", len(id))
	}
}
