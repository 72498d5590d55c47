// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/rand"

	"github.com/rs/xid"
)

// cidMaxLen is the maximum length of a QUIC connection ID (spec §6).
const cidMaxLen = 20

// defaultLocalCIDLen is the length of connection IDs this endpoint issues,
// unless overridden by Config.
const defaultLocalCIDLen = 8

// cid is an opaque QUIC connection identifier, 0..cidMaxLen bytes.
// It is small enough to pass by value and use as a map key via cidKey.
type cid []byte

func (c cid) key() string { return string(c) }

// readCID reads a length-prefixed connection ID: one length byte followed
// by that many bytes. It fails if the declared length exceeds cidMaxLen or
// the buffer is short. See spec §4.1.
func readCID(b []byte) (id cid, n int, ok bool) {
	if len(b) < 1 {
		return nil, 0, false
	}
	l := int(b[0])
	if l > cidMaxLen || len(b) < 1+l {
		return nil, 0, false
	}
	id = append(cid(nil), b[1:1+l]...)
	return id, 1 + l, true
}

func appendCIDWithLen(b []byte, id cid) []byte {
	b = append(b, byte(len(id)))
	return append(b, id...)
}

// newLocalCID generates a connection ID of length n for this endpoint to
// issue to a peer. It uses xid's 12-byte, time-ordered, globally unique
// identifier as entropy, XOR-folding it down to the requested length when
// n is shorter than 12 so every input byte — including xid's counter,
// which is what actually distinguishes CIDs minted within the same
// process during the same wall-clock second — still affects the result.
// Truncating instead would drop the counter whenever n <= 8, since xid
// lays out time(4)+machine(3)+pid(2)+counter(3) and machine+pid are
// constant within one process: every CID minted in the same second would
// come out identical.
func newLocalCID(n int) (cid, error) {
	if n <= 0 {
		return cid{}, nil
	}
	id := xid.New().Bytes() // 12 bytes
	out := make([]byte, n)
	if n <= len(id) {
		for i, b := range id {
			out[i%n] ^= b
		}
		return out, nil
	}
	copy(out, id)
	if _, err := rand.Read(out[len(id):]); err != nil {
		return nil, err
	}
	return out, nil
}
