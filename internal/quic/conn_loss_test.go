// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"
	"time"
)

// TestHandleAckFrameGapDetection reproduces spec §8 scenario S5: PN 0, 1,
// and 2 each carry a 100-byte CRYPTO frame, PN 1 is lost, and an ACK for
// {largest 2, first_range 0, ranges [(gap 0, range 0)]} arrives. This
// should leave cryptoInFlight at 100 (PN 1's bytes, still unacknowledged)
// and move PN 1's record to retransmit-pending without touching the
// counter a second time.
func TestHandleAckFrameGapDetection(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		lvl := c.levels[levelInitial]
		lvl.recordSentCryptoFrame(0, 0, 100)
		lvl.recordSentCryptoFrame(1, 100, 100)
		lvl.recordSentCryptoFrame(2, 200, 100)
		c.cryptoInFlight = 300

		ranges := []ackRange{{first: 2, last: 2}, {first: 0, last: 0}}
		c.handleAckFrame(now, levelInitial, initialSpace, ranges)

		if c.cryptoInFlight != 100 {
			t.Errorf("cryptoInFlight = %d, want 100 (PN 1's 100 bytes still unacked)", c.cryptoInFlight)
		}
		if !lvl.hasRetransmitPending() {
			t.Fatalf("expected PN 1's record to be queued for retransmit")
		}
		rec, ok := lvl.popRetransmit()
		if !ok || rec.offset != 100 || rec.length != 100 {
			t.Errorf("retransmit record = %+v, want {offset:100 length:100}", rec)
		}
		if !c.retransmit {
			t.Errorf("conn.retransmit = false, want true after a gap was detected")
		}
	})
}

// TestHandleAckFrameThenResend completes S5: after PN 1 is retransmitted
// as a new packet, cryptoInFlight should rise back to 200 (PN 1's
// original 100 bytes, never acknowledged and still counted, plus the 100
// just resent).
func TestHandleAckFrameThenResend(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		lvl := c.levels[levelInitial]
		lvl.recordSentCryptoFrame(0, 0, 100)
		lvl.recordSentCryptoFrame(1, 100, 100)
		lvl.recordSentCryptoFrame(2, 200, 100)
		c.cryptoInFlight = 300

		c.handleAckFrame(now, levelInitial, initialSpace,
			[]ackRange{{first: 2, last: 2}, {first: 0, last: 0}})
		if c.cryptoInFlight != 100 {
			t.Fatalf("cryptoInFlight = %d, want 100 before resend", c.cryptoInFlight)
		}

		rec, ok := lvl.popRetransmit()
		if !ok {
			t.Fatalf("no retransmit-pending record for PN 1")
		}
		lvl.recordSentCryptoFrame(3, rec.offset, rec.length)
		c.cryptoInFlight += rec.length

		if c.cryptoInFlight != 200 {
			t.Errorf("cryptoInFlight = %d, want 200 after resend", c.cryptoInFlight)
		}
	})
}

func TestHandleAckFrameEmptyRangesIsNoop(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		c.cryptoInFlight = 42
		c.handleAckFrame(now, levelInitial, initialSpace, nil)
		if c.cryptoInFlight != 42 {
			t.Errorf("cryptoInFlight changed on empty ranges: got %d, want 42", c.cryptoInFlight)
		}
	})
}
