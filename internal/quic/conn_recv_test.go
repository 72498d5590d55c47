// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"time"

	"testing"
)

// TestHandleCryptoFrameOutOfOrder covers spec §9's resolution of the
// out-of-order CRYPTO reassembly open question: frames that arrive ahead
// of the expected offset are held and drained once the gap closes
// (scenario S4).
func TestHandleCryptoFrameOutOfOrder(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		c.handleCryptoFrame(levelInitial, 5, []byte("world"))
		lvl := c.levels[levelInitial]
		if lvl.rx.expectedOffset != 0 {
			t.Errorf("after out-of-order frame, expectedOffset = %d, want 0", lvl.rx.expectedOffset)
		}
		if len(lvl.rxPendingCrypto) != 1 {
			t.Fatalf("rxPendingCrypto has %d entries, want 1", len(lvl.rxPendingCrypto))
		}

		c.handleCryptoFrame(levelInitial, 0, []byte("hello"))
		if lvl.rx.expectedOffset != 10 {
			t.Errorf("expectedOffset = %d, want 10", lvl.rx.expectedOffset)
		}
		if len(lvl.rxPendingCrypto) != 0 {
			t.Errorf("rxPendingCrypto has %d entries, want 0", len(lvl.rxPendingCrypto))
		}
	})
}

// TestHandleCryptoFrameInOrder covers the straightforward in-order
// delivery path (scenario S3).
func TestHandleCryptoFrameInOrder(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		c.handleCryptoFrame(levelInitial, 0, []byte("hello"))
		c.handleCryptoFrame(levelInitial, 5, []byte("world"))
		lvl := c.levels[levelInitial]
		if lvl.rx.expectedOffset != 10 {
			t.Errorf("expectedOffset = %d, want 10", lvl.rx.expectedOffset)
		}
	})
}

// TestDispatchFramesPingAckEliciting covers spec §4.8 Stage D's
// ack-eliciting classification and PADDING's run-length skip.
func TestDispatchFramesPingAckEliciting(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		elic, err := c.dispatchFrames(now, levelInitial, initialSpace, []byte{frameTypePadding, frameTypePadding, frameTypePing})
		if err != nil {
			t.Fatalf("dispatchFrames: %v", err)
		}
		if !elic {
			t.Errorf("ackEliciting = false, want true after PING")
		}
	})
}

// TestDispatchFramesUnsupportedIsFatal documents this core's deliberate
// simplification: frame types beyond the transport-only handshake
// vocabulary cannot be safely skipped (their length is unknown), so they
// are connection-fatal rather than silently dropped.
func TestDispatchFramesUnsupportedIsFatal(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		_, err := c.dispatchFrames(now, levelInitial, initialSpace, []byte{0x08 /* STREAM */})
		if err == nil {
			t.Fatalf("dispatchFrames on STREAM frame: got nil error, want *TransportError")
		}
	})
}

func TestHandleCryptoFrameDuplicate(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		c.handleCryptoFrame(levelInitial, 0, []byte("hello"))
		c.handleCryptoFrame(levelInitial, 0, []byte("hello")) // stale retransmit, ignored
		lvl := c.levels[levelInitial]
		if lvl.rx.expectedOffset != 5 {
			t.Errorf("expectedOffset = %d after duplicate, want 5", lvl.rx.expectedOffset)
		}
	})
}
