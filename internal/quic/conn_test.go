// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"sync"
	"testing"
	"time"
)

// testListener is a fake connListener recording every datagram a Conn
// hands it and every CID it releases, grounded on the teacher's
// testConnListener fake in the original conn_test.go harness.
type testListener struct {
	mu       sync.Mutex
	sent     [][]byte
	released []cid
}

func (l *testListener) sendDatagram(p []byte, addr netip.AddrPort) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), p...))
	return nil
}

func (l *testListener) releaseConnID(id cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, id)
}

// testConnHooks drives a Conn's loop on a fake clock: it blocks nextMessage
// until either a real message is posted or the test explicitly advances
// time past the pending timer (spec §5's cooperative scheduling, adapted
// from the teacher's test-time-control idiom rather than reusing real
// timers in tests).
type testConnHooks struct {
	tc *testConn
}

func (h *testConnHooks) nextMessage(msgc chan any, timer time.Time) (time.Time, any) {
	tc := h.tc
	for {
		select {
		case m := <-msgc:
			return tc.currentTime(), m
		default:
		}
		select {
		case m := <-msgc:
			return tc.currentTime(), m
		case <-tc.advanced:
			now := tc.currentTime()
			if !timer.After(now) {
				return timer, timerEvent{}
			}
		}
	}
}

type testConn struct {
	t        *testing.T
	conn     *Conn
	listener *testListener

	mu       sync.Mutex
	now      time.Time
	advanced chan struct{}
}

func newTestConn(t *testing.T, side connSide) *testConn {
	t.Helper()
	tc := &testConn{
		t:        t,
		listener: &testListener{},
		now:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		advanced: make(chan struct{}, 1),
	}
	hooks := &testConnHooks{tc: tc}
	odcid := cid{1, 2, 3, 4, 5, 6, 7, 8}
	peerSCID := cid{8, 7, 6, 5, 4, 3, 2, 1}
	c, err := newConn(tc.now, side, 1, odcid, peerSCID, defaultLocalCIDLen,
		netip.MustParseAddrPort("127.0.0.1:4433"), tc.listener, hooks)
	if err != nil {
		t.Fatalf("newConn: %v", err)
	}
	tc.conn = c
	return tc
}

func (tc *testConn) currentTime() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

// advanceTo moves the fake clock forward and wakes the loop so it can
// re-evaluate its pending timer.
func (tc *testConn) advanceTo(now time.Time) {
	tc.mu.Lock()
	tc.now = now
	tc.mu.Unlock()
	select {
	case tc.advanced <- struct{}{}:
	default:
	}
}

// wait blocks until every previously posted message has been processed,
// by round-tripping a no-op through the loop (msgc is a single-consumer
// FIFO, so this always runs after anything queued earlier).
func (tc *testConn) wait() {
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {})
}

func (tc *testConn) advanceToTimer() {
	tc.wait()
	tc.advanceTo(tc.conn.idleDeadline())
	tc.wait()
}

func TestConnRunOnLoop(t *testing.T) {
	tc := newTestConn(t, serverSide)
	var ranAt time.Time
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		ranAt = now
	})
	if !ranAt.Equal(tc.currentTime()) {
		t.Errorf("func ran on loop at %v, want %v", ranAt, tc.currentTime())
	}
}

func TestConnIdleTimeout(t *testing.T) {
	tc := newTestConn(t, serverSide)
	// advanceToTimer's final wait() only returns once the loop has either
	// run a no-op or already exited, so by this point the timerEvent from
	// the idle deadline has been fully processed either way.
	tc.advanceToTimer()
	if tc.conn.state != connStateClosed {
		t.Errorf("state = %v, want closed", tc.conn.state)
	}
	tc.listener.mu.Lock()
	defer tc.listener.mu.Unlock()
	if len(tc.listener.released) != 1 {
		t.Errorf("released %d CIDs, want 1", len(tc.listener.released))
	}
}

func TestConnExit(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.conn.exit()
	if !tc.conn.exited {
		t.Errorf("exited = false after exit()")
	}
}
