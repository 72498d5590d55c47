// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

// connSide distinguishes which endpoint of the handshake a Conn plays.
// This core is server-focused (spec §4.12), but the type is kept
// symmetric in the teacher's style.
type connSide int8

const (
	serverSide connSide = iota
	clientSide
)

func (s connSide) String() string {
	if s == clientSide {
		return "client"
	}
	return "server"
}

// connState is the per-connection lifecycle state machine (SPEC_FULL.md
// §12.1, grounding spec §4.12 and §5's draining/closed description).
type connState int8

const (
	connStateServerInitial connState = iota
	connStateServerHandshake
	connStateConfirmed
	connStateDraining
	connStateClosed
)

func (s connState) String() string {
	switch s {
	case connStateServerInitial:
		return "server-initial"
	case connStateServerHandshake:
		return "server-handshake"
	case connStateConfirmed:
		return "confirmed"
	case connStateDraining:
		return "draining"
	case connStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// defaultMaxIdleTimeout is used when no Config override is given
// (SPEC_FULL.md §10.3).
const defaultMaxIdleTimeout = 30 * time.Second

// connListener is the subset of Listener a Conn uses to write datagrams
// and release its CIDs, kept as an interface so tests can substitute a
// fake (spec §4.7, §5 "external UDP send interface").
type connListener interface {
	sendDatagram(p []byte, addr netip.AddrPort) error
	releaseConnID(id cid)
}

// connTestHooks lets tests drive the Conn's event loop deterministically
// (spec §5's cooperative scheduling model, adapted from the teacher's
// nextMessage hook pattern in conn_test.go).
type connTestHooks interface {
	nextMessage(msgc chan any, timer time.Time) (now time.Time, m any)
}

// timerEvent is posted to the loop when the idle/handshake timer fires.
type timerEvent struct{}

// exitMessage asks the loop to terminate immediately (spec §5
// "cancellation ... immediately transitions to closed").
type exitMessage struct{}

// datagram is a UDP payload delivered to the connection's loop by the
// listener demux (spec §4.7 step 6 "wake the connection's handshake
// task").
type datagram struct {
	b    []byte
	addr netip.AddrPort
}

// Conn is one QUIC connection: the aggregate of the six sub-structures
// named in spec §2/§9 (codec is stateless and has no home here), owned
// exclusively by this connection's loop goroutine (spec §5 "per-connection
// state is exclusive to that task").
type Conn struct {
	side      connSide
	listener  connListener
	testHooks connTestHooks
	log       *logrus.Entry
	events    EventSink
	metrics   *metricsSet

	version uint32
	odcid   cid // peer's original chosen DCID; echoed in transport params only
	dcid    cid // peer's SCID: our outgoing long-header DCID
	scid    cid // our own CID, issued to the peer

	levels [numEncLevels]*levelState
	spaces [numberSpaceCount]*pnSpaceState

	localTP   transportParameters
	peerTP    transportParameters
	peerTPSet bool

	cryptoInFlight int
	retransmit     bool

	sendLevel encLevel

	tx *txRing
	w  packetWriter

	state connState

	hs *handshakeDriver

	pendingHandshakeDone bool
	pendingNewConnID     []newConnectionIDFrame

	idleTimeout  time.Duration
	lastActivity time.Time

	remoteAddr netip.AddrPort

	msgc   chan any
	donec  chan struct{}
	exited bool
}

// newConn implements spec §4.6's creation path up through key derivation;
// the caller (listener demux, §4.7) supplies the version/ODCID/peer SCID
// parsed from the first Initial.
func newConn(
	now time.Time,
	side connSide,
	version uint32,
	odcid, peerSCID cid,
	localCIDLen int,
	peerAddr netip.AddrPort,
	listener connListener,
	testHooks connTestHooks,
) (*Conn, error) {
	scid, err := newLocalCID(localCIDLen)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		side:         side,
		listener:     listener,
		testHooks:    testHooks,
		log:          logrus.WithFields(logrus.Fields{"component": "quic.conn", "scid": scid.key(), "side": side.String()}),
		events:       nopEventSink{},
		metrics:      newMetricsSet(),
		version:      version,
		odcid:        odcid,
		dcid:         peerSCID,
		scid:         scid,
		localTP:      defaultTransportParameters(),
		sendLevel:    levelInitial,
		tx:           newTXRing(),
		state:        connStateServerInitial,
		idleTimeout:  defaultMaxIdleTimeout,
		lastActivity: now,
		remoteAddr:   peerAddr,
		msgc:         make(chan any, 16),
		donec:        make(chan struct{}),
	}
	for l := encLevel(0); l < numEncLevels; l++ {
		c.levels[l] = newLevelState(l)
	}
	for s := numberSpace(0); s < numberSpaceCount; s++ {
		c.spaces[s] = newPNSpaceState()
	}

	initial := deriveInitialSecrets(side == serverSide, odcid)
	c.levels[levelInitial].installRXSecrets(initial.rx)
	c.levels[levelInitial].installTXSecrets(initial.tx)

	c.hs = newHandshakeDriver(c)

	go c.loop(now)
	return c, nil
}

// idleDeadline returns the time at which the connection's idle timer
// expires (spec §5 "measured from the last successful RX or TX packet").
func (c *Conn) idleDeadline() time.Time {
	return c.lastActivity.Add(c.idleTimeout)
}

// touch resets the idle timer on successful RX or TX.
func (c *Conn) touch(now time.Time) {
	c.lastActivity = now
}

// loop is the connection's single cooperative task (spec §5: "at any
// instant at most one task per connection is active"). It is the sole
// owner of every field above; all external interaction happens by
// posting to msgc via sendMsg/runOnLoop.
func (c *Conn) loop(now time.Time) {
	defer close(c.donec)
	timer := c.idleDeadline()
	for {
		var m any
		now, m = c.nextMessage(timer)
		switch v := m.(type) {
		case exitMessage:
			c.enterClosed(now)
			return
		case timerEvent:
			c.handleIdleTimeout(now)
		case *datagram:
			c.handleDatagram(now, v)
		case func(now time.Time, c *Conn):
			v(now, c)
		}
		if c.state == connStateClosed {
			return
		}
		c.advanceHandshake(now)
		timer = c.idleDeadline()
	}
}

// nextMessage waits for the next event: a posted message, or the idle
// timer firing. Delegates to testHooks when set so tests can drive the
// loop deterministically without real time passing.
func (c *Conn) nextMessage(timer time.Time) (time.Time, any) {
	if c.testHooks != nil {
		return c.testHooks.nextMessage(c.msgc, timer)
	}
	d := time.Until(timer)
	if d <= 0 {
		select {
		case m := <-c.msgc:
			return time.Now(), m
		default:
			return timer, timerEvent{}
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m := <-c.msgc:
		return time.Now(), m
	case <-t.C:
		return timer, timerEvent{}
	}
}

// sendMsg posts m to the loop, unless the connection has already exited.
func (c *Conn) sendMsg(m any) {
	select {
	case c.msgc <- m:
	case <-c.donec:
	}
}

// runOnLoop runs f synchronously on the connection's loop and blocks
// until it returns (spec §5 suspension point (a): "return from its event
// callback with work remaining").
func (c *Conn) runOnLoop(f func(now time.Time, c *Conn)) {
	donec := make(chan struct{})
	c.sendMsg(func(now time.Time, c *Conn) {
		defer close(donec)
		f(now, c)
	})
	select {
	case <-donec:
	case <-c.donec:
	}
}

// exit cancels the connection's task immediately (spec §5
// "cancellation of the connection task immediately transitions to
// closed; no partial writes are issued").
func (c *Conn) exit() {
	if c.exited {
		return
	}
	c.exited = true
	c.sendMsg(exitMessage{})
	<-c.donec
}

func (c *Conn) handleIdleTimeout(now time.Time) {
	switch c.state {
	case connStateDraining:
		c.enterClosed(now)
	default:
		c.log.Debug("idle timeout")
		c.events.Emit(Event{Kind: EventIdleTimeout, Time: now})
		c.enterDraining(now)
		c.enterClosed(now)
	}
}

// enterDraining implements spec §5's draining-state entry: discard all
// RX frames except CONNECTION_CLOSE, send nothing further except
// possibly one CONNECTION_CLOSE.
func (c *Conn) enterDraining(now time.Time) {
	if c.state == connStateDraining || c.state == connStateClosed {
		return
	}
	c.state = connStateDraining
	c.log.Debug("entering draining state")
	c.events.Emit(Event{Kind: EventDraining, Time: now})
}

func (c *Conn) enterClosed(now time.Time) {
	if c.state == connStateClosed {
		return
	}
	c.state = connStateClosed
	c.log.Debug("connection closed")
	c.events.Emit(Event{Kind: EventClosed, Time: now})
	if c.listener != nil {
		c.listener.releaseConnID(c.scid)
	}
	for l := range c.levels {
		c.levels[l] = nil
	}
}

// closeWithError tears the connection down per spec §7's disposition
// table: best-effort CONNECTION_CLOSE, then draining.
func (c *Conn) closeWithError(now time.Time, te *TransportError) {
	if c.state == connStateClosed || c.state == connStateDraining {
		return
	}
	if te.Kind != kindCryptoBufferExhausted {
		c.sendConnectionClose(now, te)
	}
	c.enterDraining(now)
}
