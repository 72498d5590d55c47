// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// maxCryptoInFlight bounds unacknowledged CRYPTO bytes per connection
// (spec §5 "QUIC_CRYPTO_IN_FLIGHT_MAX (4096)").
const maxCryptoInFlight = 4096

func levelToPacketType(level encLevel) packetType {
	switch level {
	case levelInitial:
		return packetTypeInitial
	case level0RTT:
		return packetType0RTT
	case levelHandshake:
		return packetTypeHandshake
	default:
		return packetType1RTT
	}
}

// maybeSend is the send pipeline's outer packet sequencer (spec §4.11
// "Packet sequencer"): it fills TX ring buffers with coalesced
// datagrams, retransmitting lost CRYPTO data ahead of new data, then
// drains the ring through the external UDP send interface.
func (c *Conn) maybeSend(now time.Time) {
	if c.state == connStateClosed {
		return
	}
	for !c.tx.full() {
		if !c.buildAndQueueDatagram(now) {
			break
		}
	}
	c.drainTX(now)
}

// buildAndQueueDatagram builds one coalesced datagram (one packet per
// encryption level with TX keys installed and something to send) and
// places it on the TX ring. Returns false if there was nothing to send.
func (c *Conn) buildAndQueueDatagram(now time.Time) bool {
	c.w.reset(maxDatagramSize)
	wrote := false
	if c.retransmit {
		wrote = c.buildRetransmits(now)
	} else {
		for level := encLevel(0); level < numEncLevels; level++ {
			if level == level0RTT {
				continue // this core does not send 0-RTT (spec Non-goals)
			}
			if c.buildLevelPacket(now, level) {
				wrote = true
			}
		}
	}
	if !wrote {
		return false
	}
	dst := c.tx.reserve()
	if dst == nil {
		return false
	}
	src := c.w.datagram()
	n := copy(dst[:cap(dst)], src)
	c.tx.commit(n)
	return true
}

// buildLevelPacket implements spec §4.11's packet builder for a single
// encryption level, coalescing into whatever c.w already holds. Returns
// whether it emitted a packet.
func (c *Conn) buildLevelPacket(now time.Time, level encLevel) bool {
	lvl := c.levels[level]
	if lvl == nil || !lvl.txSecrets.isSet() {
		return false
	}
	space := spaceForLevel(level)
	sp := c.spaces[space]
	pnumMaxAcked := sp.rxLargestAckedPN
	ptype := levelToPacketType(level)

	pnum := sp.nextNumber()
	if ptype == packetType1RTT {
		c.w.start1RTTPacket(pnum, pnumMaxAcked, c.dcid)
	} else {
		c.w.startProtectedLongHeaderPacket(pnumMaxAcked, longPacketOut{
			ptype:     ptype,
			version:   1,
			num:       pnum,
			dstConnID: c.dcid,
			srcConnID: c.scid,
		})
	}

	if sp.ackRequired && !sp.rxAckRanges.isEmpty() {
		delay := unscaledAckDelayFromDuration(0, c.localTP.ackDelayExponent)
		c.w.appendAckFrame(sp.rxAckRanges.ranges, delay)
		sp.ackRequired = false
	}

	if level == level1RTT {
		c.appendPostHandshakeFrames()
	}

	avail := int(lvl.tx.unsent(lvl.txSendOffset))
	if avail > 0 {
		room := c.w.remaining() - tlsTagLen - cryptoFrameHeaderLen(lvl.txSendOffset, avail)
		capBudget := maxCryptoInFlight - c.cryptoInFlight
		max := avail
		if max > room {
			max = room
		}
		if max > capBudget {
			max = capBudget
		}
		if max > 0 {
			data := lvl.cutTXCrypto(lvl.txSendOffset, max)
			if len(data) > 0 {
				offset := lvl.txSendOffset
				c.w.appendCryptoFrame(offset, data)
				lvl.txSendOffset += int64(len(data))
				lvl.recordSentCryptoFrame(pnum, offset, len(data))
				c.cryptoInFlight += len(data)
			}
		}
	}

	if ptype == packetTypeInitial && c.side == serverSide && c.w.payloadLen() > 0 {
		target := c.w.pktStart + initialPacketMinLen - tlsTagLen
		if target > len(c.w.buf) {
			c.w.appendPaddingTo(target)
		}
	}

	var sent *sentPacket
	if ptype == packetType1RTT {
		sent = c.w.finish1RTTPacket(pnum, pnumMaxAcked, c.dcid, lvl.txSecrets)
	} else {
		sent = c.w.finishProtectedLongHeaderPacket(pnumMaxAcked, lvl.txSecrets, longPacketOut{
			ptype:     ptype,
			version:   1,
			num:       pnum,
			dstConnID: c.dcid,
			srcConnID: c.scid,
		})
	}
	if sent == nil {
		return false
	}
	c.events.Emit(Event{Kind: EventPacketSent, Level: level, PN: sent.num, Size: sent.size, Time: now})
	return true
}

// appendPostHandshakeFrames emits the one-time HANDSHAKE_DONE and
// NEW_CONNECTION_ID frames scheduled by handshakeDriver.onHandshakeDone
// (spec §4.12's completion step).
func (c *Conn) appendPostHandshakeFrames() {
	if c.pendingHandshakeDone {
		if c.w.remaining() >= 1 {
			c.w.buf = appendHandshakeDoneFrame(c.w.buf)
			c.w.ackEliciting = true
			c.pendingHandshakeDone = false
		}
	}
	for len(c.pendingNewConnID) > 0 {
		f := c.pendingNewConnID[0]
		need := 1 + varintLen(f.seq) + varintLen(f.retirePriorTo) + 1 + len(f.connID) + 16
		if c.w.remaining() < need {
			break
		}
		c.w.buf = appendNewConnectionIDFrame(c.w.buf, f)
		c.w.ackEliciting = true
		c.pendingNewConnID = c.pendingNewConnID[1:]
	}
}

// buildRetransmits implements spec §4.11's retransmit branch: walk each
// level's retransmit-pending list, re-cutting each record at its
// recorded offset and length into a new packet with a new PN.
func (c *Conn) buildRetransmits(now time.Time) bool {
	wrote := false
	any := false
	for level := levelInitial; level <= levelHandshake; level++ {
		lvl := c.levels[level]
		if lvl == nil || !lvl.hasRetransmitPending() || !lvl.txSecrets.isSet() {
			continue
		}
		rec, ok := lvl.popRetransmit()
		if !ok {
			continue
		}
		if c.buildRetransmitPacket(now, level, rec) {
			wrote = true
		}
		any = true
	}
	if lvl := c.levels[level1RTT]; lvl != nil && lvl.hasRetransmitPending() && lvl.txSecrets.isSet() {
		if rec, ok := lvl.popRetransmit(); ok {
			if c.buildRetransmitPacket(now, level1RTT, rec) {
				wrote = true
			}
			any = true
		}
	}
	if !any {
		c.retransmit = false
	}
	return wrote
}

func (c *Conn) buildRetransmitPacket(now time.Time, level encLevel, rec txCryptoFrameRecord) bool {
	lvl := c.levels[level]
	space := spaceForLevel(level)
	sp := c.spaces[space]
	pnumMaxAcked := sp.rxLargestAckedPN
	ptype := levelToPacketType(level)
	pnum := sp.nextNumber()

	if ptype == packetType1RTT {
		c.w.start1RTTPacket(pnum, pnumMaxAcked, c.dcid)
	} else {
		c.w.startProtectedLongHeaderPacket(pnumMaxAcked, longPacketOut{
			ptype: ptype, version: 1, num: pnum, dstConnID: c.dcid, srcConnID: c.scid,
		})
	}

	data := lvl.tx.cut(rec.offset, rec.length)
	if len(data) > 0 {
		c.w.appendCryptoFrame(rec.offset, data)
		lvl.recordSentCryptoFrame(pnum, rec.offset, len(data))
		c.cryptoInFlight += len(data)
	}

	var sent *sentPacket
	if ptype == packetType1RTT {
		sent = c.w.finish1RTTPacket(pnum, pnumMaxAcked, c.dcid, lvl.txSecrets)
	} else {
		sent = c.w.finishProtectedLongHeaderPacket(pnumMaxAcked, lvl.txSecrets, longPacketOut{
			ptype: ptype, version: 1, num: pnum, dstConnID: c.dcid, srcConnID: c.scid,
		})
	}
	if sent == nil {
		return false
	}
	c.events.Emit(Event{Kind: EventPacketSent, Level: level, PN: sent.num, Size: sent.size, Time: now})
	return true
}

// drainTX hands every filled TX ring buffer to the listener's UDP write
// interface, oldest first.
func (c *Conn) drainTX(now time.Time) {
	for {
		d, ok := c.tx.peek()
		if !ok {
			return
		}
		if c.listener != nil {
			c.listener.sendDatagram(d, c.remoteAddr)
		}
		c.tx.advance()
	}
}

// sendConnectionClose builds and immediately transmits a best-effort
// CONNECTION_CLOSE at the highest-available encryption level (spec §7
// "the peer observes either a CONNECTION_CLOSE carrying the error code
// (best-effort, sent once)").
func (c *Conn) sendConnectionClose(now time.Time, te *TransportError) {
	level := encLevel(-1)
	for l := level1RTT; l >= levelInitial; l-- {
		if c.levels[l] != nil && c.levels[l].txSecrets.isSet() {
			level = l
			break
		}
	}
	if level < 0 {
		return
	}
	lvl := c.levels[level]
	space := spaceForLevel(level)
	sp := c.spaces[space]
	pnumMaxAcked := sp.rxLargestAckedPN
	pnum := sp.nextNumber()
	ptype := levelToPacketType(level)
	app := level == level1RTT

	c.w.reset(maxDatagramSize)
	if ptype == packetType1RTT {
		c.w.start1RTTPacket(pnum, pnumMaxAcked, c.dcid)
	} else {
		c.w.startProtectedLongHeaderPacket(pnumMaxAcked, longPacketOut{
			ptype: ptype, version: 1, num: pnum, dstConnID: c.dcid, srcConnID: c.scid,
		})
	}
	c.w.buf = appendConnectionCloseFrame(c.w.buf, app, te.Code, 0, te.Message)
	c.w.ackEliciting = true

	var sent *sentPacket
	if ptype == packetType1RTT {
		sent = c.w.finish1RTTPacket(pnum, pnumMaxAcked, c.dcid, lvl.txSecrets)
	} else {
		sent = c.w.finishProtectedLongHeaderPacket(pnumMaxAcked, lvl.txSecrets, longPacketOut{
			ptype: ptype, version: 1, num: pnum, dstConnID: c.dcid, srcConnID: c.scid,
		})
	}
	if sent == nil || c.listener == nil {
		return
	}
	c.listener.sendDatagram(c.w.datagram(), c.remoteAddr)
	c.events.Emit(Event{Kind: EventTLSAlert, Code: te.Code, Time: now, Err: te})
}
