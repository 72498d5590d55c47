// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"time"

	"github.com/sirupsen/logrus"
)

// dropPacket records a demux/receive-pipeline drop: increments the
// packets_dropped_total counter, logs at debug, and emits the trace
// event (spec §9's event stream; SPEC_FULL.md §12's metrics surface).
func (c *Conn) dropPacket(now time.Time, level encLevel, reason string) {
	c.metrics.packetsDropped.Inc()
	c.log.WithFields(logrus.Fields{"level": level, "reason": reason}).Debug("packet dropped")
	c.events.Emit(Event{Kind: EventPacketDropped, Level: level, Time: now})
}

// handleDatagram implements spec §4.8 Stages A and B for every packet
// coalesced into one datagram: header protection removal (or, absent
// keys, parking on the level's pending list) and packet-number
// reconstruction. Stages C (AEAD open) and D (frame dispatch) run later,
// out of the decrypted-packet queue, from advanceHandshake -- this
// mirrors the source's split between "remove header protection
// eagerly, queue the recovered packet number" and "the handshake task's
// per-iteration pass over qpkts".
func (c *Conn) handleDatagram(now time.Time, d *datagram) {
	b := d.b
	for len(b) > 0 {
		if b[0]&0x40 == 0 {
			// Fixed bit must be set (spec §4.7 step 1); discard the
			// remainder of the datagram.
			return
		}

		var raw []byte
		var pnOffset int
		var long bool
		var level encLevel

		if isLongHeader(b[0]) {
			h, ok := parseLongHeaderPrefix(b)
			if !ok {
				return
			}
			pnOff, totalLen, ok := parseLongHeaderLengthAndPNOffset(b, h)
			if !ok {
				return
			}
			packetLen := pnOff + totalLen
			if packetLen < pnOff || packetLen > len(b) {
				return
			}
			raw = b[:packetLen]
			b = b[packetLen:]
			pnOffset = pnOff
			long = true
			level = h.ptype.level()
		} else {
			cidLen := len(c.scid)
			if len(b) < 1+cidLen {
				return
			}
			raw = b
			b = nil
			pnOffset = 1 + cidLen
			long = false
			level = level1RTT
		}

		if len(raw) < pnOffset+4+16 {
			c.dropPacket(now, level, "short buffer")
			continue // short-buffer (spec §4.8 Stage A bound): drop, continue datagram
		}

		lvl := c.levels[level]
		if lvl == nil {
			c.dropPacket(now, level, "no level state")
			continue
		}
		if !lvl.rxSecrets.isSet() {
			lvl.queueRXProtected(raw, pnOffset, long)
			continue
		}

		space := spaceForLevel(level)
		pkt, err := removeHeaderProtectionAndParse(raw, pnOffset, long, lvl.rxSecrets, c.spaces[space].rxLargestPN)
		if err != nil {
			c.dropPacket(now, level, "header protection removal failed")
			continue
		}
		if len(lvl.rxQueue) >= maxRXPackets {
			c.dropPacket(now, level, "rx queue full")
			continue
		}
		lvl.rxQueue = append(lvl.rxQueue, pkt)
	}
	c.touch(now)
}

// dispatchDecrypted implements spec §4.8 Stages C and D for every packet
// queued at level: AEAD-open, then walk the frame loop, then fold the
// packet into the space's largest-PN/ACK-range bookkeeping (spec §4.8's
// final paragraph, invariant 1).
func (c *Conn) dispatchDecrypted(now time.Time, level encLevel) error {
	lvl := c.levels[level]
	queue := lvl.rxQueue
	lvl.rxQueue = nil
	space := spaceForLevel(level)

	for _, pkt := range queue {
		plaintext, err := aeadOpen(lvl.rxSecrets, pkt.num, pkt.aad, pkt.payload)
		if err != nil {
			c.metrics.packetsDropped.Inc()
			c.log.WithFields(logrus.Fields{"level": level, "pn": int64(pkt.num), "err": err}).Debug("packet dropped: AEAD authentication failed")
			c.events.Emit(Event{Kind: EventPacketDropped, Level: level, PN: pkt.num, Time: now, Err: err})
			continue
		}
		if level == levelHandshake && c.state == connStateServerInitial {
			c.state = connStateServerHandshake
		}
		ackEliciting, terr := c.dispatchFrames(now, level, space, plaintext)
		if terr != nil {
			return terr
		}
		c.spaces[space].onPacketReceived(pkt.num, ackEliciting)
		c.events.Emit(Event{Kind: EventPacketReceived, Level: level, PN: pkt.num, Size: len(plaintext), Time: now})
	}
	return nil
}

// dispatchFrames walks one packet's plaintext payload, applying the
// frame table from spec §4.8 Stage D. It returns whether the packet
// contained an ack-eliciting frame; a non-nil error is always
// connection-fatal (a *TransportError), matching spec §7's propagation
// policy for frame-parse failures.
func (c *Conn) dispatchFrames(now time.Time, level encLevel, space numberSpace, payload []byte) (ackEliciting bool, err *TransportError) {
	for len(payload) > 0 {
		ftype := payload[0]
		rest := payload[1:]
		switch ftype {
		case frameTypePadding:
			n := 0
			for n < len(rest) && rest[n] == frameTypePadding {
				n++
			}
			payload = rest[n:]

		case frameTypePing:
			ackEliciting = true
			payload = rest

		case frameTypeAck, frameTypeAckECN:
			ranges, _, n, perr := parseAckFrame(rest, c.peerTP.ackDelayExponent, c.spaces[space].txNextPN)
			if perr != nil {
				return ackEliciting, perr
			}
			c.handleAckFrame(now, level, space, ranges)
			payload = rest[n:]

		case frameTypeCrypto:
			off, data, n, ok := parseCryptoFrame(rest)
			if !ok {
				return ackEliciting, errFrameEncoding("truncated CRYPTO frame")
			}
			ackEliciting = true
			c.handleCryptoFrame(level, off, data)
			payload = rest[n:]

		case frameTypeConnectionClose, frameTypeConnectionCloseApp:
			_, n, ok := parseConnectionCloseFrame(ftype, rest)
			if !ok {
				return ackEliciting, errFrameEncoding("truncated CONNECTION_CLOSE")
			}
			_ = n
			c.enterDraining(now)
			return ackEliciting, nil

		case frameTypeNewConnectionID:
			ackEliciting = true
			n, ok := parseNewConnectionIDFrame(rest)
			if !ok {
				return ackEliciting, errFrameEncoding("truncated NEW_CONNECTION_ID")
			}
			payload = rest[n:]

		case frameTypeHandshakeDone:
			ackEliciting = true
			payload = rest

		default:
			// This core implements a transport-only handshake endpoint
			// and does not process application streams (spec §1
			// Non-goals); an unrecognized frame type here cannot be
			// safely skipped without knowing its length.
			return ackEliciting, errFrameEncoding("unsupported frame type")
		}
	}
	return ackEliciting, nil
}

// handleCryptoFrame implements spec §4.8 Stage D's CRYPTO row and
// feeds any now-in-order bytes to the TLS engine (spec §4.10
// provide_quic_data), draining previously-deferred out-of-order frames
// as they become contiguous (spec §9's "retain indefinitely within the
// pending-packet list" resolution of the open question, scenario S4).
func (c *Conn) handleCryptoFrame(level encLevel, offset int64, data []byte) {
	lvl := c.levels[level]
	if offset != lvl.rx.expectedOffset {
		if offset > lvl.rx.expectedOffset {
			lvl.rxPendingCrypto = append(lvl.rxPendingCrypto, pendingCryptoFrame{
				offset: offset,
				data:   append([]byte(nil), data...),
			})
		}
		return
	}
	c.deliverInOrderCrypto(level, data)
	for {
		progressed := false
		for i, pf := range lvl.rxPendingCrypto {
			if pf.offset == lvl.rx.expectedOffset {
				c.deliverInOrderCrypto(level, pf.data)
				lvl.rxPendingCrypto = append(lvl.rxPendingCrypto[:i], lvl.rxPendingCrypto[i+1:]...)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
}

func (c *Conn) deliverInOrderCrypto(level encLevel, data []byte) {
	lvl := c.levels[level]
	lvl.rx.expectedOffset += int64(len(data))
	if c.hs.tls != nil {
		c.hs.provideData(level, data)
	}
}
