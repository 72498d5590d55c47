// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// QUIC frame types recognized by this core (spec §4.8's table; RFC 9000
// §19). STREAM_* and every other frame type outside this set are not
// enumerated and are not parsed: dispatchFrames rejects them as a
// frame-encoding error instead of marking the packet ack-eliciting.
const (
	frameTypePadding            = 0x00
	frameTypePing               = 0x01
	frameTypeAck                = 0x02
	frameTypeAckECN             = 0x03
	frameTypeCrypto             = 0x06
	frameTypeNewConnectionID    = 0x18
	frameTypeConnectionClose    = 0x1c
	frameTypeConnectionCloseApp = 0x1d
	frameTypeHandshakeDone      = 0x1e
)

// isAckElicitingFrameType reports whether a frame of the given type makes its
// packet ack-eliciting (spec §4.8: everything but PADDING and ACK).
func isAckElicitingFrameType(ftype byte) bool {
	switch ftype {
	case frameTypePadding, frameTypeAck, frameTypeAckECN:
		return false
	default:
		return true
	}
}

// appendPaddingTo appends zero bytes to b until it reaches size.
func appendPaddingTo(b []byte, size int) []byte {
	for len(b) < size {
		b = append(b, 0)
	}
	return b
}

// appendPingFrame appends a PING frame.
func appendPingFrame(b []byte) []byte {
	return append(b, frameTypePing)
}

// appendCryptoFrame appends a CRYPTO frame carrying data at the given
// stream offset (RFC 9000 §19.6).
func appendCryptoFrame(b []byte, offset int64, data []byte) []byte {
	b = append(b, frameTypeCrypto)
	b = appendVarint(b, uint64(offset))
	b = appendVarint(b, uint64(len(data)))
	return append(b, data...)
}

// cryptoFrameHeaderLen returns the number of bytes appendCryptoFrame would
// use for the frame type + offset + length fields (not the payload), so
// the packet builder can decide how much payload will actually fit.
func cryptoFrameHeaderLen(offset int64, dataLen int) int {
	return 1 + varintLen(uint64(offset)) + varintLen(uint64(dataLen))
}

// parseCryptoFrame parses a CRYPTO frame body (after the type byte has
// already been consumed).
func parseCryptoFrame(b []byte) (offset int64, data []byte, n int, ok bool) {
	off, n1, ok := consumeVarint(b)
	if !ok {
		return 0, nil, 0, false
	}
	l, n2, ok := consumeVarint(b[n1:])
	if !ok {
		return 0, nil, 0, false
	}
	start := n1 + n2
	if len(b) < start+int(l) {
		return 0, nil, 0, false
	}
	return int64(off), b[start : start+int(l)], start + int(l), true
}

// ackRangeToSend describes one disjoint ACK range in wire order (newest
// first), used by appendAckFrame.
type ackRangeToSend struct {
	smallest, largest packetNumber
}

// unscaledAckDelayFromDuration converts a wall-clock delay into the
// unscaled, exponent-shifted value carried on the wire (RFC 9000 §19.3).
func unscaledAckDelayFromDuration(d time.Duration, exponent uint8) uint64 {
	if d < 0 {
		d = 0
	}
	return uint64(d/time.Microsecond) >> exponent
}

func scaledAckDelayToDuration(raw uint64, exponent uint8) time.Duration {
	return time.Duration(raw<<exponent) * time.Microsecond
}

// appendAckFrame appends an ACK frame covering ranges (newest-first, as
// held by ackRangeSet) (RFC 9000 §19.3, spec §4.9).
func appendAckFrame(b []byte, ranges []ackRange, ackDelay uint64) []byte {
	if len(ranges) == 0 {
		return b
	}
	b = append(b, frameTypeAck)
	b = appendVarint(b, uint64(ranges[0].last))
	b = appendVarint(b, ackDelay)
	b = appendVarint(b, uint64(len(ranges)-1))
	b = appendVarint(b, uint64(ranges[0].last-ranges[0].first))
	prevSmallest := ranges[0].first
	for _, r := range ranges[1:] {
		gap := uint64(prevSmallest-r.last) - 2
		b = appendVarint(b, gap)
		b = appendVarint(b, uint64(r.last-r.first))
		prevSmallest = r.first
	}
	return b
}

// parseAckFrame parses an ACK frame body (after the type byte). It
// validates the structural invariants in spec §4.9 and returns the
// decoded ranges, newest-first, plus the ack delay.
func parseAckFrame(b []byte, ackDelayExponent uint8, txNextPN packetNumber) (ranges []ackRange, delay time.Duration, n int, err error) {
	largest, n1, ok := consumeVarint(b)
	if !ok {
		return nil, 0, 0, errFrameEncoding("truncated ACK frame: largest")
	}
	if packetNumber(largest) >= txNextPN {
		return nil, 0, 0, errFrameEncoding("ACK largest exceeds packets sent")
	}
	rawDelay, n2, ok := consumeVarint(b[n1:])
	if !ok {
		return nil, 0, 0, errFrameEncoding("truncated ACK frame: delay")
	}
	count, n3, ok := consumeVarint(b[n1+n2:])
	if !ok {
		return nil, 0, 0, errFrameEncoding("truncated ACK frame: range count")
	}
	firstRange, n4, ok := consumeVarint(b[n1+n2+n3:])
	if !ok {
		return nil, 0, 0, errFrameEncoding("truncated ACK frame: first range")
	}
	if packetNumber(firstRange) > packetNumber(largest) {
		return nil, 0, 0, errFrameEncoding("ACK first range exceeds largest")
	}
	off := n1 + n2 + n3 + n4
	smallest := packetNumber(largest) - packetNumber(firstRange)
	ranges = append(ranges, ackRange{first: smallest, last: packetNumber(largest)})
	for i := uint64(0); i < count; i++ {
		gap, ng, ok := consumeVarint(b[off:])
		if !ok {
			return nil, 0, 0, errFrameEncoding("truncated ACK frame: gap")
		}
		off += ng
		rangeLen, nr, ok := consumeVarint(b[off:])
		if !ok {
			return nil, 0, 0, errFrameEncoding("truncated ACK frame: range")
		}
		off += nr
		if smallest < packetNumber(gap)+2 {
			return nil, 0, 0, errFrameEncoding("ACK gap underflows packet number space")
		}
		newLargest := smallest - packetNumber(gap) - 2
		if uint64(newLargest) < rangeLen {
			return nil, 0, 0, errFrameEncoding("ACK range underflows packet number space")
		}
		newSmallest := newLargest - packetNumber(rangeLen)
		ranges = append(ranges, ackRange{first: newSmallest, last: newLargest})
		smallest = newSmallest
	}
	return ranges, scaledAckDelayToDuration(rawDelay, ackDelayExponent), off, nil
}

// appendConnectionCloseFrame appends a CONNECTION_CLOSE frame. app selects
// the application-level variant (0x1d, no frame-type field) versus the
// transport variant (0x1c, with frame-type field) per RFC 9000 §19.19.
func appendConnectionCloseFrame(b []byte, app bool, code uint64, triggerFrameType uint64, reason string) []byte {
	if app {
		b = append(b, frameTypeConnectionCloseApp)
		b = appendVarint(b, code)
		b = appendVarint(b, uint64(len(reason)))
		return append(b, reason...)
	}
	b = append(b, frameTypeConnectionClose)
	b = appendVarint(b, code)
	b = appendVarint(b, triggerFrameType)
	b = appendVarint(b, uint64(len(reason)))
	return append(b, reason...)
}

// connectionCloseFrame is a parsed CONNECTION_CLOSE (spec §12.2 of
// SPEC_FULL.md).
type connectionCloseFrame struct {
	isApp  bool
	code   uint64
	reason string
}

func parseConnectionCloseFrame(ftype byte, b []byte) (f connectionCloseFrame, n int, ok bool) {
	f.isApp = ftype == frameTypeConnectionCloseApp
	code, n1, ok := consumeVarint(b)
	if !ok {
		return f, 0, false
	}
	f.code = code
	off := n1
	if !f.isApp {
		_, nt, ok := consumeVarint(b[off:])
		if !ok {
			return f, 0, false
		}
		off += nt
	}
	rlen, nr, ok := consumeVarint(b[off:])
	if !ok {
		return f, 0, false
	}
	off += nr
	if len(b) < off+int(rlen) {
		return f, 0, false
	}
	f.reason = string(b[off : off+int(rlen)])
	return f, off + int(rlen), true
}

// newConnectionIDFrame is an outbound NEW_CONNECTION_ID (RFC 9000 §19.15),
// emitted on handshake completion (spec §4.12; SPEC_FULL.md §12.4).
type newConnectionIDFrame struct {
	seq                 uint64
	retirePriorTo       uint64
	connID              cid
	statelessResetToken [16]byte
}

func appendNewConnectionIDFrame(b []byte, f newConnectionIDFrame) []byte {
	b = append(b, frameTypeNewConnectionID)
	b = appendVarint(b, f.seq)
	b = appendVarint(b, f.retirePriorTo)
	b = append(b, byte(len(f.connID)))
	b = append(b, f.connID...)
	return append(b, f.statelessResetToken[:]...)
}

func appendHandshakeDoneFrame(b []byte) []byte {
	return append(b, frameTypeHandshakeDone)
}

// parseNewConnectionIDFrame parses an inbound NEW_CONNECTION_ID frame
// body (after the type byte), for the ack-eliciting bookkeeping noted in
// spec §4.8's frame table; this core does not act on the peer's issued
// CIDs since it does not implement connection migration (spec Non-goals).
func parseNewConnectionIDFrame(b []byte) (n int, ok bool) {
	_, n1, ok := consumeVarint(b)
	if !ok {
		return 0, false
	}
	_, n2, ok := consumeVarint(b[n1:])
	if !ok {
		return 0, false
	}
	off := n1 + n2
	if len(b) < off+1 {
		return 0, false
	}
	idLen := int(b[off])
	off++
	if len(b) < off+idLen+16 {
		return 0, false
	}
	return off + idLen + 16, true
}
