// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// packetType identifies the long-header packet type, or the synthetic
// "1-RTT" value used for short-header packets (spec §6).
type packetType int

const (
	packetTypeInvalid packetType = iota
	packetTypeInitial
	packetType0RTT
	packetTypeHandshake
	packetTypeRetry
	packetType1RTT
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "Initial"
	case packetType0RTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "Handshake"
	case packetTypeRetry:
		return "Retry"
	case packetType1RTT:
		return "1-RTT"
	default:
		return "invalid"
	}
}

func (t packetType) level() encLevel {
	switch t {
	case packetTypeInitial:
		return levelInitial
	case packetType0RTT:
		return level0RTT
	case packetTypeHandshake:
		return levelHandshake
	default:
		return level1RTT
	}
}

func spaceForPacketType(t packetType) numberSpace {
	return spaceForLevel(t.level())
}

// isLongHeader reports whether the first header byte indicates a long
// header (spec §6).
func isLongHeader(b0 byte) bool { return b0&0x80 != 0 }

func longHeaderPacketType(b0 byte) packetType {
	switch (b0 >> 4) & 0x03 {
	case 0:
		return packetTypeInitial
	case 1:
		return packetType0RTT
	case 2:
		return packetTypeHandshake
	case 3:
		return packetTypeRetry
	}
	panic("unreachable")
}

// longHeader is the parsed, not-yet-unprotected prefix of a long-header
// packet, sufficient to locate the packet number field (spec §6).
type longHeader struct {
	ptype   packetType
	version uint32
	dstCID  cid
	srcCID  cid
	// headerLen is the offset of the byte following the structural
	// prefix (version/DCID/SCID/token), i.e. where the length field
	// (if any) begins.
	headerLen int
}

// parseLongHeaderPrefix parses everything in a long header up to but not
// including the length field, for Initial/0-RTT/Handshake packets (spec
// §4.8 Stage A/B, §6).
func parseLongHeaderPrefix(b []byte) (h longHeader, ok bool) {
	if len(b) < 7 {
		return longHeader{}, false
	}
	h.ptype = longHeaderPacketType(b[0])
	v, n, ok := consumeUint32(b[1:])
	if !ok {
		return longHeader{}, false
	}
	h.version = v
	off := 1 + n
	dcid, n, ok := readCID(b[off:])
	if !ok {
		return longHeader{}, false
	}
	h.dstCID = dcid
	off += n
	scid, n, ok := readCID(b[off:])
	if !ok {
		return longHeader{}, false
	}
	h.srcCID = scid
	off += n
	if h.ptype == packetTypeInitial {
		tokenLen, n, ok := consumeVarint(b[off:])
		if !ok || len(b[off+n:]) < int(tokenLen) {
			return longHeader{}, false
		}
		off += n + int(tokenLen)
	}
	h.headerLen = off
	return h, true
}

// dstConnIDForDatagram extracts just the destination connection ID from
// the start of a datagram, without fully parsing the header. Used by the
// listener demux for short-header lookups (spec §4.7).
func dstConnIDForDatagram(b []byte, localCIDLen int) (cid, bool) {
	if len(b) == 0 {
		return nil, false
	}
	if isLongHeader(b[0]) {
		h, ok := parseLongHeaderPrefix(b)
		if !ok {
			return nil, false
		}
		return h.dstCID, true
	}
	if len(b) < 1+localCIDLen {
		return nil, false
	}
	return cid(append([]byte(nil), b[1:1+localCIDLen]...)), true
}

// parseLongHeaderLengthAndPNOffset parses the length varint following the
// structural prefix and returns the packet's PN offset and total length
// (covering PN+payload+tag), per spec §4.8 Stage A/B.
func parseLongHeaderLengthAndPNOffset(b []byte, h longHeader) (pnOffset int, totalLen int, ok bool) {
	length, n, ok := consumeVarint(b[h.headerLen:])
	if !ok {
		return 0, 0, false
	}
	pnOffset = h.headerLen + n
	return pnOffset, int(length), true
}

// removeHeaderProtectionAndParse removes header protection from raw
// (operating on a private copy), reconstructs the full packet number
// against largestPN, and returns a decryptedPacket ready for AEAD
// opening. raw must already be sliced to exactly one packet (spec §4.8
// Stages A/B).
func removeHeaderProtectionAndParse(raw []byte, pnOffset int, long bool, secrets *levelSecrets, largestPN packetNumber) (*decryptedPacket, error) {
	buf := append([]byte(nil), raw...)
	sample, err := sampleForHeaderProtection(buf, pnOffset)
	if err != nil {
		return nil, err
	}
	mask, err := headerProtectionMask(secrets.suite, secrets.hpKey, sample)
	if err != nil {
		return nil, err
	}
	pnLen := unprotectHeader(buf, pnOffset, long, mask)
	truncated, ok := consumePacketNumber(buf[pnOffset:], pnLen)
	if !ok {
		return nil, errShortBuffer
	}
	pn := reconstructPacketNumber(largestPN, truncated, uint(8*pnLen))

	var ptype packetType
	var version uint32
	var dst, src cid
	if long {
		h, ok := parseLongHeaderPrefix(buf)
		if !ok {
			return nil, errShortBuffer
		}
		ptype, version, dst, src = h.ptype, h.version, h.dstCID, h.srcCID
	} else {
		ptype = packetType1RTT
	}

	return &decryptedPacket{
		num:     pn,
		longHdr: long,
		ptype:   ptype,
		version: version,
		dstCID:  dst,
		srcCID:  src,
		aad:     buf[:pnOffset+pnLen],
		payload: buf[pnOffset+pnLen:],
	}, nil
}

// --- outbound packet construction ---

// sentPacket summarizes what was written into a just-finished packet, for
// the send pipeline and ack/loss handling to act on (spec §4.11, §4.5).
type sentPacket struct {
	num          packetNumber
	size         int
	ackEliciting bool
	inFlight     bool

	hasCrypto    bool
	cryptoOffset int64
	cryptoLen    int
}

// packetWriter accumulates one or more coalesced packets into a single
// outbound UDP datagram (spec §4.11). Structurally adapted from the
// teacher's packetWriter (see conn_send.go), simplified to this core's
// frame vocabulary.
type packetWriter struct {
	buf     []byte
	maxSize int

	pktStart    int
	long        bool
	pnOffset    int
	pnLen       int
	pnum        packetNumber
	payloadFrom int

	ackEliciting bool
	hasCrypto    bool
	cryptoOffset int64
	cryptoLen    int
}

func (w *packetWriter) reset(maxSize int) {
	w.buf = w.buf[:0]
	w.maxSize = maxSize
}

func (w *packetWriter) datagram() []byte { return w.buf }

// remaining returns how many more bytes can be appended to the datagram.
func (w *packetWriter) remaining() int {
	return w.maxSize - len(w.buf)
}

// payloadLen returns the number of payload bytes written to the current
// packet so far (frames, not yet sealed).
func (w *packetWriter) payloadLen() int {
	return len(w.buf) - w.payloadFrom
}

func (w *packetWriter) startPacket(long bool) {
	w.pktStart = len(w.buf)
	w.long = long
	w.ackEliciting = false
	w.hasCrypto = false
}

// startProtectedLongHeaderPacket begins an Initial/Handshake/0-RTT packet.
func (w *packetWriter) startProtectedLongHeaderPacket(pnumMaxAcked packetNumber, p longPacketOut) {
	w.startPacket(true)
	w.pnum = p.num
	w.pnLen = requiredPacketNumberLength(p.num, pnumMaxAcked)

	typeBits := byte(0)
	switch p.ptype {
	case packetTypeInitial:
		typeBits = 0
	case packetType0RTT:
		typeBits = 1
	case packetTypeHandshake:
		typeBits = 2
	case packetTypeRetry:
		typeBits = 3
	}
	b0 := byte(0xc0) | (typeBits << 4) | byte(w.pnLen-1)
	w.buf = append(w.buf, b0)
	w.buf = appendUint32(w.buf, p.version)
	w.buf = appendCIDWithLen(w.buf, p.dstConnID)
	w.buf = appendCIDWithLen(w.buf, p.srcConnID)
	if p.ptype == packetTypeInitial {
		w.buf = appendVarint(w.buf, 0) // token length: server emits no token
	}
	// Reserve a 2-byte varint-form length placeholder, rewritten in
	// finishProtectedLongHeaderPacket (spec §4.11 step 4/8).
	w.buf = append(w.buf, 0x40, 0x00)
	w.pnOffset = len(w.buf)
	w.buf = appendPacketNumber(w.buf, p.num, w.pnLen)
	w.payloadFrom = len(w.buf)
}

// finishProtectedLongHeaderPacket seals and protects the current
// long-header packet, returning a sentPacket, or nil if the packet carries
// no frames (spec §4.11 steps 8-10).
func (w *packetWriter) finishProtectedLongHeaderPacket(pnumMaxAcked packetNumber, keys *levelSecrets, p longPacketOut) *sentPacket {
	if w.payloadLen() == 0 {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	totalLen := w.pnLen + w.payloadLen() + tlsTagLen
	lenBytes := appendVarintFixed2(totalLen)
	copy(w.buf[w.pnOffset-2:w.pnOffset], lenBytes)

	aad := append([]byte(nil), w.buf[w.pktStart:w.pnOffset+w.pnLen]...)
	plaintext := w.buf[w.pnOffset+w.pnLen:]
	sealed, err := aeadSeal(keys, p.num, aad, plaintext)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	w.buf = append(w.buf[:w.pnOffset+w.pnLen], sealed...)

	sample, err := sampleForHeaderProtection(w.buf[w.pktStart:], w.pnOffset-w.pktStart)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	mask, err := headerProtectionMask(keys.suite, keys.hpKey, sample)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	protectHeader(w.buf[w.pktStart:], w.pnOffset-w.pktStart, w.pnLen, true, mask)

	sp := &sentPacket{
		num:          p.num,
		size:         len(w.buf) - w.pktStart,
		ackEliciting: w.ackEliciting,
		inFlight:     w.ackEliciting,
		hasCrypto:    w.hasCrypto,
		cryptoOffset: w.cryptoOffset,
		cryptoLen:    w.cryptoLen,
	}
	return sp
}

// start1RTTPacket begins a short-header (Application) packet.
func (w *packetWriter) start1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID cid) {
	w.startPacket(false)
	w.pnum = pnum
	w.pnLen = requiredPacketNumberLength(pnum, pnumMaxAcked)
	b0 := byte(0x40) | byte(w.pnLen-1) // fixed bit set, spin/key-phase/reserved = 0
	w.buf = append(w.buf, b0)
	w.buf = append(w.buf, dstConnID...)
	w.pnOffset = len(w.buf)
	w.buf = appendPacketNumber(w.buf, pnum, w.pnLen)
	w.payloadFrom = len(w.buf)
}

// finish1RTTPacket seals and protects the current short-header packet. A
// 1-RTT packet has no length field and extends to the end of the
// datagram (spec §4.11).
func (w *packetWriter) finish1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID cid, keys *levelSecrets) *sentPacket {
	if w.payloadLen() == 0 {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	aad := append([]byte(nil), w.buf[w.pktStart:w.pnOffset+w.pnLen]...)
	plaintext := w.buf[w.pnOffset+w.pnLen:]
	sealed, err := aeadSeal(keys, pnum, aad, plaintext)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	w.buf = append(w.buf[:w.pnOffset+w.pnLen], sealed...)

	sample, err := sampleForHeaderProtection(w.buf[w.pktStart:], w.pnOffset-w.pktStart)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	mask, err := headerProtectionMask(keys.suite, keys.hpKey, sample)
	if err != nil {
		w.buf = w.buf[:w.pktStart]
		return nil
	}
	protectHeader(w.buf[w.pktStart:], w.pnOffset-w.pktStart, w.pnLen, false, mask)

	return &sentPacket{
		num:          pnum,
		size:         len(w.buf) - w.pktStart,
		ackEliciting: w.ackEliciting,
		inFlight:     w.ackEliciting,
		hasCrypto:    w.hasCrypto,
		cryptoOffset: w.cryptoOffset,
		cryptoLen:    w.cryptoLen,
	}
}

// abandonPacket discards the in-progress packet (spec §4.11: an ACK-only
// packet we decided not to send stand-alone).
func (w *packetWriter) abandonPacket() {
	w.buf = w.buf[:w.pktStart]
}

func (w *packetWriter) appendPingFrame() bool {
	if w.remaining() < 1 {
		return false
	}
	w.buf = appendPingFrame(w.buf)
	w.ackEliciting = true
	return true
}

func (w *packetWriter) appendAckFrame(ranges []ackRange, delay uint64) bool {
	w.buf = appendAckFrame(w.buf, ranges, delay)
	return true
}

// appendCryptoFrame appends a CRYPTO frame carrying data at offset,
// recording it so the caller can register it with the level's in-flight
// map (spec §4.11 steps 6/11: "at most one CRYPTO frame" per packet).
func (w *packetWriter) appendCryptoFrame(offset int64, data []byte) {
	w.buf = appendCryptoFrame(w.buf, offset, data)
	w.ackEliciting = true
	w.hasCrypto = true
	w.cryptoOffset = offset
	w.cryptoLen = len(data)
}

func (w *packetWriter) appendPaddingTo(size int) {
	w.buf = appendPaddingTo(w.buf, size)
}

// appendVarintFixed2 encodes v using the 2-byte varint form
// unconditionally (0x40xx), used for the rewritable length field. v must
// fit in 14 bits.
func appendVarintFixed2(v int) []byte {
	return []byte{0x40 | byte(v>>8), byte(v)}
}

// longPacketOut describes a to-be-built outbound long-header packet.
type longPacketOut struct {
	ptype     packetType
	version   uint32
	num       packetNumber
	dstConnID cid
	srcConnID cid
}
