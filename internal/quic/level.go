// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// encLevel is one of the four QUIC encryption levels (spec §3).
type encLevel int

const (
	levelInitial encLevel = iota
	level0RTT
	levelHandshake
	level1RTT
	numEncLevels
)

func (l encLevel) String() string {
	switch l {
	case levelInitial:
		return "Initial"
	case level0RTT:
		return "0-RTT"
	case levelHandshake:
		return "Handshake"
	case level1RTT:
		return "1-RTT"
	default:
		return "unknown level"
	}
}

// maxRXPackets bounds the per-connection, per-level buffered RX packet
// count (spec §5 "QUIC_CONN_MAX_PACKET").
const maxRXPackets = 64

// pendingProtectedPacket is a packet parked because header-protection keys
// were not yet installed when it arrived (spec §4.5 queue_rx_protected).
type pendingProtectedPacket struct {
	raw      []byte
	pnOffset int
	long     bool
}

// decryptedPacket is a packet whose header protection has been removed and
// packet number reconstructed, held until it is processed by the
// handshake driver (spec §4.5 rx.qpkts).
type decryptedPacket struct {
	num     packetNumber
	longHdr bool
	ptype   packetType
	version uint32
	dstCID  cid
	srcCID  cid
	aad     []byte // header bytes, including the reconstructed PN
	payload []byte // ciphertext + tag, not yet AEAD-opened
}

// levelState is the per-encryption-level state named in spec §3/§4.5:
// TLS secrets for both directions, the RX pending-HP and decrypted-packet
// queues, and the TX CRYPTO stream with its in-flight/retransmit-pending
// bookkeeping.
type levelState struct {
	level encLevel

	rxSecrets *levelSecrets
	txSecrets *levelSecrets

	rxPending []pendingProtectedPacket
	rxQueue   []*decryptedPacket

	tx              txCryptoStream
	txSendOffset    int64 // next unsent offset into tx, advanced by the send pipeline
	rx              rxCryptoStream
	rxPendingCrypto []pendingCryptoFrame // out-of-order CRYPTO frames, held

	inFlightFrames    map[packetNumber]txCryptoFrameRecord
	retransmitPending []txCryptoFrameRecord
}

func newLevelState(level encLevel) *levelState {
	return &levelState{
		level:          level,
		inFlightFrames: make(map[packetNumber]txCryptoFrameRecord),
	}
}

// queueRXProtected parks pkt until RX header-protection keys are
// installed (spec §4.5).
func (s *levelState) queueRXProtected(raw []byte, pnOffset int, long bool) {
	if len(s.rxPending) >= maxRXPackets {
		return // drop: over the per-connection buffered-packet bound
	}
	s.rxPending = append(s.rxPending, pendingProtectedPacket{
		raw:      append([]byte(nil), raw...),
		pnOffset: pnOffset,
		long:     long,
	})
}

// installRXSecrets sets the RX key material and marks it installed. It
// does not retroactively process pending packets; the driver does that
// on its next pass via flushPendingHP (spec §4.5).
func (s *levelState) installRXSecrets(secrets levelSecrets) {
	s.rxSecrets = &secrets
}

// installTXSecrets is the TX-direction counterpart of installRXSecrets.
func (s *levelState) installTXSecrets(secrets levelSecrets) {
	s.txSecrets = &secrets
}

// flushPendingHP walks the pending list, attempting header-protection
// removal now that RX keys are available (spec §4.5).
func (s *levelState) flushPendingHP(largestPN packetNumber) error {
	if !s.rxSecrets.isSet() || len(s.rxPending) == 0 {
		return nil
	}
	pending := s.rxPending
	s.rxPending = nil
	for _, p := range pending {
		pkt, err := removeHeaderProtectionAndParse(p.raw, p.pnOffset, p.long, s.rxSecrets, largestPN)
		if err != nil {
			continue // drop on failure, per spec §4.5
		}
		if len(s.rxQueue) >= maxRXPackets {
			break
		}
		s.rxQueue = append(s.rxQueue, pkt)
	}
	return nil
}

// appendTXCrypto appends bytes to this level's outbound CRYPTO stream
// (spec §4.5 append_tx_crypto).
func (s *levelState) appendTXCrypto(b []byte) {
	s.tx.append(b)
}

// cutTXCrypto returns the next chunk of unsent CRYPTO data at offset, of
// length at most maxLen (spec §4.5 cut_tx_crypto).
func (s *levelState) cutTXCrypto(offset int64, maxLen int) []byte {
	return s.tx.cut(offset, maxLen)
}

// recordSentCryptoFrame tracks a CRYPTO frame that was just cut into a
// sent packet, keyed by packet number (spec §3, §4.11 step 11).
func (s *levelState) recordSentCryptoFrame(pn packetNumber, offset int64, length int) {
	s.inFlightFrames[pn] = txCryptoFrameRecord{offset: offset, length: length}
}

// onAck removes acknowledged TX CRYPTO frame records in [smallest, largest]
// and returns the total bytes newly acknowledged, for the caller to
// decrement conn.cryptoInFlight by (spec §4.5 on_ack).
func (s *levelState) onAck(smallest, largest packetNumber) (bytesAcked int) {
	for pn := smallest; pn <= largest; pn++ {
		if rec, ok := s.inFlightFrames[pn]; ok {
			bytesAcked += rec.length
			delete(s.inFlightFrames, pn)
		}
	}
	return bytesAcked
}

// onGap coalesces the in-flight frame records whose packet numbers fall in
// (smallestGap-1, largestGap+1) -- i.e. the PNs between two acknowledged
// ranges that were never acknowledged -- into a single record using the
// smallest offset and the summed lengths, and moves it to the
// retransmit-pending set. It does not touch conn.cryptoInFlight: per spec
// §4.5, only on_ack adjusts that counter.
func (s *levelState) onGap(smallestGap, largestGap packetNumber) {
	var rec txCryptoFrameRecord
	found := false
	for pn := smallestGap; pn <= largestGap; pn++ {
		r, ok := s.inFlightFrames[pn]
		if !ok {
			continue
		}
		delete(s.inFlightFrames, pn)
		if !found || r.offset < rec.offset {
			if found {
				rec.length += r.length
				if r.offset < rec.offset {
					rec.offset = r.offset
				}
			} else {
				rec = r
			}
			found = true
		} else {
			rec.length += r.length
		}
	}
	if found {
		s.retransmitPending = append(s.retransmitPending, rec)
	}
}

// hasRetransmitPending reports whether this level has CRYPTO data to
// retransmit.
func (s *levelState) hasRetransmitPending() bool {
	return len(s.retransmitPending) > 0
}

// popRetransmit removes and returns the oldest retransmit-pending record.
func (s *levelState) popRetransmit() (txCryptoFrameRecord, bool) {
	if len(s.retransmitPending) == 0 {
		return txCryptoFrameRecord{}, false
	}
	rec := s.retransmitPending[0]
	s.retransmitPending = s.retransmitPending[1:]
	return rec, true
}
