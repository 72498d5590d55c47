// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// cryptoChunkSize is the growth increment for a TX CRYPTO stream's backing
// buffers (spec §3 "CRYPTO stream (TX side, per level)").
const cryptoChunkSize = 16 * 1024

// txCryptoStream is an append-only byte stream with an offset counter,
// physically a sequence of fixed-size chunks grown on demand (spec §3,
// §4.5 append_tx_crypto/cut_tx_crypto).
type txCryptoStream struct {
	chunks []*[cryptoChunkSize]byte
	// size is the total number of bytes appended so far.
	size int64
}

func (s *txCryptoStream) chunkFor(off int64) (chunk *[cryptoChunkSize]byte, chunkOff int64) {
	idx := off / cryptoChunkSize
	return s.chunks[idx], off % cryptoChunkSize
}

// append grows the stream by appending b, allocating new 16 KiB chunks as
// needed.
func (s *txCryptoStream) append(b []byte) {
	for len(b) > 0 {
		if s.size%cryptoChunkSize == 0 || int64(len(s.chunks))*cryptoChunkSize == s.size {
			s.chunks = append(s.chunks, new([cryptoChunkSize]byte))
		}
		chunk, chunkOff := s.chunkFor(s.size)
		n := copy(chunk[chunkOff:], b)
		s.size += int64(n)
		b = b[n:]
	}
}

// cut returns a view into the stream at offset, of length at most maxLen
// and bounded by what's available (spec §4.5 cut_tx_crypto). The returned
// slice may span only a single chunk; callers that need more should call
// cut repeatedly advancing offset.
func (s *txCryptoStream) cut(offset int64, maxLen int) []byte {
	if offset >= s.size {
		return nil
	}
	avail := s.size - offset
	chunk, chunkOff := s.chunkFor(offset)
	inChunk := int64(cryptoChunkSize) - chunkOff
	n := avail
	if n > inChunk {
		n = inChunk
	}
	if n > int64(maxLen) {
		n = int64(maxLen)
	}
	return chunk[chunkOff : chunkOff+n]
}

// unsent returns the number of bytes appended but not yet covered by
// offset.
func (s *txCryptoStream) unsent(offset int64) int64 {
	return s.size - offset
}

// rxCryptoStream tracks the in-order delivery cursor for the RX side of a
// CRYPTO stream (spec §3 "CRYPTO stream (RX side, per level)").
type rxCryptoStream struct {
	expectedOffset int64
}

// pendingCryptoFrame is an out-of-order CRYPTO frame held until its offset
// becomes the expected one (spec §3, §4.8 Stage D).
type pendingCryptoFrame struct {
	offset int64
	data   []byte
}

// txCryptoFrameRecord tracks one CRYPTO frame cut into a sent packet, by
// packet number, so it can be acknowledged or retransmitted (spec §3
// "by-PN map as {pn, offset, len}").
type txCryptoFrameRecord struct {
	offset int64
	length int
}
