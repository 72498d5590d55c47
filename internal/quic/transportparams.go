// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// Transport parameter identifiers recognized by this core (spec §6).
const (
	tpOriginalDestinationConnectionID = 0x00
	tpMaxIdleTimeout                  = 0x01
	tpStatelessResetToken             = 0x02
	tpMaxUDPPayloadSize               = 0x03
	tpInitialMaxData                  = 0x04
	tpInitialMaxStreamDataBidiLocal   = 0x05
	tpInitialMaxStreamDataBidiRemote  = 0x06
	tpInitialMaxStreamDataUni         = 0x07
	tpInitialMaxStreamsBidi           = 0x08
	tpInitialMaxStreamsUni            = 0x09
	tpAckDelayExponent                = 0x0a
	tpMaxAckDelay                     = 0x0b
	tpDisableActiveMigration          = 0x0c
	tpPreferredAddress                = 0x0d
	tpActiveConnectionIDLimit         = 0x0e
)

// maxTransportParamsLen bounds the encoded blob length (spec §6).
const maxTransportParamsLen = 128

// transportParameters holds the recognized transport parameters exchanged
// during the handshake (spec §6's table). Fields use their wire defaults
// when absent from a decoded blob, matching the table's "default" column.
type transportParameters struct {
	originalDestinationConnectionID cid
	maxIdleTimeout                  uint64
	statelessResetToken             [16]byte
	haveStatelessResetToken         bool
	maxUDPPayloadSize               uint64
	initialMaxData                  uint64
	initialMaxStreamDataBidiLocal   uint64
	initialMaxStreamDataBidiRemote  uint64
	initialMaxStreamDataUni         uint64
	initialMaxStreamsBidi           uint64
	initialMaxStreamsUni            uint64
	ackDelayExponent                uint8
	maxAckDelay                     uint64
	disableActiveMigration          bool
	activeConnectionIDLimit         uint64
}

// defaultTransportParameters returns the wire defaults from spec §6's
// table.
func defaultTransportParameters() transportParameters {
	return transportParameters{
		maxUDPPayloadSize:       65527,
		ackDelayExponent:        3,
		maxAckDelay:             25,
		activeConnectionIDLimit: 2,
	}
}

// forbiddenFromClient lists parameters a server must reject if a client
// sends them (spec §6 "server must omit from client" / "forbidden
// parameters from the client").
var forbiddenFromClient = map[uint64]bool{
	tpOriginalDestinationConnectionID: true,
	tpStatelessResetToken:             true,
	tpPreferredAddress:                true,
}

// appendTransportParameters encodes the server's transport parameters as
// a sequence of (id, len, value) triples (spec §6; SPEC_FULL.md §12.3).
func appendTransportParameters(b []byte, tp *transportParameters, odcid cid) []byte {
	appendParam := func(b []byte, id uint64, val []byte) []byte {
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(len(val)))
		return append(b, val...)
	}
	appendVarintParam := func(b []byte, id, v uint64) []byte {
		return appendParam(b, id, appendVarint(nil, v))
	}

	if odcid != nil {
		b = appendParam(b, tpOriginalDestinationConnectionID, odcid)
	}
	if tp.maxIdleTimeout != 0 {
		b = appendVarintParam(b, tpMaxIdleTimeout, tp.maxIdleTimeout)
	}
	if tp.haveStatelessResetToken {
		b = appendParam(b, tpStatelessResetToken, tp.statelessResetToken[:])
	}
	b = appendVarintParam(b, tpMaxUDPPayloadSize, tp.maxUDPPayloadSize)
	b = appendVarintParam(b, tpInitialMaxData, tp.initialMaxData)
	b = appendVarintParam(b, tpInitialMaxStreamDataBidiLocal, tp.initialMaxStreamDataBidiLocal)
	b = appendVarintParam(b, tpInitialMaxStreamDataBidiRemote, tp.initialMaxStreamDataBidiRemote)
	b = appendVarintParam(b, tpInitialMaxStreamDataUni, tp.initialMaxStreamDataUni)
	b = appendVarintParam(b, tpInitialMaxStreamsBidi, tp.initialMaxStreamsBidi)
	b = appendVarintParam(b, tpInitialMaxStreamsUni, tp.initialMaxStreamsUni)
	b = appendVarintParam(b, tpAckDelayExponent, uint64(tp.ackDelayExponent))
	b = appendVarintParam(b, tpMaxAckDelay, tp.maxAckDelay)
	if tp.disableActiveMigration {
		b = appendParam(b, tpDisableActiveMigration, nil)
	}
	b = appendVarintParam(b, tpActiveConnectionIDLimit, tp.activeConnectionIDLimit)
	return b
}

// parseTransportParameters decodes a peer-supplied transport-parameter
// blob. fromClient gates rejection of server-only parameters (spec §6).
func parseTransportParameters(b []byte, fromClient bool) (transportParameters, error) {
	tp := defaultTransportParameters()
	if len(b) > maxTransportParamsLen {
		return tp, errProtocolViolation("transport parameters blob too large")
	}
	for len(b) > 0 {
		id, n1, ok := consumeVarint(b)
		if !ok {
			return tp, errProtocolViolation("truncated transport parameter id")
		}
		l, n2, ok := consumeVarint(b[n1:])
		if !ok {
			return tp, errProtocolViolation("truncated transport parameter length")
		}
		start := n1 + n2
		if len(b) < start+int(l) {
			return tp, errProtocolViolation("truncated transport parameter value")
		}
		val := b[start : start+int(l)]
		b = b[start+int(l):]

		if fromClient && forbiddenFromClient[id] {
			return tp, errProtocolViolation("client sent server-only transport parameter")
		}
		if err := setTransportParameter(&tp, id, val); err != nil {
			return tp, err
		}
	}
	return tp, nil
}

func setTransportParameter(tp *transportParameters, id uint64, val []byte) error {
	asVarint := func(val []byte) (uint64, error) {
		v, n, ok := consumeVarint(val)
		if !ok || n != len(val) {
			return 0, errProtocolViolation("malformed transport parameter value")
		}
		return v, nil
	}
	switch id {
	case tpOriginalDestinationConnectionID:
		tp.originalDestinationConnectionID = append(cid(nil), val...)
	case tpMaxIdleTimeout:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.maxIdleTimeout = v
	case tpStatelessResetToken:
		if len(val) != 16 {
			return errProtocolViolation("stateless reset token must be 16 bytes")
		}
		copy(tp.statelessResetToken[:], val)
		tp.haveStatelessResetToken = true
	case tpMaxUDPPayloadSize:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.maxUDPPayloadSize = v
	case tpInitialMaxData:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxData = v
	case tpInitialMaxStreamDataBidiLocal:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxStreamDataBidiLocal = v
	case tpInitialMaxStreamDataBidiRemote:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxStreamDataBidiRemote = v
	case tpInitialMaxStreamDataUni:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxStreamDataUni = v
	case tpInitialMaxStreamsBidi:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxStreamsBidi = v
	case tpInitialMaxStreamsUni:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.initialMaxStreamsUni = v
	case tpAckDelayExponent:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		if v > 20 {
			return errProtocolViolation("ack_delay_exponent out of range")
		}
		tp.ackDelayExponent = uint8(v)
	case tpMaxAckDelay:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		if v >= 1<<14 {
			return errProtocolViolation("max_ack_delay out of range")
		}
		tp.maxAckDelay = v
	case tpDisableActiveMigration:
		if len(val) != 0 {
			return errProtocolViolation("disable_active_migration must be empty")
		}
		tp.disableActiveMigration = true
	case tpPreferredAddress:
		// Connection migration is out of scope (spec §1 Non-goals);
		// accept and ignore the value so an otherwise-compliant peer
		// isn't rejected for advertising it.
	case tpActiveConnectionIDLimit:
		v, err := asVarint(val)
		if err != nil {
			return err
		}
		tp.activeConnectionIDLimit = v
	default:
		// Unrecognized parameters are ignored per RFC 9000 §7.4.
	}
	return nil
}
