// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"crypto/tls"
	"fmt"
	"time"
)

// handshakeDriver owns the TLS engine and drives it forward (spec
// §4.10, §4.12). It wraps the standard library's QUIC-aware TLS 1.3
// state machine (tls.QUICConn), which plays the role the source's
// tls.set_quic_method callback table plays: install_read_secret,
// install_write_secret, add_handshake_data, flush_flight and send_alert
// arrive as a tls.QUICEvent stream pumped by NextEvent, rather than as
// individual callback invocations, but the semantics this core attaches
// to each are exactly spec §4.10's.
type handshakeDriver struct {
	conn *Conn
	tls  *tls.QUICConn

	done      bool
	confirmed bool
}

func newHandshakeDriver(c *Conn) *handshakeDriver {
	return &handshakeDriver{conn: c}
}

// start begins the handshake once a TLS config is available (called by
// the listener immediately after newConn for the server side; spec
// §4.12's SERVER_INITIAL state is entered here).
func (h *handshakeDriver) start(config *tls.Config) error {
	qc := tls.QUICServer(&tls.QUICConfig{TLSConfig: config})
	h.tls = qc
	blob := appendTransportParameters(nil, &h.conn.localTP, h.conn.odcid)
	qc.SetTransportParameters(blob)
	h.conn.log.Debug("handshake started")
	h.conn.events.Emit(Event{Kind: EventHandshakeStarted, Time: h.conn.lastActivity})
	return qc.Start(nil)
}

// provideData delivers in-order CRYPTO payload to the TLS engine (spec
// §4.10 "provide_quic_data(level, bytes) — deliver in-order CRYPTO
// payload; called only when offset == level.rx.crypto.offset").
func (h *handshakeDriver) provideData(level encLevel, data []byte) error {
	return h.tls.HandleData(quicEncryptionLevel(level), data)
}

// advance drives the TLS engine forward, draining its event queue and
// applying each event's effect to the Conn (spec §4.10's four callbacks
// plus do_handshake/process_post_handshake).
func (h *handshakeDriver) advance(now time.Time) error {
	if h.tls == nil {
		return nil
	}
	for {
		ev := h.tls.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			if err := h.installReadSecret(quicCoreLevel(ev.Level), ev.Suite, ev.Data); err != nil {
				return err
			}
		case tls.QUICSetWriteSecret:
			if err := h.installWriteSecret(quicCoreLevel(ev.Level), ev.Suite, ev.Data); err != nil {
				return err
			}
		case tls.QUICWriteData:
			if err := h.addHandshakeData(quicCoreLevel(ev.Level), ev.Data); err != nil {
				return err
			}
		case tls.QUICTransportParameters:
			tp, err := parseTransportParameters(ev.Data, h.conn.side == serverSide)
			if err != nil {
				return err
			}
			h.conn.peerTP = tp
			h.conn.peerTPSet = true
		case tls.QUICHandshakeDone:
			h.done = true
			h.onHandshakeDone(now)
		}
	}
}

// installReadSecret implements spec §4.10's install_read_secret: derive
// the key/iv/hp_key triple for the named cipher, set the level's RX
// flags.installed. If this is the Application level, the peer's
// transport parameters were already captured via the
// QUICTransportParameters event above.
func (h *handshakeDriver) installReadSecret(level encLevel, suite uint16, secret []byte) error {
	s, err := deriveTLSLevelSecrets(suite, secret)
	if err != nil {
		return err
	}
	h.conn.levels[level].installRXSecrets(s)
	h.conn.log.WithField("level", level).Debug("read secret installed")
	h.conn.events.Emit(Event{Kind: EventKeysInstalled, Level: level, Time: h.conn.lastActivity})
	return nil
}

func (h *handshakeDriver) installWriteSecret(level encLevel, suite uint16, secret []byte) error {
	s, err := deriveTLSLevelSecrets(suite, secret)
	if err != nil {
		return err
	}
	h.conn.levels[level].installTXSecrets(s)
	h.conn.log.WithField("level", level).Debug("write secret installed")
	h.conn.events.Emit(Event{Kind: EventKeysInstalled, Level: level, Time: h.conn.lastActivity})
	return nil
}

// addHandshakeData implements spec §4.10's add_handshake_data: append to
// the TX CRYPTO stream at that level. The TLS engine never calls this
// for 0-RTT; tls.QUICEncryptionLevel has no 0-RTT write value, so the
// translation below cannot produce level0RTT here.
func (h *handshakeDriver) addHandshakeData(level encLevel, data []byte) error {
	if level != levelInitial && level != levelHandshake && level != level1RTT {
		return errProtocolViolation("add_handshake_data at invalid level")
	}
	h.conn.levels[level].appendTXCrypto(data)
	return nil
}

// onHandshakeDone implements the completion half of spec §4.12: emit
// HANDSHAKE_DONE and NEW_CONNECTION_ID frames at Application level and
// invoke the send pipeline.
func (h *handshakeDriver) onHandshakeDone(now time.Time) {
	h.conn.state = connStateConfirmed
	h.conn.log.Debug("handshake confirmed")
	h.conn.events.Emit(Event{Kind: EventHandshakeConfirmed, Time: now})
	h.conn.pendingHandshakeDone = true

	limit := h.conn.peerTP.activeConnectionIDLimit
	if limit == 0 {
		limit = 1
	}
	for i := uint64(1); i < limit; i++ {
		id, err := newLocalCID(defaultLocalCIDLen)
		if err != nil {
			break
		}
		h.conn.pendingNewConnID = append(h.conn.pendingNewConnID, newConnectionIDFrame{
			seq:    i,
			connID: id,
		})
	}
}

// quicEncryptionLevel translates this core's encLevel to the standard
// library's tls.QUICEncryptionLevel.
func quicEncryptionLevel(level encLevel) tls.QUICEncryptionLevel {
	switch level {
	case levelInitial:
		return tls.QUICEncryptionLevelInitial
	case levelHandshake:
		return tls.QUICEncryptionLevelHandshake
	case level1RTT:
		return tls.QUICEncryptionLevelApplication
	default:
		return tls.QUICEncryptionLevelInitial
	}
}

// quicCoreLevel is the inverse of quicEncryptionLevel.
func quicCoreLevel(level tls.QUICEncryptionLevel) encLevel {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return levelInitial
	case tls.QUICEncryptionLevelHandshake:
		return levelHandshake
	case tls.QUICEncryptionLevelApplication:
		return level1RTT
	default:
		return levelInitial
	}
}

// deriveTLSLevelSecrets maps a negotiated TLS 1.3 ciphersuite to its
// QUIC AEAD suite and hash, then applies the quic key/iv/hp expansion
// (spec §4.3 "for Handshake and 1-RTT, secrets arrive from the TLS
// engine via callbacks; the same quic key/iv/hp expansion is applied,
// using the MD and K matching the negotiated ciphersuite").
func deriveTLSLevelSecrets(tlsSuite uint16, secret []byte) (levelSecrets, error) {
	var suite quicSuite
	switch tlsSuite {
	case tls.TLS_AES_128_GCM_SHA256:
		suite = suiteAES128GCM
	case tls.TLS_AES_256_GCM_SHA384:
		suite = suiteAES256GCM
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		suite = suiteChaCha20Poly1305
	default:
		return levelSecrets{}, fmt.Errorf("quic: unsupported TLS 1.3 ciphersuite 0x%04x", tlsSuite)
	}
	return deriveLevelSecrets(suite, suite.newHash(), secret), nil
}

// advanceHandshake is the per-iteration driver loop named in spec §4.12:
// for each level, flush pending header protection and dispatch any
// decrypted packets, then drive TLS forward, then invoke the send
// pipeline if there's new work.
func (c *Conn) advanceHandshake(now time.Time) {
	if c.state == connStateClosed || c.state == connStateDraining {
		return
	}
	for l := encLevel(0); l < numEncLevels; l++ {
		lvl := c.levels[l]
		if lvl == nil {
			continue
		}
		if lvl.rxSecrets.isSet() && len(lvl.rxPending) > 0 {
			space := spaceForLevel(l)
			if err := lvl.flushPendingHP(c.spaces[space].rxLargestPN); err != nil {
				c.closeWithError(now, errProtocolViolation(err.Error()))
				return
			}
		}
		if len(lvl.rxQueue) > 0 {
			if err := c.dispatchDecrypted(now, l); err != nil {
				if te, ok := err.(*TransportError); ok {
					c.closeWithError(now, te)
				}
				return
			}
		}
	}
	if err := c.hs.advance(now); err != nil {
		if te, ok := err.(*TransportError); ok {
			c.closeWithError(now, te)
			return
		}
	}
	c.touch(now)
	c.maybeSend(now)
}
