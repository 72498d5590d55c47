// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"errors"
	"fmt"
)

// transportErrorKind classifies how an error should be handled, per
// spec §7's error taxonomy table.
type transportErrorKind int

const (
	kindShortBuffer transportErrorKind = iota
	kindAEADAuthFailed
	kindProtocolViolation
	kindFrameEncodingError
	kindCryptoBufferExhausted
	kindInFlightCap
	kindTLSAlert
	kindIdleTimeout
)

// QUIC transport error codes used by this core (RFC 9000 §20.1).
const (
	errCodeNone                 = 0x00
	errCodeFrameEncodingError    = 0x07
	errCodeTransportParamError   = 0x0a
	errCodeCryptoBufferExceeded  = 0x0d
	errCodeCryptoAlertBase       = 0x100
)

// TransportError is the single error type connection-fatal conditions are
// surfaced as (SPEC_FULL.md §10.2). It carries enough information to build
// a CONNECTION_CLOSE frame.
type TransportError struct {
	Kind    transportErrorKind
	Code    uint64
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("quic: %s (code=0x%x)", e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("quic: transport error 0x%x: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("quic: transport error 0x%x", e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(kind transportErrorKind, code uint64, msg string) *TransportError {
	return &TransportError{Kind: kind, Code: code, Message: msg}
}

var (
	// errShortBuffer marks a local, per-packet parse failure: the caller
	// should drop the packet and continue (spec §7 "short-buffer").
	errShortBuffer = errors.New("quic: short buffer")

	// errCryptoBufferExhausted closes the connection without sending a
	// CONNECTION_CLOSE (spec §7 "crypto-buffer-exhausted").
	errCryptoBufferExhausted = newTransportError(kindCryptoBufferExhausted, errCodeCryptoBufferExceeded, "CRYPTO send buffer exhausted")

	// errInFlightCap stalls the send path; it is not connection-fatal
	// (spec §7 "in-flight-cap").
	errInFlightCap = errors.New("quic: CRYPTO in-flight cap reached")
)

func errProtocolViolation(msg string) *TransportError {
	return newTransportError(kindProtocolViolation, errCodeTransportParamError, msg)
}

func errFrameEncoding(msg string) *TransportError {
	return newTransportError(kindFrameEncodingError, errCodeFrameEncodingError, msg)
}

func errTLSAlert(alert uint8) *TransportError {
	return newTransportError(kindTLSAlert, errCodeCryptoAlertBase+uint64(alert), "TLS alert")
}
