// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestTransportParametersRoundTrip(t *testing.T) {
	tp := defaultTransportParameters()
	tp.maxIdleTimeout = 30000
	tp.initialMaxData = 1 << 20
	tp.disableActiveMigration = true

	odcid := cid{1, 2, 3, 4}
	b := appendTransportParameters(nil, &tp, odcid)
	if len(b) > maxTransportParamsLen {
		t.Fatalf("encoded blob is %d bytes, over the %d bound", len(b), maxTransportParamsLen)
	}

	got, err := parseTransportParameters(b, false)
	if err != nil {
		t.Fatalf("parseTransportParameters: %v", err)
	}
	if got.maxIdleTimeout != tp.maxIdleTimeout {
		t.Errorf("maxIdleTimeout = %d, want %d", got.maxIdleTimeout, tp.maxIdleTimeout)
	}
	if got.initialMaxData != tp.initialMaxData {
		t.Errorf("initialMaxData = %d, want %d", got.initialMaxData, tp.initialMaxData)
	}
	if !got.disableActiveMigration {
		t.Errorf("disableActiveMigration = false, want true")
	}
	if got.maxUDPPayloadSize != 65527 {
		t.Errorf("maxUDPPayloadSize default = %d, want 65527", got.maxUDPPayloadSize)
	}
	if string(got.originalDestinationConnectionID) != string(odcid) {
		t.Errorf("originalDestinationConnectionID = %v, want %v", got.originalDestinationConnectionID, odcid)
	}
}

func TestTransportParametersClientForbidden(t *testing.T) {
	tp := defaultTransportParameters()
	b := appendTransportParameters(nil, &tp, cid{1, 2, 3, 4}) // odcid: server-only
	if _, err := parseTransportParameters(b, true /* fromClient */); err == nil {
		t.Fatalf("parseTransportParameters accepted original_destination_connection_id from a client")
	}
}

func TestTransportParametersAckDelayExponentRange(t *testing.T) {
	var b []byte
	b = appendVarint(b, tpAckDelayExponent)
	b = appendVarint(b, 1)
	b = append(b, 21) // over the 20 bound

	if _, err := parseTransportParameters(b, false); err == nil {
		t.Fatalf("parseTransportParameters accepted ack_delay_exponent=21")
	}
}

func TestTransportParametersUnrecognizedIgnored(t *testing.T) {
	var b []byte
	b = appendVarint(b, 0x1234) // not in the recognized table
	b = appendVarint(b, 2)
	b = append(b, 0xaa, 0xbb)

	if _, err := parseTransportParameters(b, false); err != nil {
		t.Fatalf("parseTransportParameters rejected an unrecognized parameter: %v", err)
	}
}
