// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"encoding/hex"
	"strings"
	"testing"
)

// TestDeriveInitialSecretsRFC9001A1 checks the server-side Initial secret
// derivation against the prefixes of the RFC 9001 Appendix A.1 test
// vector reproduced in spec.md's scenario S1.
func TestDeriveInitialSecretsRFC9001A1(t *testing.T) {
	dcid, err := hex.DecodeString("8394c8f03e515708")
	if err != nil {
		t.Fatal(err)
	}
	secrets := deriveInitialSecrets(true, cid(dcid))

	checkPrefix(t, "server tx key", secrets.tx.key, "cf3a5331653c364c")
	checkPrefix(t, "server tx iv", secrets.tx.iv, "0ac1493ca1905853")
	checkPrefix(t, "server tx hp_key", secrets.tx.hpKey, "c206b8d9b9f0f376")
	if len(secrets.tx.key) != 16 {
		t.Errorf("server tx key length = %v, want 16", len(secrets.tx.key))
	}
	if len(secrets.tx.iv) != 12 {
		t.Errorf("server tx iv length = %v, want 12", len(secrets.tx.iv))
	}
}

func checkPrefix(t *testing.T, name string, got []byte, wantHexPrefix string) {
	t.Helper()
	gotHex := hex.EncodeToString(got)
	if !strings.HasPrefix(gotHex, wantHexPrefix) {
		t.Errorf("%s = %s, want prefix %s", name, gotHex, wantHexPrefix)
	}
}

func TestDeriveInitialSecretsClientServerSwap(t *testing.T) {
	dcid := cid{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	server := deriveInitialSecrets(true, dcid)
	client := deriveInitialSecrets(false, dcid)
	if string(server.rx.key) != string(client.tx.key) {
		t.Errorf("server rx key != client tx key")
	}
	if string(server.tx.key) != string(client.rx.key) {
		t.Errorf("server tx key != client rx key")
	}
}
