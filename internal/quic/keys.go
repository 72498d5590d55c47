// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "crypto/sha256"

// initialSalt is the fixed 20-byte QUIC v1 Initial salt (spec §4.3, §6;
// RFC 9001 §5.2).
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// initialSecrets holds the derived Initial-level secrets for both
// directions (spec §4.3).
type initialSecrets struct {
	rx levelSecrets
	tx levelSecrets
}

// deriveInitialSecrets implements spec §4.3's derive_initial_secrets: it
// derives the Initial AEAD/HP key material from the connection ID chosen
// by the client (the server's DCID, which is also the client's
// self-selected Initial destination CID, "odcid").
func deriveInitialSecrets(server bool, dcid cid) initialSecrets {
	initial := hkdfExtract(sha256.New, initialSalt, dcid)
	clientSecret := hkdfExpandLabel(sha256.New, initial, "client in", 32)
	serverSecret := hkdfExpandLabel(sha256.New, initial, "server in", 32)

	clientKeys := deriveLevelSecrets(suiteAES128GCM, sha256.New, clientSecret)
	serverKeys := deriveLevelSecrets(suiteAES128GCM, sha256.New, serverSecret)

	if server {
		return initialSecrets{rx: clientKeys, tx: serverKeys}
	}
	return initialSecrets{rx: serverKeys, tx: clientKeys}
}
