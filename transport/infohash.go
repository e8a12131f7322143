// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// swarmDomainKey separates swarm hashes from any other use of BLAKE3
// on classroom ids.
var swarmDomainKey = [32]byte{
	'c', 'l', 'a', 's', 's', 'r', 'o', 'o', 'm', '.', 's', 'w', 'a', 'r', 'm', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// InfoHash returns the swarm name for a classroom id: 20 bytes of the
// keyed BLAKE3 hash, hex encoded. Participants only learn the hash from
// the rendezvous, not the classroom id.
func InfoHash(classroom string) string {
	hasher, err := blake3.NewKeyed(swarmDomainKey[:])
	if err != nil {
		panic("transport: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.WriteString(classroom)
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:20])
}
