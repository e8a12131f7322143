// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence is the replicated document of rooms and users.
//
// Every participant holds a [Document]: rooms keyed by name and users
// keyed by participant id. Entries carry a millisecond timestamp and a
// tombstone flag. Replicas converge by exchanging documents and keeping,
// per key, the entry that wins under [Merge]: the greater timestamp,
// then a tombstone over a live entry, then the greater canonical CBOR
// encoding. The order is total, so merging is commutative, associative
// and idempotent, and repeated or reordered delivery is harmless.
//
// Nothing is physically deleted by normal operations. Removal writes a
// tombstone; [LivenessPolicy] decides when stale remote users are
// expired and when old tombstones are pruned.
//
// [Store] owns one participant's document. It performs no network I/O:
// callers apply local actions and remote documents through its methods
// and observe changes through [Store.On] or [Store.Subscribe]. A
// notification is "full" when the externally visible [Projection]
// changed and "silent" when only bookkeeping changed (for example the
// timestamp bump of a heartbeat).
//
// Invariants maintained after every mutation:
//
//   - the room "Lobby" exists and is live;
//   - tombstoned entries and timestamp/tombstone fields never appear in
//     a Projection;
//   - every projected user is in a live room, else in Lobby;
//   - a station's user and its paired room (both named "Station <n>")
//     are removed together;
//   - local writes never lower an entry's timestamp.
package presence
