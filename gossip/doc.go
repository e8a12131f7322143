// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gossip keeps the presence document and the setup register of
// every participant of a classroom converged over a [transport.Transport].
//
// Four message kinds travel on the wire, each a CBOR [Message] inside a
// [codec] frame:
//
//   - setup: the sender's setup register, sent once to every new link.
//     A receiver with a newer value answers with setup-update.
//   - setup-update: a setup value to adopt if it is newer.
//   - room-update: a presence document, either a full snapshot or a
//     partial delta of the sender's own writes.
//   - room: an application message for the participants of one room.
//
// [Protocol.Run] is a single event loop. Transport events, store change
// notifications, the anti-entropy ticker and the settle timer are all
// handled on that goroutine, so the peer table needs no locking. A
// visible change to the projection broadcasts a full snapshot; a
// change visible to nobody (a heartbeat) broadcasts only the local
// writes; a merge that finds the sender behind answers the sender with
// a snapshot.
package gossip
