// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves opaque byte messages between classroom
// participants.
//
// [Transport] is the boundary the gossip protocol consumes: Connect
// opens a link to a named peer, Send writes one message on a link, and
// Events delivers Connect, Disconnect and Message events for every
// link, whichever side opened it. Messages are delivered whole and in
// order per link; nothing is assumed across links.
//
// [MemoryNetwork] connects transports inside one process. Tests use it
// to drive several participants deterministically, including dropped
// frames ([MemoryNetwork.SetFilter]) and severed links.
//
// [WebRTCTransport] is the production implementation. Participants of
// one classroom meet in a swarm named by [InfoHash] of the classroom
// id. Each participant announces itself to a [Signaler] and opens a
// PeerConnection with one ordered data channel labelled "gossip" to
// every announced peer. Signaling is vanilla ICE: all candidates are
// gathered before the SDP is published, so one offer/answer round-trip
// establishes a link. When two peers offer to each other at once, the
// participant with the lexicographically smaller id is the offerer and
// the other drops its attempt.
//
// Signalers: [MemorySignaler] for tests and as the state behind
// [Rendezvous], an http.Handler serving the signaling API, and
// [HTTPSignaler], its client.
package transport
