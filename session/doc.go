// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the explicit context object of one participant:
// the resolved identity, its presence store, the setup register, the
// gossip protocol and the transport, with one constructor and one
// teardown.
//
// A Session is what a user interface talks to. Subscribe delivers the
// projection, the action methods (AddRoom, GotoRoom, RaiseHand,
// UpdateSetup, SendToRoom) mutate local state and let gossip carry the
// change, and Messages and WatchSetup deliver what peers send.
package session
