// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity derives participant identifiers.
//
// A participant id has two parts joined by an underscore: a 12-character
// device id that is persisted through a [Store] and survives restarts,
// and a 6-character session suffix generated fresh for every process.
// Restarting on the same device is distinguishable per session but
// recognizable per device.
//
// Stations are unattended devices bound to a room. A station adopts the
// fixed id "Station <number>", which is also the name of its paired
// room; see [StationID] and [IsStation].
//
// Three stores are provided: [MemoryStore] for tests, [FileStore] for a
// single file, and [SQLiteStore] for the state database shared with
// other per-device records.
package identity
