// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package setup replicates the classroom definition as a single
// last-write-wins value.
//
// A [Register] holds one [Value]: opaque data and the millisecond
// timestamp of the write that produced it. Reconciliation is symmetric.
// The side with the older value adopts the newer one, and the side with
// the newer value learns that its peer is stale so it can answer with
// its own value. Equal timestamps with different data resolve to the
// greater data, so two registers always agree after exchanging values.
//
// [Archive] saves the value per classroom so a participant that
// restarts offline still has the last definition it saw.
package setup
