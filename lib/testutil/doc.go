// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the channel helpers shared by the gossip,
// session and transport tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so a broken test fails instead of hanging. They are the
// only place the test suite waits on the wall clock; protocol timers in
// tests always run on lib/clock's fake clock.
package testutil
