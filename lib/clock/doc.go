// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the presence
// heartbeat, the gossip anti-entropy timer, and the join settle delay.
//
// Production code holds a [Clock] and never calls time.Now, time.AfterFunc
// or time.NewTicker directly. [Real] is the standard library behavior.
// [Fake] is a deterministic clock for tests: time moves only when
// [FakeClock.Advance] is called, and pending timers fire in deadline order
// with Now reporting each timer's deadline while its callback runs. That
// makes "three heartbeats elapse" a single Advance(30*time.Second) call.
//
// [FakeClock.WaitForTimers] blocks until a goroutine has registered its
// timer, which removes the race between a background loop calling
// NewTicker and the test advancing the clock.
package clock
