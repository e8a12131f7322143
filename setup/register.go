// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package setup

import (
	"bytes"
	"slices"
	"sync"

	"github.com/bureau-foundation/classroom/lib/clock"
)

// Value is the replicated classroom definition.
type Value struct {
	Data      []byte `cbor:"data"`
	Timestamp int64  `cbor:"timestamp"`
}

// newer reports whether v wins over other.
func (v Value) newer(other Value) bool {
	if v.Timestamp != other.Timestamp {
		return v.Timestamp > other.Timestamp
	}
	return bytes.Compare(v.Data, other.Data) > 0
}

func (v Value) clone() Value {
	v.Data = bytes.Clone(v.Data)
	return v
}

// Outcome is the result of Reconcile.
type Outcome int

const (
	// Equal means both sides hold the same value.
	Equal Outcome = iota

	// Adopted means the remote value replaced the local one.
	Adopted

	// Stale means the remote value is older; the sender should be
	// sent the local value.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Equal:
		return "equal"
	case Adopted:
		return "adopted"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Register is a last-write-wins register safe for concurrent use.
type Register struct {
	clock clock.Clock

	mu       sync.Mutex
	value    Value
	changed  bool
	watchers []*Watcher
}

// NewRegister returns a register holding initial. A nil clk uses
// clock.Real().
func NewRegister(clk clock.Clock, initial Value) *Register {
	if clk == nil {
		clk = clock.Real()
	}
	return &Register{clock: clk, value: initial.clone()}
}

// Value returns the current value.
func (r *Register) Value() Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value.clone()
}

// Reconcile applies a value received from a peer.
func (r *Register) Reconcile(remote Value) Outcome {
	r.mu.Lock()
	switch {
	case remote.newer(r.value):
		r.value = remote.clone()
		r.changed = true
		watchers, value := slices.Clone(r.watchers), r.value.clone()
		r.mu.Unlock()
		publish(watchers, value)
		return Adopted
	case r.value.newer(remote):
		r.mu.Unlock()
		return Stale
	default:
		r.mu.Unlock()
		return Equal
	}
}

// Update replaces the value with data stamped with the current time,
// or one millisecond past the current value if the clock is behind it.
func (r *Register) Update(data []byte) Value {
	r.mu.Lock()
	now := clock.Milliseconds(r.clock)
	if now <= r.value.Timestamp {
		now = r.value.Timestamp + 1
	}
	r.value = Value{Data: bytes.Clone(data), Timestamp: now}
	r.changed = true
	watchers, value := slices.Clone(r.watchers), r.value.clone()
	r.mu.Unlock()

	publish(watchers, value)
	return value
}

// Watcher delivers register changes on a channel holding at most the
// newest unread value.
type Watcher struct {
	register *Register

	mu     sync.Mutex
	ch     chan Value
	closed bool
	last   Value
}

// Watch returns a new watcher. If the register changed before Watch was
// called, the current value is already waiting on the channel, so a
// value adopted before anyone listened is not lost.
func (r *Register) Watch() *Watcher {
	watcher := &Watcher{register: r, ch: make(chan Value, 1)}
	r.mu.Lock()
	r.watchers = append(r.watchers, watcher)
	if r.changed {
		watcher.last = r.value.clone()
		watcher.ch <- watcher.last
	}
	r.mu.Unlock()
	return watcher
}

// C returns the change channel.
func (w *Watcher) C() <-chan Value { return w.ch }

// Close detaches the watcher and closes its channel.
func (w *Watcher) Close() {
	register := w.register
	register.mu.Lock()
	register.watchers = slices.DeleteFunc(register.watchers, func(other *Watcher) bool { return other == w })
	register.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

func publish(watchers []*Watcher, value Value) {
	for _, watcher := range watchers {
		watcher.send(value)
	}
}

func (w *Watcher) send(value Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.last.newer(value) {
		return
	}
	w.last = value
	select {
	case <-w.ch:
	default:
	}
	w.ch <- value
}
