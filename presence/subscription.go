// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"slices"
	"sync"
)

// Update is one notification: the projection after the change and
// whether the change was visible in it.
type Update struct {
	Projection *Projection
	Full       bool

	version uint64
}

// Subscription delivers store updates on a channel that holds at most
// one pending Update. A newer update replaces an unread one, keeping
// the newest projection and OR-ing the Full flags, so a slow reader
// sees the latest state and never misses that a visible change
// happened.
type Subscription struct {
	store *Store

	mu     sync.Mutex
	ch     chan Update
	closed bool

	// newest is the most recent projection published, so an update
	// that lost a race with a newer one still carries the newer view.
	newest Update
}

// Subscribe returns a new subscription. The channel is closed by
// Subscription.Close or Store.Stop.
func (s *Store) Subscribe() *Subscription {
	subscription := &Subscription{store: s, ch: make(chan Update, 1)}
	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, subscription)
	s.mu.Unlock()
	return subscription
}

// C returns the update channel.
func (sub *Subscription) C() <-chan Update { return sub.ch }

// Close detaches the subscription and closes its channel.
func (sub *Subscription) Close() {
	store := sub.store
	store.mu.Lock()
	store.subscriptions = slices.DeleteFunc(store.subscriptions, func(other *Subscription) bool {
		return other == sub
	})
	store.mu.Unlock()
	sub.close()
}

func (sub *Subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (sub *Subscription) publish(update Update) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	if update.version < sub.newest.version {
		update.Projection = sub.newest.Projection
		update.version = sub.newest.version
	} else {
		sub.newest = update
	}
	select {
	case pending := <-sub.ch:
		update.Full = update.Full || pending.Full
	default:
	}
	sub.ch <- update
}
