// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"slices"
	"time"
)

const (
	// DefaultLivenessTimeout is how long a remote user may go without
	// a heartbeat before it is expired.
	DefaultLivenessTimeout = 3 * time.Minute

	// DefaultPruneAfter is how long a tombstone is kept.
	DefaultPruneAfter = 150 * time.Minute
)

// LivenessPolicy controls expiry of silent users and deletion of old
// tombstones. Both run inside Heartbeat.
type LivenessPolicy struct {
	// Timeout is the heartbeat silence after which a live remote user
	// is tombstoned, when Expire is set.
	Timeout time.Duration
	Expire  bool

	// PruneAfter is the age after which a tombstone is deleted from
	// the document, when Prune is set. A deleted entry that a lagging
	// peer still holds live comes back on the next merge and is
	// expired again by the following heartbeat.
	PruneAfter time.Duration
	Prune      bool
}

// DefaultLivenessPolicy enables expiry after DefaultLivenessTimeout and
// pruning after DefaultPruneAfter.
func DefaultLivenessPolicy() LivenessPolicy {
	return LivenessPolicy{
		Timeout:    DefaultLivenessTimeout,
		Expire:     true,
		PruneAfter: DefaultPruneAfter,
		Prune:      true,
	}
}

func (p LivenessPolicy) withDefaults() LivenessPolicy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultLivenessTimeout
	}
	if p.PruneAfter <= 0 {
		p.PruneAfter = DefaultPruneAfter
	}
	return p
}

// expireLocked tombstones live remote users whose last write is older
// than the timeout. Returns the number of users expired.
func (s *Store) expireLocked(now int64) int {
	if !s.policy.Expire {
		return 0
	}
	cutoff := now - s.policy.Timeout.Milliseconds()

	var silent []string
	for id, user := range s.doc.Users {
		if id != s.id && !user.Tombstone && user.Timestamp < cutoff {
			silent = append(silent, id)
		}
	}
	slices.Sort(silent)
	for _, id := range silent {
		s.logger.Info("expiring silent participant", "participant", id, "last_seen_ms", s.doc.Users[id].Timestamp)
		s.removeUserLocked(id, now)
	}
	return len(silent)
}

// pruneLocked deletes tombstones older than PruneAfter. Lobby and the
// local entries are never deleted. Returns the number of entries
// deleted.
func (s *Store) pruneLocked(now int64) int {
	if !s.policy.Prune {
		return 0
	}
	cutoff := now - s.policy.PruneAfter.Milliseconds()

	pruned := 0
	for name, room := range s.doc.Rooms {
		if room.Tombstone && room.Timestamp < cutoff && name != Lobby && name != s.id {
			delete(s.doc.Rooms, name)
			delete(s.dirtyRooms, name)
			pruned++
		}
	}
	for id, user := range s.doc.Users {
		if user.Tombstone && user.Timestamp < cutoff && id != s.id {
			delete(s.doc.Users, id)
			delete(s.dirtyUsers, id)
			pruned++
		}
	}
	return pruned
}

// scheduleLocked replaces the heartbeat timer. Each Init starts a new
// generation so a callback of an older timer does nothing.
func (s *Store) scheduleLocked() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.generation++
	generation := s.generation
	s.heartbeat = s.clock.AfterFunc(s.interval, func() { s.beat(generation) })
}

func (s *Store) beat(generation uint64) {
	s.mu.Lock()
	current := !s.stopped && generation == s.generation
	s.mu.Unlock()
	if !current {
		return
	}

	s.Heartbeat()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && generation == s.generation {
		s.heartbeat = s.clock.AfterFunc(s.interval, func() { s.beat(generation) })
	}
}
