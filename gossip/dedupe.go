// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

// DefaultDedupeWindow is how many room message ids are remembered.
const DefaultDedupeWindow = 1024

// seenSet remembers the most recent ids up to a fixed capacity. Once
// full, each new id evicts the oldest.
type seenSet struct {
	ring  []string
	next  int
	index map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = DefaultDedupeWindow
	}
	return &seenSet{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, seen := s.index[id]; seen {
		return false
	}
	if evicted := s.ring[s.next]; evicted != "" {
		delete(s.index, evicted)
	}
	s.ring[s.next] = id
	s.index[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
