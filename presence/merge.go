// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"bytes"

	"github.com/bureau-foundation/classroom/lib/codec"
)

type entry interface {
	Room | User
}

func stampOf[T entry](v T) (int64, bool) {
	switch e := any(v).(type) {
	case Room:
		return e.Timestamp, e.Tombstone
	case User:
		return e.Timestamp, e.Tombstone
	}
	return 0, false
}

// supersedes reports whether candidate wins over current. Equal
// timestamps go to the tombstone, then to the greater canonical
// encoding, so exactly one of two distinct entries wins and identical
// entries never replace each other.
func supersedes[T entry](current, candidate T) bool {
	currentStamp, currentDead := stampOf(current)
	candidateStamp, candidateDead := stampOf(candidate)
	if candidateStamp != currentStamp {
		return candidateStamp > currentStamp
	}
	if candidateDead != currentDead {
		return candidateDead
	}
	return bytes.Compare(canonical(candidate), canonical(current)) > 0
}

func canonical(v any) []byte {
	data, err := codec.Marshal(v)
	if err != nil {
		// Room and User hold only strings, integers, booleans and
		// string maps, which always encode.
		panic("presence: encoding entry: " + err.Error())
	}
	return data
}

// Merge returns the join of a and b without modifying either.
func Merge(a, b *Document) *Document {
	out := a.Clone()
	mergeInto(out, b)
	return out
}

// mergeStats describes one mergeInto call from the receiving side.
type mergeStats struct {
	// adopted counts entries taken from the remote document.
	adopted int

	// stale is set when the receiver holds an entry the remote
	// document lacks or has an older version of.
	stale bool
}

func mergeInto(local, remote *Document) mergeStats {
	var stats mergeStats
	stats.stale = mergeMap(local.Rooms, remote.Rooms, &stats.adopted, func(r Room) Room { return r }) || stats.stale
	stats.stale = mergeMap(local.Users, remote.Users, &stats.adopted, User.clone) || stats.stale
	return stats
}

func mergeMap[T entry](local, remote map[string]T, adopted *int, clone func(T) T) (stale bool) {
	for key, theirs := range remote {
		ours, ok := local[key]
		if !ok || supersedes(ours, theirs) {
			local[key] = clone(theirs)
			*adopted++
		}
	}
	for key, ours := range local {
		theirs, ok := remote[key]
		if !ok || supersedes(theirs, ours) {
			stale = true
		}
	}
	return stale
}
