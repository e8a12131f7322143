// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/classroom/identity"
	"github.com/bureau-foundation/classroom/lib/clock"
)

// DefaultHeartbeatInterval is how often the local entries are refreshed.
const DefaultHeartbeatInterval = 10 * time.Second

// Config holds the parameters for NewStore.
type Config struct {
	// ID is the local participant id. Required.
	ID string

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Liveness defaults to DefaultLivenessPolicy().
	Liveness *LivenessPolicy
}

// MergeResult describes the effect of Store.Merge.
type MergeResult struct {
	// Changed is set when the local document changed.
	Changed bool

	// Full is set when the projection changed.
	Full bool

	// Stale is set when the merged document holds entries the remote
	// document lacked or had older versions of. The sender should be
	// sent a snapshot.
	Stale bool
}

// Store owns the local participant's Document. It is safe for
// concurrent use; every method runs to completion under one mutex and
// notifications are delivered after the mutex is released.
type Store struct {
	id       string
	station  bool
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
	policy   LivenessPolicy

	mu          sync.Mutex
	doc         *Document
	projection  *Projection
	version     uint64
	role        Role
	displayName string
	initialized bool
	stopped     bool
	heartbeat   *clock.Timer
	generation  uint64
	dirtyRooms  map[string]struct{}
	dirtyUsers  map[string]struct{}

	callback      func(full bool)
	subscriptions []*Subscription
}

// NewStore returns a store holding an empty document. Call Init to
// join.
func NewStore(cfg Config) *Store {
	if cfg.ID == "" {
		panic("presence: Config.ID is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	policy := DefaultLivenessPolicy()
	if cfg.Liveness != nil {
		policy = cfg.Liveness.withDefaults()
	}

	doc := NewDocument()
	return &Store{
		id:         cfg.ID,
		station:    identity.IsStation(cfg.ID),
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		interval:   cfg.HeartbeatInterval,
		policy:     policy,
		doc:        doc,
		projection: Project(doc),
		role:       RoleStudent,
		dirtyRooms: map[string]struct{}{},
		dirtyUsers: map[string]struct{}{},
	}
}

// ID returns the local participant id.
func (s *Store) ID() string { return s.id }

// Init seeds the document for the local participant and (re)starts the
// heartbeat. Lobby and "Room 1".."Room <defaultRooms>" are created
// with timestamp 0 when absent, so any existing remote version wins.
// A station also gets its paired room and is placed in it.
func (s *Store) Init(role Role, defaultRooms int) {
	s.mu.Lock()
	now := s.now()

	s.role = role
	if s.station {
		s.role = RoleStation
	}

	for i := 1; i <= defaultRooms; i++ {
		name := fmt.Sprintf("Room %d", i)
		if _, ok := s.doc.Rooms[name]; !ok {
			s.doc.Rooms[name] = Room{}
		}
	}
	if lobby, ok := s.doc.Rooms[Lobby]; !ok {
		s.doc.Rooms[Lobby] = Room{}
	} else if lobby.Tombstone {
		s.reviveRoomLocked(Lobby, now)
	}

	room := Lobby
	if s.station {
		s.reviveRoomLocked(s.id, now)
		room = s.id
	}

	previous := s.doc.Users[s.id]
	s.writeUserLocked(s.id, User{
		DisplayName: s.displayNameLocked(),
		Room:        room,
		Role:        s.role,
		DateJoined:  now,
		Connections: previous.clone().Connections,
		Timestamp:   stampAfter(previous.Timestamp, now),
	})

	s.initialized = true
	s.stopped = false
	s.scheduleLocked()
	full := s.commitLocked(true)
	s.mu.Unlock()

	s.logger.Debug("presence initialized", "participant", s.id, "role", s.role, "default_rooms", defaultRooms)
	s.notify(full)
}

// AddRoom creates the room "Room <n>" with the lowest n not used by a
// live room and returns its name.
func (s *Store) AddRoom() string {
	s.mu.Lock()
	var name string
	for n := 1; ; n++ {
		name = fmt.Sprintf("Room %d", n)
		// Tombstoned names stay taken until pruned.
		if _, taken := s.doc.Rooms[name]; !taken {
			break
		}
	}
	s.writeRoomLocked(name, Room{Timestamp: s.now()})
	full := s.commitLocked(true)
	s.mu.Unlock()

	s.notify(full)
	return name
}

// GotoRoom moves the local user to name, or to Lobby if name is not a
// live room.
func (s *Store) GotoRoom(name string) {
	s.updateOwn(func(user *User) {
		if !s.roomAliveLocked(name) {
			name = Lobby
		}
		user.Room = name
	})
}

// SetHandRaised sets the local user's raised-hand flag.
func (s *Store) SetHandRaised(raised bool) {
	s.updateOwn(func(user *User) { user.HandRaised = raised })
}

// SetDisplayName sets the local user's display name. An empty name
// restores the participant id.
func (s *Store) SetDisplayName(name string) {
	s.updateOwn(func(user *User) {
		s.displayName = name
		user.DisplayName = s.displayNameLocked()
	})
}

// SetConnections replaces the local user's signaling metadata.
func (s *Store) SetConnections(connections []Connection) {
	s.updateOwn(func(user *User) {
		user.Connections = User{Connections: connections}.clone().Connections
	})
}

// SetRoomState writes one state blob of a live room. Returns false if
// the room is not live.
func (s *Store) SetRoomState(name string, field RoomField, value string) bool {
	s.mu.Lock()
	if !s.roomAliveLocked(name) {
		s.mu.Unlock()
		return false
	}
	room := s.doc.Rooms[name]
	switch field {
	case StudentPublicState:
		room.StudentPublicState = value
	case TeacherPublicState:
		room.TeacherPublicState = value
	case TeacherPrivateState:
		room.TeacherPrivateState = value
	default:
		s.mu.Unlock()
		return false
	}
	room.Timestamp = stampAfter(room.Timestamp, s.now())
	s.writeRoomLocked(name, room)
	full := s.commitLocked(true)
	s.mu.Unlock()

	s.notify(full)
	return true
}

// RemoveUser tombstones a user. Removing a station's user also removes
// its paired room. The change is announced only when notify is set.
// Returns false if nothing changed.
func (s *Store) RemoveUser(id string, notify bool) bool {
	s.mu.Lock()
	changed := s.removeUserLocked(id, s.now())
	if !changed {
		s.mu.Unlock()
		return false
	}
	full := s.commitLocked(true)
	s.mu.Unlock()

	if notify {
		s.notify(full)
	}
	return true
}

// RemoveRoom tombstones a room, removes a paired station user and moves
// the room's users to Lobby. Lobby cannot be removed. Returns false if
// nothing changed.
func (s *Store) RemoveRoom(name string) bool {
	s.mu.Lock()
	changed := s.removeRoomLocked(name, s.now())
	if !changed {
		s.mu.Unlock()
		return false
	}
	full := s.commitLocked(true)
	s.mu.Unlock()

	s.notify(full)
	return true
}

// Merge folds a remote document into the local one. Nothing is
// announced when the local document is unchanged, so replaying a
// document is a no-op.
func (s *Store) Merge(remote *Document) MergeResult {
	if remote == nil {
		return MergeResult{}
	}

	s.mu.Lock()
	stats := mergeInto(s.doc, remote)
	result := MergeResult{Changed: stats.adopted > 0, Stale: stats.stale}
	if s.repairLocked(s.now()) {
		result.Changed = true
		result.Stale = true
	}
	if !result.Changed {
		s.mu.Unlock()
		return result
	}
	result.Full = s.commitLocked(false)
	s.mu.Unlock()

	s.notify(result.Full)
	return result
}

// Heartbeat refreshes the local entries, expires silent remote users
// and prunes old tombstones according to the liveness policy. It runs
// every heartbeat interval after Init and does nothing before.
func (s *Store) Heartbeat() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	now := s.now()

	if s.station {
		s.reviveRoomLocked(s.id, now)
	}
	user := s.ownUserLocked(now)
	user.Tombstone = false
	if !s.roomAliveLocked(user.Room) {
		user.Room = Lobby
	}
	user.Timestamp = stampAfter(user.Timestamp, now)
	s.writeUserLocked(s.id, user)

	expired := s.expireLocked(now)
	pruned := s.pruneLocked(now)
	s.repairLocked(now)

	full := s.commitLocked(false)
	s.mu.Unlock()

	if expired > 0 || pruned > 0 {
		s.logger.Debug("presence liveness sweep", "expired", expired, "pruned", pruned)
	}
	s.notify(full)
}

// Stop cancels the heartbeat and closes every subscription.
func (s *Store) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.generation++
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	subscriptions := s.subscriptions
	s.subscriptions = nil
	s.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.close()
	}
}

// Encode returns a deep copy of the document, tombstones included.
func (s *Store) Encode() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Snapshot is Encode, and also clears the set of local writes pending
// for EncodeDelta since the snapshot carries them.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.dirtyRooms)
	clear(s.dirtyUsers)
	return s.doc.Clone()
}

// EncodeDelta returns the entries written locally since the last
// Snapshot or EncodeDelta. The result is empty when there are none.
func (s *Store) EncodeDelta() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := NewDocument()
	for name := range s.dirtyRooms {
		if room, ok := s.doc.Rooms[name]; ok {
			delta.Rooms[name] = room
		}
	}
	for id := range s.dirtyUsers {
		if user, ok := s.doc.Users[id]; ok {
			delta.Users[id] = user.clone()
		}
	}
	clear(s.dirtyRooms)
	clear(s.dirtyUsers)
	return delta
}

// Projection returns the current projection. The same pointer is
// returned until the projection changes.
func (s *Store) Projection() *Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projection
}

// IsRoomAlive reports whether name is a live room.
func (s *Store) IsRoomAlive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomAliveLocked(name)
}

// IsUserAlive reports whether id is a live user.
func (s *Store) IsUserAlive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.doc.Users[id]
	return ok && !user.Tombstone
}

// UsersInRoom returns the live users projected into room, sorted.
func (s *Store) UsersInRoom(room string) []string {
	return s.Projection().UsersIn(room)
}

// RoomOf returns the projected room of a live user.
func (s *Store) RoomOf(id string) (string, bool) {
	user, ok := s.Projection().Users[id]
	return user.Room, ok
}

// On registers the single notification callback, replacing any
// previous one. The callback runs on the goroutine that made the
// change, after the store's lock is released, and may call back into
// the store.
func (s *Store) On(callback func(full bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = callback
}

func (s *Store) notify(full bool) {
	s.mu.Lock()
	callback := s.callback
	subscriptions := slices.Clone(s.subscriptions)
	update := Update{Projection: s.projection, Full: full, version: s.version}
	s.mu.Unlock()

	if callback != nil {
		callback(full)
	}
	for _, subscription := range subscriptions {
		subscription.publish(update)
	}
}

// updateOwn applies fn to the local user, stamps it and announces a
// full update.
func (s *Store) updateOwn(fn func(user *User)) {
	s.mu.Lock()
	now := s.now()
	user := s.ownUserLocked(now)
	fn(&user)
	user.Tombstone = false
	user.Timestamp = stampAfter(user.Timestamp, now)
	s.writeUserLocked(s.id, user)
	full := s.commitLocked(true)
	s.mu.Unlock()

	s.notify(full)
}

// commitLocked refreshes the memoized projection and reports whether
// the pending notification is full.
func (s *Store) commitLocked(force bool) bool {
	next := Project(s.doc)
	if next.Equal(s.projection) {
		return force
	}
	s.projection = next
	s.version++
	return true
}

func (s *Store) removeUserLocked(id string, now int64) bool {
	user, ok := s.doc.Users[id]
	if !ok {
		return false
	}
	changed := false
	if !user.Tombstone {
		user.Tombstone = true
		user.Timestamp = stampAfter(user.Timestamp, now)
		s.writeUserLocked(id, user)
		changed = true
	}
	if identity.IsStation(id) && s.roomAliveLocked(id) {
		s.removeRoomLocked(id, now)
		changed = true
	}
	return changed
}

func (s *Store) removeRoomLocked(name string, now int64) bool {
	if name == Lobby {
		return false
	}
	room, ok := s.doc.Rooms[name]
	if !ok {
		return false
	}
	changed := false
	if !room.Tombstone {
		room.Tombstone = true
		room.Timestamp = stampAfter(room.Timestamp, now)
		s.writeRoomLocked(name, room)
		changed = true
	}
	if identity.IsStation(name) && s.userAliveLocked(name) {
		s.removeUserLocked(name, now)
		changed = true
	}
	for id, user := range s.doc.Users {
		if user.Tombstone || user.Room != name {
			continue
		}
		user.Room = Lobby
		user.Timestamp = stampAfter(user.Timestamp, now)
		s.writeUserLocked(id, user)
		changed = true
	}
	return changed
}

// repairLocked restores the local invariants a merge may break: Lobby
// live, and once initialized the local user (and station room) live
// with the user in a live room. Returns true if anything was written.
func (s *Store) repairLocked(now int64) bool {
	changed := false
	if lobby, ok := s.doc.Rooms[Lobby]; ok && lobby.Tombstone {
		s.reviveRoomLocked(Lobby, now)
		changed = true
	}
	if !s.initialized {
		return changed
	}
	if s.station && !s.roomAliveLocked(s.id) {
		s.reviveRoomLocked(s.id, now)
		changed = true
	}
	user, ok := s.doc.Users[s.id]
	if ok && !user.Tombstone && s.roomAliveLocked(user.Room) {
		return changed
	}
	user = s.ownUserLocked(now)
	user.Tombstone = false
	if !s.roomAliveLocked(user.Room) {
		user.Room = Lobby
	}
	user.Timestamp = stampAfter(user.Timestamp, now)
	s.writeUserLocked(s.id, user)
	return true
}

func (s *Store) reviveRoomLocked(name string, now int64) {
	room := s.doc.Rooms[name]
	room.Tombstone = false
	room.Timestamp = stampAfter(room.Timestamp, now)
	s.writeRoomLocked(name, room)
}

// ownUserLocked returns the local user entry, or a fresh one if the
// document has none.
func (s *Store) ownUserLocked(now int64) User {
	if user, ok := s.doc.Users[s.id]; ok {
		return user.clone()
	}
	room := Lobby
	if s.station {
		room = s.id
	}
	return User{
		DisplayName: s.displayNameLocked(),
		Room:        room,
		Role:        s.role,
		DateJoined:  now,
	}
}

func (s *Store) displayNameLocked() string {
	if s.displayName != "" {
		return s.displayName
	}
	return s.id
}

func (s *Store) writeRoomLocked(name string, room Room) {
	s.doc.Rooms[name] = room
	s.dirtyRooms[name] = struct{}{}
}

func (s *Store) writeUserLocked(id string, user User) {
	s.doc.Users[id] = user
	s.dirtyUsers[id] = struct{}{}
}

func (s *Store) roomAliveLocked(name string) bool {
	room, ok := s.doc.Rooms[name]
	return ok && !room.Tombstone
}

func (s *Store) userAliveLocked(id string) bool {
	user, ok := s.doc.Users[id]
	return ok && !user.Tombstone
}

func (s *Store) now() int64 {
	return clock.Milliseconds(s.clock)
}

// stampAfter returns the timestamp for a local write over an entry
// stamped previous: now, or previous+1 if the clock has not passed it.
func stampAfter(previous, now int64) int64 {
	if now <= previous {
		return previous + 1
	}
	return now
}
