// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/classroom/lib/clock"
	"github.com/bureau-foundation/classroom/lib/testutil"
)

var epoch = time.UnixMilli(1_760_000_000_000)

func newTestStore(t *testing.T, id string, fake *clock.FakeClock) *Store {
	t.Helper()
	store := NewStore(Config{ID: id, Clock: fake})
	t.Cleanup(store.Stop)
	return store
}

// assertConsistent checks that every projected user is in a projected
// room.
func assertConsistent(t *testing.T, store *Store) {
	t.Helper()
	projection := store.Projection()
	if _, ok := projection.Rooms[Lobby]; !ok {
		t.Fatal("Lobby missing from projection")
	}
	for id, user := range projection.Users {
		if _, ok := projection.Rooms[user.Room]; !ok {
			t.Fatalf("user %q in non-live room %q", id, user.Room)
		}
	}
}

func TestTwoParticipantScenario(t *testing.T) {
	fake := clock.Fake(epoch)
	a := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	b := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)

	a.Init(RoleStudent, 0)
	projection := a.Projection()
	if got := projection.RoomNames(); !reflect.DeepEqual(got, []string{Lobby}) {
		t.Fatalf("A rooms = %v, want only Lobby", got)
	}
	if projection.Users[a.ID()].Room != Lobby {
		t.Fatalf("A is in %q, want Lobby", projection.Users[a.ID()].Room)
	}

	b.Init(RoleStudent, 0)
	fake.Advance(time.Millisecond)
	b.Merge(a.Encode())
	if got := b.UsersInRoom(Lobby); !reflect.DeepEqual(got, []string{a.ID(), b.ID()}) {
		t.Fatalf("B sees Lobby users %v", got)
	}

	b.GotoRoom("NoSuchRoom")
	if room, _ := b.RoomOf(b.ID()); room != Lobby {
		t.Errorf("gotoRoom to unknown room resolved to %q, want Lobby", room)
	}

	if a.RemoveRoom(Lobby) {
		t.Error("RemoveRoom(Lobby) reported a change")
	}
	if !a.IsRoomAlive(Lobby) {
		t.Error("Lobby removed")
	}
	assertConsistent(t, a)
	assertConsistent(t, b)
}

func TestAddRoomFillsGaps(t *testing.T) {
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", clock.Fake(epoch))
	store.Init(RoleTeacher, 0)
	stamp := epoch.UnixMilli()
	store.Merge(&Document{
		Rooms: map[string]Room{
			"Room 1": {Timestamp: stamp},
			"Room 3": {Timestamp: stamp},
		},
		Users: map[string]User{},
	})

	if got := store.AddRoom(); got != "Room 2" {
		t.Errorf("AddRoom given Room 1, Room 3 = %q, want Room 2", got)
	}
	if got := store.AddRoom(); got != "Room 4" {
		t.Errorf("AddRoom given Room 1, Room 2, Room 3 = %q, want Room 4", got)
	}

	other := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", clock.Fake(epoch))
	other.Init(RoleTeacher, 0)
	if got := other.AddRoom(); got != "Room 1" {
		t.Errorf("first AddRoom = %q, want Room 1", got)
	}
}

func TestAddRoomSkipsTombstonedNames(t *testing.T) {
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", clock.Fake(epoch))
	store.Init(RoleTeacher, 2)

	if !store.RemoveRoom("Room 1") {
		t.Fatal("RemoveRoom(Room 1) = false")
	}
	if got := store.AddRoom(); got != "Room 3" {
		t.Errorf("AddRoom with Room 1 tombstoned and Room 2 live = %q, want Room 3", got)
	}
	if store.IsRoomAlive("Room 1") {
		t.Error("AddRoom revived tombstoned Room 1")
	}
	assertConsistent(t, store)
}

func TestAddRoomGapFillAcrossMerge(t *testing.T) {
	fake := clock.Fake(epoch)
	a := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	a.Init(RoleTeacher, 0)
	a.AddRoom()
	a.AddRoom()
	a.AddRoom()
	a.RemoveRoom("Room 2")

	b := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)
	b.Init(RoleTeacher, 0)
	b.Merge(a.Encode())
	if got := b.AddRoom(); got != "Room 4" {
		t.Errorf("AddRoom given Room 1, tombstoned Room 2, Room 3 = %q, want Room 4", got)
	}
}

func TestInitDoesNotDuplicateOrOverrideRooms(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	store.Init(RoleStudent, 2)
	store.SetRoomState("Room 1", StudentPublicState, "drawing")

	store.Init(RoleStudent, 2)
	if got := store.Projection().Rooms["Room 1"].StudentPublicState; got != "drawing" {
		t.Errorf("re-Init reset room state to %q", got)
	}
	if got := len(store.Projection().Rooms); got != 3 {
		t.Errorf("rooms = %d, want 3", got)
	}
}

func TestSeededRoomsLoseToRemoteWrites(t *testing.T) {
	fake := clock.Fake(epoch)
	a := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	a.Init(RoleTeacher, 2)
	a.RemoveRoom("Room 1")

	b := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)
	b.Init(RoleStudent, 2)
	b.Merge(a.Encode())
	if b.IsRoomAlive("Room 1") {
		t.Error("seeded Room 1 survived a remote removal")
	}
}

func TestRemoveRoomMovesOccupantsToLobby(t *testing.T) {
	fake := clock.Fake(epoch)
	teacher := newTestStore(t, "tttttttttttt_tttttt", fake)
	student := newTestStore(t, "ssssssssssss_ssssss", fake)
	teacher.Init(RoleTeacher, 1)
	student.Init(RoleStudent, 1)
	student.GotoRoom("Room 1")
	fake.Advance(time.Millisecond)

	teacher.Merge(student.Encode())
	before := teacher.Encode().Users[student.ID()].Timestamp
	teacher.RemoveRoom("Room 1")

	after := teacher.Encode().Users[student.ID()]
	if after.Room != Lobby {
		t.Errorf("occupant room = %q, want Lobby", after.Room)
	}
	if after.Timestamp <= before {
		t.Errorf("occupant timestamp not bumped: %d -> %d", before, after.Timestamp)
	}

	student.Merge(teacher.Encode())
	if room, _ := student.RoomOf(student.ID()); room != Lobby {
		t.Errorf("student sees itself in %q", room)
	}
	assertConsistent(t, student)
}

func TestStationPairing(t *testing.T) {
	fake := clock.Fake(epoch)
	station := newTestStore(t, "Station 4", fake)
	station.Init(RoleStudent, 0)

	projection := station.Projection()
	if projection.Users["Station 4"].Role != RoleStation {
		t.Errorf("station role = %q", projection.Users["Station 4"].Role)
	}
	if projection.Users["Station 4"].Room != "Station 4" {
		t.Errorf("station room = %q", projection.Users["Station 4"].Room)
	}

	observer := newTestStore(t, "oooooooooooo_oooooo", fake)
	observer.Init(RoleTeacher, 0)
	observer.Merge(station.Encode())

	observer.RemoveUser("Station 4", true)
	if observer.IsRoomAlive("Station 4") {
		t.Error("removing station user left its room live")
	}

	observer2 := newTestStore(t, "pppppppppppp_pppppp", fake)
	observer2.Init(RoleTeacher, 0)
	observer2.Merge(station.Encode())
	observer2.RemoveRoom("Station 4")
	if observer2.IsUserAlive("Station 4") {
		t.Error("removing station room left its user live")
	}
}

func TestMergeReplayIsSilent(t *testing.T) {
	fake := clock.Fake(epoch)
	a := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	b := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)
	a.Init(RoleStudent, 1)
	b.Init(RoleStudent, 0)

	notifications := 0
	b.On(func(bool) { notifications++ })

	snapshot := a.Encode()
	first := b.Merge(snapshot)
	if !first.Changed || !first.Full {
		t.Errorf("first merge = %+v, want changed and full", first)
	}
	if !first.Stale {
		t.Error("first merge should report that A lacks B's entries")
	}
	if notifications != 1 {
		t.Errorf("notifications after first merge = %d", notifications)
	}

	replay := b.Merge(snapshot)
	if replay.Changed || replay.Full {
		t.Errorf("replayed merge = %+v, want no change", replay)
	}
	if notifications != 1 {
		t.Errorf("replay notified: %d notifications", notifications)
	}

	caughtUp := a.Merge(b.Encode())
	if caughtUp.Stale {
		t.Error("A holds nothing newer than B's merged document")
	}
	if again := b.Merge(a.Encode()); again.Changed || again.Stale {
		t.Errorf("converged merge = %+v", again)
	}
}

func TestMergeRevivesLobbyAndSelf(t *testing.T) {
	fake := clock.Fake(epoch)
	local := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	local.Init(RoleStudent, 0)

	hostile := local.Encode()
	lobby := hostile.Rooms[Lobby]
	lobby.Tombstone = true
	lobby.Timestamp = clock.Milliseconds(fake) + 1000
	hostile.Rooms[Lobby] = lobby
	self := hostile.Users[local.ID()]
	self.Tombstone = true
	self.Timestamp = clock.Milliseconds(fake) + 1000
	hostile.Users[local.ID()] = self

	result := local.Merge(hostile)
	if !result.Stale {
		t.Error("revival should ask the sender for a reply")
	}
	if !local.IsRoomAlive(Lobby) {
		t.Error("Lobby tombstone accepted")
	}
	if !local.IsUserAlive(local.ID()) {
		t.Error("local user left tombstoned")
	}
	doc := local.Encode()
	if doc.Rooms[Lobby].Timestamp <= lobby.Timestamp || doc.Users[local.ID()].Timestamp <= self.Timestamp {
		t.Error("revival did not outstamp the tombstones")
	}
}

func TestLocalTimestampsIncrease(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	store.Init(RoleStudent, 0)

	previous := store.Encode().Users[store.ID()].Timestamp
	for range 5 {
		store.SetHandRaised(true)
		current := store.Encode().Users[store.ID()].Timestamp
		if current <= previous {
			t.Fatalf("timestamp %d did not advance past %d with a stopped clock", current, previous)
		}
		previous = current
	}
}

func TestUserActions(t *testing.T) {
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", clock.Fake(epoch))
	store.Init(RoleStudent, 1)

	store.SetDisplayName("Ada")
	store.SetHandRaised(true)
	store.SetConnections([]Connection{{ID: "x", Target: map[string]string{"peer": "b"}}})
	store.GotoRoom("Room 1")

	user := store.Projection().Users[store.ID()]
	if user.DisplayName != "Ada" || !user.HandRaised || user.Room != "Room 1" || len(user.Connections) != 1 {
		t.Errorf("user = %+v", user)
	}
	store.SetDisplayName("")
	if got := store.Projection().Users[store.ID()].DisplayName; got != store.ID() {
		t.Errorf("cleared display name = %q", got)
	}
	if store.SetRoomState("Room 9", TeacherPublicState, "x") {
		t.Error("SetRoomState on missing room succeeded")
	}
}

func TestEncodeDeltaCarriesOnlyLocalWrites(t *testing.T) {
	fake := clock.Fake(epoch)
	a := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	b := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)
	a.Init(RoleStudent, 0)
	b.Init(RoleStudent, 0)
	b.Snapshot()

	b.Merge(a.Encode())
	if delta := b.EncodeDelta(); !delta.Empty() {
		t.Errorf("delta after pure merge = %+v, want empty", delta)
	}

	b.SetHandRaised(true)
	delta := b.EncodeDelta()
	if len(delta.Users) != 1 || len(delta.Rooms) != 0 {
		t.Fatalf("delta = %+v, want only B's user", delta)
	}
	if _, ok := delta.Users[b.ID()]; !ok {
		t.Errorf("delta missing B: %+v", delta)
	}
	if !b.EncodeDelta().Empty() {
		t.Error("EncodeDelta did not drain")
	}
}

func TestProjectionIsMemoized(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	store.Init(RoleStudent, 0)

	before := store.Projection()
	fake.Advance(DefaultHeartbeatInterval)
	if store.Projection() != before {
		t.Error("heartbeat replaced an unchanged projection")
	}
	store.AddRoom()
	if store.Projection() == before {
		t.Error("projection not refreshed after AddRoom")
	}
}

func TestHeartbeatRefreshesSilently(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "Station 2", fake)
	store.Init(RoleStudent, 0)

	var flags []bool
	store.On(func(full bool) { flags = append(flags, full) })
	beforeUser := store.Encode().Users["Station 2"].Timestamp
	beforeRoom := store.Encode().Rooms["Station 2"].Timestamp

	fake.Advance(DefaultHeartbeatInterval)
	if !reflect.DeepEqual(flags, []bool{false}) {
		t.Fatalf("heartbeat notifications = %v, want one silent", flags)
	}
	doc := store.Encode()
	if doc.Users["Station 2"].Timestamp <= beforeUser || doc.Rooms["Station 2"].Timestamp <= beforeRoom {
		t.Error("heartbeat did not refresh user and station room")
	}

	fake.Advance(3 * DefaultHeartbeatInterval)
	if len(flags) != 4 {
		t.Errorf("heartbeats after 40s = %d, want 4", len(flags))
	}

	store.Stop()
	fake.Advance(DefaultHeartbeatInterval)
	if len(flags) != 4 {
		t.Error("heartbeat kept running after Stop")
	}
}

func TestReinitRestartsHeartbeat(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	store.Init(RoleStudent, 0)
	store.Init(RoleStudent, 0)
	if got := fake.PendingCount(); got != 1 {
		t.Errorf("pending timers after double Init = %d, want 1", got)
	}
}

func TestLivenessExpiryAndPruning(t *testing.T) {
	fake := clock.Fake(epoch)
	local := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	remote := newTestStore(t, "Station 9", fake)
	local.Init(RoleTeacher, 0)
	remote.Init(RoleStudent, 0)
	remote.Stop()
	local.Merge(remote.Encode())

	fake.Advance(DefaultLivenessTimeout)
	if !local.IsUserAlive("Station 9") {
		t.Fatal("expired exactly at the timeout")
	}
	fake.Advance(DefaultHeartbeatInterval)
	if local.IsUserAlive("Station 9") || local.IsRoomAlive("Station 9") {
		t.Fatal("silent station not expired with its room")
	}
	if _, ok := local.Encode().Users["Station 9"]; !ok {
		t.Fatal("expired user deleted instead of tombstoned")
	}

	fake.Advance(DefaultPruneAfter + DefaultHeartbeatInterval)
	doc := local.Encode()
	if _, ok := doc.Users["Station 9"]; ok {
		t.Error("old user tombstone not pruned")
	}
	if _, ok := doc.Rooms["Station 9"]; ok {
		t.Error("old room tombstone not pruned")
	}
	if !local.IsUserAlive(local.ID()) || !local.IsRoomAlive(Lobby) {
		t.Error("pruning touched local entries")
	}
}

func TestLivenessPolicyDisabled(t *testing.T) {
	fake := clock.Fake(epoch)
	local := NewStore(Config{ID: "aaaaaaaaaaaa_aaaaaa", Clock: fake, Liveness: &LivenessPolicy{}})
	t.Cleanup(local.Stop)
	remote := newTestStore(t, "bbbbbbbbbbbb_bbbbbb", fake)
	local.Init(RoleTeacher, 0)
	remote.Init(RoleStudent, 0)
	remote.Stop()
	local.Merge(remote.Encode())

	fake.Advance(time.Hour)
	if !local.IsUserAlive(remote.ID()) {
		t.Error("user expired with Expire disabled")
	}
}

func TestSubscriptionCoalesces(t *testing.T) {
	fake := clock.Fake(epoch)
	store := newTestStore(t, "aaaaaaaaaaaa_aaaaaa", fake)
	subscription := store.Subscribe()

	store.Init(RoleStudent, 0)
	fake.Advance(DefaultHeartbeatInterval)
	name := store.AddRoom()
	fake.Advance(DefaultHeartbeatInterval)

	update := testutil.RequireReceive(t, subscription.C(), time.Second, "waiting for coalesced update")
	if !update.Full {
		t.Error("coalesced update lost the full flag")
	}
	if _, ok := update.Projection.Rooms[name]; !ok {
		t.Errorf("coalesced update is not the newest projection: %v", update.Projection.RoomNames())
	}
	testutil.RequireNoReceive(t, subscription.C(), 10*time.Millisecond, "updates were not coalesced")

	subscription.Close()
	if _, ok := <-subscription.C(); ok {
		t.Error("closed subscription delivered an update")
	}
	store.AddRoom()
}

func TestStopClosesSubscriptions(t *testing.T) {
	store := NewStore(Config{ID: "aaaaaaaaaaaa_aaaaaa", Clock: clock.Fake(epoch)})
	subscription := store.Subscribe()
	store.Stop()
	select {
	case _, ok := <-subscription.C():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Stop")
	}
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	fake := clock.Fake(epoch)
	ids := []string{"aaaaaaaaaaaa_aaaaaa", "bbbbbbbbbbbb_bbbbbb", "Station 1"}
	stores := make([]*Store, len(ids))
	for i, id := range ids {
		stores[i] = newTestStore(t, id, fake)
		stores[i].Init(RoleStudent, 2)
	}

	for step := range 300 {
		store := stores[step%len(stores)]
		other := stores[(step*7+1)%len(stores)]
		switch step % 6 {
		case 0:
			store.AddRoom()
		case 1:
			rooms := store.Projection().RoomNames()
			store.GotoRoom(rooms[step%len(rooms)])
		case 2:
			rooms := store.Projection().RoomNames()
			store.RemoveRoom(rooms[(step/6)%len(rooms)])
		case 3:
			other.Merge(store.Encode())
		case 4:
			store.RemoveUser(ids[(step/4)%len(ids)], true)
		case 5:
			fake.Advance(time.Second)
		}
		for _, s := range stores {
			assertConsistent(t, s)
		}
	}

	// Full exchange converges every replica to the same projection.
	for range 3 {
		for _, a := range stores {
			for _, b := range stores {
				b.Merge(a.Encode())
			}
		}
	}
	first := stores[0].Projection()
	for _, s := range stores[1:] {
		if !first.Equal(s.Projection()) {
			t.Fatalf("replicas diverged:\n%v\n%v", first.UsersIn(Lobby), s.Projection().UsersIn(Lobby))
		}
	}
	if !slices.Contains(first.RoomNames(), Lobby) {
		t.Error("Lobby missing after random operations")
	}
}
