// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/classroom/identity"
	"github.com/bureau-foundation/classroom/lib/clock"
	"github.com/bureau-foundation/classroom/lib/testutil"
	"github.com/bureau-foundation/classroom/presence"
	"github.com/bureau-foundation/classroom/setup"
	"github.com/bureau-foundation/classroom/transport"
)

const testTimeout = 5 * time.Second

// memoryArchive is an in-process setup.Archive.
type memoryArchive struct {
	mu     sync.Mutex
	values map[string]setup.Value
	saved  chan setup.Value
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{values: map[string]setup.Value{}, saved: make(chan setup.Value, 16)}
}

func (a *memoryArchive) Load(_ context.Context, classroom string) (setup.Value, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.values[classroom]
	return value, ok, nil
}

func (a *memoryArchive) Save(_ context.Context, classroom string, value setup.Value) error {
	a.mu.Lock()
	if current, ok := a.values[classroom]; !ok || value.Timestamp >= current.Timestamp {
		a.values[classroom] = value
	}
	a.mu.Unlock()
	a.saved <- value
	return nil
}

func identityFor(t *testing.T, station string) identity.Identity {
	t.Helper()
	id, err := identity.Resolve(context.Background(), &identity.MemoryStore{}, station)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return id
}

// startSession runs a session on network until the test ends and waits
// for it to join.
func startSession(t *testing.T, network *transport.MemoryNetwork, clk clock.Clock, cfg Config) *Session {
	t.Helper()
	link, err := network.Join(cfg.Identity.Participant)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	cfg.Classroom = "physics-101"
	cfg.Clock = clk
	cfg.SettleDelay = -1
	cfg.GossipInterval = time.Hour
	if cfg.DefaultRooms == 0 {
		cfg.DefaultRooms = 2
	}
	s, err := New(context.Background(), cfg, link)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		if err := testutil.RequireReceive(t, result, testTimeout, "Run returning"); err != nil {
			t.Errorf("Run = %v", err)
		}
	})
	testutil.RequireClosed(t, s.Ready(), testTimeout, "session %s did not join", s.ID())
	return s
}

func connectSessions(t *testing.T, a, b *Session) {
	t.Helper()
	if _, err := a.transport.Connect(context.Background(), b.ID()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitFor(t *testing.T, s *Session, what string, cond func(*presence.Projection) bool) {
	t.Helper()
	subscription := s.Subscribe()
	defer subscription.Close()
	deadline := time.Now().Add(testTimeout)
	for !cond(s.Projection()) {
		testutil.RequireReceive(t, subscription.C(), time.Until(deadline), "waiting for %s on %s", what, s.ID())
	}
}

func TestSessionsShareState(t *testing.T) {
	network := transport.NewMemoryNetwork()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	teacher := startSession(t, network, clk, Config{Identity: identityFor(t, ""), Role: presence.RoleTeacher})
	student := startSession(t, network, clk, Config{Identity: identityFor(t, "")})
	connectSessions(t, teacher, student)

	waitFor(t, student, "teacher visible", func(p *presence.Projection) bool {
		user, ok := p.Users[teacher.ID()]
		return ok && user.Role == presence.RoleTeacher
	})

	room := teacher.AddRoom()
	if room != "Room 3" {
		t.Errorf("AddRoom = %q, want Room 3", room)
	}
	waitFor(t, student, "Room 3 visible", func(p *presence.Projection) bool {
		_, ok := p.Rooms[room]
		return ok
	})
	teacher.GotoRoom(room)
	student.GotoRoom(room)
	student.RaiseHand(true)
	student.SetDisplayName("Ada")

	waitFor(t, teacher, "student in Room 3 with hand raised", func(p *presence.Projection) bool {
		user, ok := p.Users[student.ID()]
		return ok && user.Room == room && user.HandRaised && user.DisplayName == "Ada"
	})
	if got := teacher.CurrentRoom(); got != room {
		t.Errorf("teacher CurrentRoom = %q, want %q", got, room)
	}

	if !teacher.SetRoomState(room, presence.TeacherPublicState, "quiz") {
		t.Fatal("SetRoomState on a live room returned false")
	}
	waitFor(t, student, "room state", func(p *presence.Projection) bool {
		return p.Rooms[room].TeacherPublicState == "quiz"
	})

	if teacher.RemoveRoom(presence.Lobby) {
		t.Error("Lobby was removed")
	}
}

func TestSessionRoomMessages(t *testing.T) {
	network := transport.NewMemoryNetwork()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	alice := startSession(t, network, clk, Config{Identity: identityFor(t, "")})
	bob := startSession(t, network, clk, Config{Identity: identityFor(t, "")})
	connectSessions(t, alice, bob)
	waitFor(t, alice, "bob in Lobby", func(p *presence.Projection) bool {
		_, ok := p.Users[bob.ID()]
		return ok
	})

	if _, err := alice.SendToRoom(context.Background(), presence.Lobby, []byte("hi")); err != nil {
		t.Fatalf("SendToRoom: %v", err)
	}
	message := testutil.RequireReceive(t, bob.Messages(), testTimeout, "bob receiving")
	if string(message.Body) != "hi" || message.From != alice.ID() {
		t.Errorf("bob received %+v", message)
	}
}

func TestInitialSetupPublishedAndArchived(t *testing.T) {
	network := transport.NewMemoryNetwork()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	teacherArchive := newMemoryArchive()
	studentArchive := newMemoryArchive()

	teacher := startSession(t, network, clk, Config{
		Identity:     identityFor(t, ""),
		Role:         presence.RoleTeacher,
		InitialSetup: []byte("name: Physics"),
		Archive:      teacherArchive,
	})
	saved := testutil.RequireReceive(t, teacherArchive.saved, testTimeout, "teacher archiving")
	if string(saved.Data) != "name: Physics" {
		t.Errorf("teacher archived %q", saved.Data)
	}

	student := startSession(t, network, clk, Config{Identity: identityFor(t, ""), Archive: studentArchive})
	watcher := student.WatchSetup()
	defer watcher.Close()
	connectSessions(t, student, teacher)

	adopted := testutil.RequireReceive(t, watcher.C(), testTimeout, "student adopting setup")
	if string(adopted.Data) != "name: Physics" {
		t.Errorf("student adopted %q", adopted.Data)
	}
	archived := testutil.RequireReceive(t, studentArchive.saved, testTimeout, "student archiving")
	if archived.Timestamp != saved.Timestamp {
		t.Errorf("student archived timestamp %d, want %d", archived.Timestamp, saved.Timestamp)
	}
	if got := student.Setup(); string(got.Data) != "name: Physics" {
		t.Errorf("student Setup = %q", got.Data)
	}
}

func TestArchivedSetupRestored(t *testing.T) {
	archive := newMemoryArchive()
	archive.values["physics-101"] = setup.Value{Data: []byte("archived"), Timestamp: 5}
	network := transport.NewMemoryNetwork()
	link, _ := network.Join("alice")

	s, err := New(context.Background(), Config{
		Classroom: "physics-101",
		Identity:  identity.Identity{Participant: "alice"},
		Archive:   archive,
	}, link)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if got := s.Setup(); string(got.Data) != "archived" || got.Timestamp != 5 {
		t.Errorf("Setup = %q@%d, want archived@5", got.Data, got.Timestamp)
	}
}

func TestStationSession(t *testing.T) {
	network := transport.NewMemoryNetwork()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	station := startSession(t, network, clk, Config{Identity: identityFor(t, "2"), Role: presence.RoleTeacher})

	if station.ID() != "Station 2" {
		t.Fatalf("ID = %q, want Station 2", station.ID())
	}
	if station.Role() != presence.RoleStation {
		t.Errorf("Role = %q, want station", station.Role())
	}
	user, ok := station.Projection().Users["Station 2"]
	if !ok || user.Room != "Station 2" || user.Role != presence.RoleStation {
		t.Errorf("station user = %+v, %v", user, ok)
	}
}

func TestSessionCloseAndRun(t *testing.T) {
	network := transport.NewMemoryNetwork()
	link, _ := network.Join("alice")
	s, err := New(context.Background(), Config{Identity: identity.Identity{Participant: "alice"}}, link)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestRunCancelStopsHeartbeat(t *testing.T) {
	network := transport.NewMemoryNetwork()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	link, err := network.Join("alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	s, err := New(context.Background(), Config{
		Identity:       identity.Identity{Participant: "alice"},
		Classroom:      "physics-101",
		Clock:          clk,
		SettleDelay:    -1,
		GossipInterval: time.Hour,
		DefaultRooms:   2,
	}, link)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()
	testutil.RequireClosed(t, s.Ready(), testTimeout, "session did not join")
	if clk.PendingCount() == 0 {
		t.Fatal("no timers pending while running")
	}

	cancel()
	testutil.RequireReceive(t, result, testTimeout, "Run returning after cancel")
	if pending := clk.PendingCount(); pending != 0 {
		t.Errorf("PendingCount = %d after Run returned, want 0", pending)
	}
}

func TestNewValidates(t *testing.T) {
	network := transport.NewMemoryNetwork()
	link, _ := network.Join("alice")
	if _, err := New(context.Background(), Config{}, link); err == nil {
		t.Error("New accepted a config without an identity")
	}
	if _, err := New(context.Background(), Config{Identity: identity.Identity{Participant: "alice"}}, nil); err == nil {
		t.Error("New accepted a nil transport")
	}
}
