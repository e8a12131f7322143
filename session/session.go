// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/classroom/gossip"
	"github.com/bureau-foundation/classroom/identity"
	"github.com/bureau-foundation/classroom/lib/clock"
	"github.com/bureau-foundation/classroom/lib/codec"
	"github.com/bureau-foundation/classroom/presence"
	"github.com/bureau-foundation/classroom/setup"
	"github.com/bureau-foundation/classroom/transport"
)

// Config holds the parameters for New.
type Config struct {
	// Classroom keys the setup archive.
	Classroom string

	// Identity is the resolved local participant. Required.
	Identity identity.Identity

	// Role is student or teacher. Stations always join as station.
	Role presence.Role

	// DefaultRooms is the number of "Room N" rooms seeded on join.
	DefaultRooms int

	// InitialSetup, if set, is published as a new setup value right
	// after joining.
	InitialSetup []byte

	// Archive persists the setup register across runs. Optional.
	Archive setup.Archive

	Clock  clock.Clock
	Logger *slog.Logger

	HeartbeatInterval time.Duration
	Liveness          *presence.LivenessPolicy

	GossipInterval time.Duration
	SettleDelay    time.Duration
	Compression    codec.Compression
}

// Session is one participant of one classroom.
type Session struct {
	config    Config
	logger    *slog.Logger
	store     *presence.Store
	register  *setup.Register
	protocol  *gossip.Protocol
	transport transport.Transport

	ready chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	closed  bool
}

// runner is implemented by transports that need their own loop, such
// as transport.WebRTCTransport.
type runner interface {
	Run(ctx context.Context) error
}

// New builds the session. The archived setup value, if any, seeds the
// register. Nothing touches the network until Run.
func New(ctx context.Context, cfg Config, link transport.Transport) (*Session, error) {
	if cfg.Identity.Participant == "" {
		return nil, errors.New("session: Identity.Participant is required")
	}
	if link == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Role == "" {
		cfg.Role = presence.RoleStudent
	}
	if cfg.Identity.IsStation() {
		cfg.Role = presence.RoleStation
	}
	logger := cfg.Logger.With("classroom", cfg.Classroom)

	var initial setup.Value
	if cfg.Archive != nil {
		archived, found, err := cfg.Archive.Load(ctx, cfg.Classroom)
		if err != nil {
			return nil, fmt.Errorf("session: loading archived setup: %w", err)
		}
		if found {
			initial = archived
			logger.Info("restored archived setup", "timestamp", archived.Timestamp, "bytes", len(archived.Data))
		}
	}

	store := presence.NewStore(presence.Config{
		ID:                cfg.Identity.Participant,
		Clock:             cfg.Clock,
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Liveness:          cfg.Liveness,
	})
	register := setup.NewRegister(cfg.Clock, initial)
	protocol, err := gossip.New(gossip.Config{
		Store:       store,
		Setup:       register,
		Transport:   link,
		Clock:       cfg.Clock,
		Logger:      logger,
		Interval:    cfg.GossipInterval,
		SettleDelay: cfg.SettleDelay,
		Compression: cfg.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Session{
		config:    cfg,
		logger:    logger,
		store:     store,
		register:  register,
		protocol:  protocol,
		transport: link,
		ready:     make(chan struct{}),
	}, nil
}

// Run joins the classroom and blocks until ctx is cancelled, Close is
// called, or a component fails.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("session: already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.protocol.Run(ctx) })
	if loop, ok := s.transport.(runner); ok {
		group.Go(func() error { return loop.Run(ctx) })
	}
	if s.config.Archive != nil {
		watcher := s.register.Watch()
		group.Go(func() error { return s.archive(ctx, watcher) })
	}
	group.Go(func() error { return s.join(ctx) })

	err := group.Wait()
	// Run may end by ctx without Close; the heartbeat stops either way.
	s.store.Stop()
	if s.isClosed() && errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) join(ctx context.Context) error {
	select {
	case <-s.protocol.Running():
	case <-ctx.Done():
		return nil
	}
	if err := s.protocol.Join(ctx, s.config.Role, s.config.DefaultRooms); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("session: joining: %w", err)
	}
	s.logger.Info("session joined", "participant", s.ID(), "role", s.config.Role)

	if len(s.config.InitialSetup) > 0 {
		if _, err := s.protocol.UpdateSetup(ctx, s.config.InitialSetup); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: publishing initial setup: %w", err)
		}
	}
	close(s.ready)
	return nil
}

// archive saves every register change until ctx ends.
func (s *Session) archive(ctx context.Context, watcher *setup.Watcher) error {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case value, ok := <-watcher.C():
			if !ok {
				return nil
			}
			if err := s.config.Archive.Save(ctx, s.config.Classroom, value); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("archiving setup failed", "error", err)
			}
		}
	}
}

// Ready is closed once the session has joined and published its
// initial setup.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Close stops the session and closes the transport. Safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.store.Stop()
	return s.transport.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ID returns the local participant id.
func (s *Session) ID() string { return s.config.Identity.Participant }

// Identity returns the resolved identity.
func (s *Session) Identity() identity.Identity { return s.config.Identity }

// Role returns the role the session joins with.
func (s *Session) Role() presence.Role { return s.config.Role }

// Subscribe returns a coalescing subscription to projection changes.
func (s *Session) Subscribe() *presence.Subscription { return s.store.Subscribe() }

// Projection returns the current projection.
func (s *Session) Projection() *presence.Projection { return s.store.Projection() }

// AddRoom creates the next free "Room N" and returns its name.
func (s *Session) AddRoom() string { return s.store.AddRoom() }

// RemoveRoom removes a room. Lobby cannot be removed.
func (s *Session) RemoveRoom(name string) bool { return s.store.RemoveRoom(name) }

// GotoRoom moves the local user, to Lobby if name is not a live room.
func (s *Session) GotoRoom(name string) { s.store.GotoRoom(name) }

// CurrentRoom returns the local user's projected room.
func (s *Session) CurrentRoom() string {
	if room, ok := s.store.RoomOf(s.ID()); ok {
		return room
	}
	return presence.Lobby
}

// RaiseHand sets the local user's raised-hand flag.
func (s *Session) RaiseHand(raised bool) { s.store.SetHandRaised(raised) }

// SetDisplayName sets the local user's display name.
func (s *Session) SetDisplayName(name string) { s.store.SetDisplayName(name) }

// SetRoomState writes one state blob of a live room.
func (s *Session) SetRoomState(room string, field presence.RoomField, value string) bool {
	return s.store.SetRoomState(room, field, value)
}

// UpdateSetup publishes data as the new classroom setup.
func (s *Session) UpdateSetup(ctx context.Context, data []byte) (setup.Value, error) {
	return s.protocol.UpdateSetup(ctx, data)
}

// Setup returns the current setup value.
func (s *Session) Setup() setup.Value { return s.register.Value() }

// WatchSetup returns a watcher of setup changes.
func (s *Session) WatchSetup() *setup.Watcher { return s.register.Watch() }

// SendToRoom sends body to the participants of room.
func (s *Session) SendToRoom(ctx context.Context, room string, body []byte) (string, error) {
	return s.protocol.SendToRoom(ctx, room, body)
}

// Messages delivers room messages for the local participant's room.
func (s *Session) Messages() <-chan gossip.RoomMessage { return s.protocol.Messages() }
