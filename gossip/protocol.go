// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/classroom/lib/clock"
	"github.com/bureau-foundation/classroom/lib/codec"
	"github.com/bureau-foundation/classroom/presence"
	"github.com/bureau-foundation/classroom/setup"
	"github.com/bureau-foundation/classroom/transport"
)

const (
	// DefaultInterval is the anti-entropy period: every interval a
	// joined participant broadcasts a full snapshot.
	DefaultInterval = 10 * time.Second

	// DefaultSettleDelay is how long after Join the first broadcast
	// waits, so the initial snapshots from already connected peers are
	// merged first.
	DefaultSettleDelay = time.Second

	// DefaultMessageBuffer is the capacity of the Messages channel.
	DefaultMessageBuffer = 64
)

var (
	// ErrNotJoined is returned by operations that need Join first.
	ErrNotJoined = errors.New("gossip: not joined")

	// ErrStopped is returned by operations after Run has returned.
	ErrStopped = errors.New("gossip: protocol stopped")
)

// Config holds the parameters for New.
type Config struct {
	// Store, Setup and Transport are required.
	Store     *presence.Store
	Setup     *setup.Register
	Transport transport.Transport

	// Clock drives the settle timer and the anti-entropy ticker.
	// Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// SettleDelay defaults to DefaultSettleDelay. Negative means the
	// first broadcast happens right at Join.
	SettleDelay time.Duration

	// Compression applies to frames above codec.CompressionThreshold.
	Compression codec.Compression

	// DedupeWindow defaults to DefaultDedupeWindow.
	DedupeWindow int

	// MessageBuffer defaults to DefaultMessageBuffer.
	MessageBuffer int
}

// Protocol runs the gossip rules for one participant.
type Protocol struct {
	self        string
	store       *presence.Store
	register    *setup.Register
	transport   transport.Transport
	clock       clock.Clock
	logger      *slog.Logger
	interval    time.Duration
	settleDelay time.Duration
	compression codec.Compression

	commands chan func(ctx context.Context)
	changed  chan struct{}
	messages chan RoomMessage
	done     chan struct{}
	running  chan struct{}
	runOnce  sync.Once

	pendingMu   sync.Mutex
	pendingFull bool

	// Loop state, touched only by the Run goroutine.
	peers map[transport.ConnID]*peer

	// pruned holds associated links dropped after a send failure until
	// the transport reports their Disconnect.
	pruned  map[transport.ConnID]*peer
	joined  bool
	settled bool
	settle  <-chan time.Time
	seen    *seenSet
}

// peer is one transport link. participant is learned from the first
// room-update received on it.
type peer struct {
	conn        transport.ConnID
	name        string
	participant string
}

// New returns a protocol that does nothing until Run.
func New(cfg Config) (*Protocol, error) {
	if cfg.Store == nil || cfg.Setup == nil || cfg.Transport == nil {
		return nil, errors.New("gossip: Store, Setup and Transport are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = DefaultMessageBuffer
	}

	p := &Protocol{
		self:        cfg.Store.ID(),
		store:       cfg.Store,
		register:    cfg.Setup,
		transport:   cfg.Transport,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("participant", cfg.Store.ID()),
		interval:    cfg.Interval,
		settleDelay: cfg.SettleDelay,
		compression: cfg.Compression,
		commands:    make(chan func(context.Context)),
		changed:     make(chan struct{}, 1),
		messages:    make(chan RoomMessage, cfg.MessageBuffer),
		done:        make(chan struct{}),
		running:     make(chan struct{}),
		peers:       make(map[transport.ConnID]*peer),
		pruned:      make(map[transport.ConnID]*peer),
		seen:        newSeenSet(cfg.DedupeWindow),
	}
	cfg.Store.On(p.storeChanged)
	return p, nil
}

// storeChanged is the store callback. It may run on any goroutine,
// including the loop's own, so it only records the change.
func (p *Protocol) storeChanged(full bool) {
	p.pendingMu.Lock()
	p.pendingFull = p.pendingFull || full
	p.pendingMu.Unlock()
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *Protocol) takePending() bool {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	full := p.pendingFull
	p.pendingFull = false
	return full
}

// Messages delivers room messages addressed to the local participant's
// current room. Closed when Run returns.
func (p *Protocol) Messages() <-chan RoomMessage { return p.messages }

// Running is closed once Run has started its loop.
func (p *Protocol) Running() <-chan struct{} { return p.running }

// Run is the event loop. It returns nil when ctx is cancelled, or an
// error wrapping transport.ErrClosed if the transport's event channel
// closes first. Run may only be called once.
func (p *Protocol) Run(ctx context.Context) error {
	started := false
	p.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("gossip: Run called twice")
	}

	ticker := p.clock.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		p.teardown()
	}()
	close(p.running)

	events := p.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("gossip: transport event channel closed: %w", transport.ErrClosed)
			}
			p.handleEvent(ctx, event)

		case <-p.changed:
			p.handleChange(ctx, p.takePending())

		case <-p.settle:
			p.settle = nil
			p.settled = true
			p.logger.Debug("settle delay elapsed, broadcasting snapshot")
			p.broadcastSnapshot(ctx)

		case <-ticker.C:
			if p.settled {
				p.broadcastSnapshot(ctx)
			}

		case command := <-p.commands:
			command(ctx)
		}
	}
}

func (p *Protocol) teardown() {
	p.joined = false
	p.settled = false
	p.settle = nil
	clear(p.peers)
	clear(p.pruned)
	close(p.done)
	close(p.messages)
}

// do runs fn on the loop goroutine and waits for it.
func (p *Protocol) do(ctx context.Context, fn func(ctx context.Context)) error {
	finished := make(chan struct{})
	command := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}
	select {
	case p.commands <- command:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Join initializes the store for the local participant and schedules
// the first broadcast after the settle delay. Joining again
// reinitializes the local entries without rescheduling.
func (p *Protocol) Join(ctx context.Context, role presence.Role, defaultRooms int) error {
	return p.do(ctx, func(loopCtx context.Context) {
		p.store.Init(role, defaultRooms)
		if p.joined {
			return
		}
		p.joined = true
		p.logger.Info("joined classroom", "role", role, "peers", len(p.peers))

		// The first broadcast is a snapshot, which covers the change
		// Init just announced.
		p.takePending()
		select {
		case <-p.changed:
		default:
		}
		if p.settleDelay < 0 {
			p.settled = true
			p.broadcastSnapshot(loopCtx)
			return
		}
		p.settle = p.clock.After(p.settleDelay)
	})
}

// UpdateSetup stamps data as the new setup value and sends it to every
// peer.
func (p *Protocol) UpdateSetup(ctx context.Context, data []byte) (setup.Value, error) {
	var value setup.Value
	err := p.do(ctx, func(loopCtx context.Context) {
		value = p.register.Update(data)
		p.broadcast(loopCtx, Message{Kind: KindSetupUpdate, From: p.self, Setup: &value})
	})
	return value, err
}

// SendToRoom sends body to every peer whose participant is in room,
// and to the local participant if it is in room too. Returns the
// message id.
func (p *Protocol) SendToRoom(ctx context.Context, room string, body []byte) (string, error) {
	var id string
	var sendErr error
	err := p.do(ctx, func(loopCtx context.Context) {
		if !p.joined {
			sendErr = ErrNotJoined
			return
		}
		id = uuid.NewString()
		message := Message{Kind: KindRoom, From: p.self, Room: room, ID: id, Body: body}
		frame, err := Encode(message, p.compression)
		if err != nil {
			sendErr = err
			return
		}
		projection := p.store.Projection()
		for _, conn := range p.sortedConns() {
			target := p.peers[conn]
			if target.participant == "" {
				continue
			}
			if user, ok := projection.Users[target.participant]; ok && user.Room == room {
				p.sendFrame(loopCtx, target, frame)
			}
		}
		if own, ok := projection.Users[p.self]; ok && own.Room == room {
			p.seen.add(id)
			p.deliver(RoomMessage{ID: id, From: p.self, Room: room, Body: body})
		}
	})
	if err != nil {
		return "", err
	}
	return id, sendErr
}

// PeerCount reports the number of links in the peer table.
func (p *Protocol) PeerCount(ctx context.Context) (int, error) {
	var count int
	err := p.do(ctx, func(context.Context) { count = len(p.peers) })
	return count, err
}

func (p *Protocol) handleEvent(ctx context.Context, event transport.Event) {
	switch event.Kind {
	case transport.EventConnect:
		p.handleConnect(ctx, event)
	case transport.EventDisconnect:
		p.handleDisconnect(event)
	case transport.EventMessage:
		p.handleMessage(ctx, event)
	}
}

func (p *Protocol) handleConnect(ctx context.Context, event transport.Event) {
	if _, exists := p.peers[event.Conn]; exists {
		return
	}
	target := &peer{conn: event.Conn, name: event.Peer}
	p.peers[event.Conn] = target
	p.logger.Info("peer connected", "peer", event.Peer, "conn", event.Conn)

	value := p.register.Value()
	if !p.send(ctx, target, Message{Kind: KindSetup, From: p.self, Setup: &value}) {
		return
	}
	if p.joined {
		p.send(ctx, target, Message{Kind: KindRoomUpdate, From: p.self, Document: p.store.Encode()})
	}
}

func (p *Protocol) handleDisconnect(event transport.Event) {
	target, ok := p.peers[event.Conn]
	if !ok {
		if target, ok = p.pruned[event.Conn]; !ok {
			return
		}
	}
	delete(p.peers, event.Conn)
	delete(p.pruned, event.Conn)
	p.logger.Info("peer disconnected", "peer", target.name, "conn", event.Conn, "participant", target.participant)

	if target.participant == "" || p.associated(target.participant) {
		return
	}
	// The removal notifies the store callback; the resulting full
	// change broadcasts a snapshot.
	p.store.RemoveUser(target.participant, true)
}

// associated reports whether any link still belongs to participant.
func (p *Protocol) associated(participant string) bool {
	for _, other := range p.peers {
		if other.participant == participant {
			return true
		}
	}
	return false
}

func (p *Protocol) handleMessage(ctx context.Context, event transport.Event) {
	source, ok := p.peers[event.Conn]
	if !ok {
		// The link was pruned after a send failure but is still
		// delivering; take it back.
		source, ok = p.pruned[event.Conn]
		if ok {
			delete(p.pruned, event.Conn)
		} else {
			source = &peer{conn: event.Conn, name: event.Peer}
		}
		p.peers[event.Conn] = source
	}

	message, err := Decode(event.Data)
	if err != nil {
		p.logger.Warn("dropping malformed gossip frame", "peer", source.name, "bytes", len(event.Data), "error", err)
		return
	}

	switch message.Kind {
	case KindSetup:
		if p.register.Reconcile(*message.Setup) == setup.Stale {
			value := p.register.Value()
			p.send(ctx, source, Message{Kind: KindSetupUpdate, From: p.self, Setup: &value})
		}

	case KindSetupUpdate:
		outcome := p.register.Reconcile(*message.Setup)
		p.logger.Debug("setup update received", "from", message.From, "outcome", outcome)

	case KindRoomUpdate:
		p.handleRoomUpdate(ctx, source, message)

	case KindRoom:
		if !p.joined || !p.seen.add(message.ID) {
			return
		}
		if room, ok := p.store.RoomOf(p.self); ok && room == message.Room {
			p.deliver(RoomMessage{ID: message.ID, From: message.From, Room: message.Room, Body: message.Body})
		}
	}
}

func (p *Protocol) handleRoomUpdate(ctx context.Context, source *peer, message Message) {
	if message.From == p.self {
		return
	}
	if source.participant == "" {
		source.participant = message.From
		p.logger.Debug("peer associated", "peer", source.name, "participant", message.From)
	}

	// A partial document lacks most entries by construction, so only a
	// full snapshot can show that the sender is behind.
	result := p.store.Merge(message.Document)
	if result.Stale && !message.Partial && p.joined {
		p.send(ctx, source, Message{Kind: KindRoomUpdate, From: p.self, Document: p.store.Encode()})
	}
}

// handleChange broadcasts a store change. Before the first broadcast
// nothing is sent; the settle snapshot carries everything.
func (p *Protocol) handleChange(ctx context.Context, full bool) {
	if !p.joined || !p.settled {
		return
	}
	if full {
		p.broadcastSnapshot(ctx)
		return
	}
	delta := p.store.EncodeDelta()
	if delta.Empty() {
		return
	}
	p.broadcast(ctx, Message{Kind: KindRoomUpdate, From: p.self, Document: delta, Partial: true})
}

func (p *Protocol) broadcastSnapshot(ctx context.Context) {
	if !p.joined {
		return
	}
	p.broadcast(ctx, Message{Kind: KindRoomUpdate, From: p.self, Document: p.store.Snapshot()})
}

func (p *Protocol) broadcast(ctx context.Context, message Message) {
	if len(p.peers) == 0 {
		return
	}
	frame, err := Encode(message, p.compression)
	if err != nil {
		p.logger.Error("encoding broadcast failed", "kind", message.Kind, "error", err)
		return
	}
	for _, conn := range p.sortedConns() {
		p.sendFrame(ctx, p.peers[conn], frame)
	}
}

// send encodes and sends one message. Returns false if the link was
// pruned.
func (p *Protocol) send(ctx context.Context, target *peer, message Message) bool {
	frame, err := Encode(message, p.compression)
	if err != nil {
		p.logger.Error("encoding message failed", "kind", message.Kind, "error", err)
		return true
	}
	return p.sendFrame(ctx, target, frame)
}

// sendFrame writes frame to target, pruning the link on failure.
func (p *Protocol) sendFrame(ctx context.Context, target *peer, frame []byte) bool {
	if err := p.transport.Send(ctx, target.conn, frame); err != nil {
		p.logger.Warn("send failed, pruning peer", "peer", target.name, "conn", target.conn, "error", err)
		delete(p.peers, target.conn)
		if target.participant != "" {
			p.pruned[target.conn] = target
		}
		return false
	}
	return true
}

func (p *Protocol) sortedConns() []transport.ConnID {
	return slices.Sorted(maps.Keys(p.peers))
}

func (p *Protocol) deliver(message RoomMessage) {
	select {
	case p.messages <- message:
	default:
		p.logger.Warn("room message buffer full, dropping message", "id", message.ID, "room", message.Room)
	}
}
