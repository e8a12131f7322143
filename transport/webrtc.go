// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Transport = (*WebRTCTransport)(nil)

// gossipChannelLabel names the single data channel each PeerConnection
// carries. Channels with any other label are closed on open.
const gossipChannelLabel = "gossip"

// DefaultAnnounceInterval is how often Run announces, polls for offers
// and dials newly discovered peers.
const DefaultAnnounceInterval = 2 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate gathering
// to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often the dialer polls for an SDP answer after
// publishing an offer.
const answerPollInterval = 250 * time.Millisecond

// answerTimeout is the maximum time to wait for an SDP answer before giving up.
const answerTimeout = 30 * time.Second

// channelOpenTimeout bounds the wait between a connected PeerConnection
// and an open gossip channel.
const channelOpenTimeout = 30 * time.Second

// WebRTCConfig configures a WebRTCTransport.
type WebRTCConfig struct {
	// Signaler exchanges announcements and SDPs. Required.
	Signaler Signaler

	// Swarm scopes every signaling call, usually InfoHash(classroom).
	Swarm string

	// Peer is this transport's name in the swarm. Required.
	Peer string

	// ICE lists STUN/TURN servers. Empty means host candidates only.
	ICE ICEConfig

	// AnnounceInterval overrides DefaultAnnounceInterval.
	AnnounceInterval time.Duration

	Logger *slog.Logger
}

// WebRTCTransport links peers of one swarm over WebRTC data channels.
//
// Each remote peer gets one PeerConnection carrying one ordered,
// reliable data channel; one data channel message is one transport
// message. When both sides discover each other at once, the peer with
// the lexicographically smaller name is the canonical offerer and the
// other side's attempt is abandoned.
//
// Connection establishment uses vanilla ICE: all candidates are
// gathered before the SDP is published, so signaling requires exactly
// one round-trip.
type WebRTCTransport struct {
	signaler Signaler
	swarm    string
	self     string
	ice      ICEConfig
	interval time.Duration
	logger   *slog.Logger
	events   *eventQueue

	// peers maps remote peer name → peerState; conns indexes the same
	// states by connection id once their channel is open.
	mu    sync.Mutex
	peers map[string]*peerState
	conns map[ConnID]*peerState

	// answers holds SDP answers polled while waiting for a different
	// peer's answer, keyed by answerer.
	answers map[string]string

	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	connCounter atomic.Uint64
}

// peerState tracks the PeerConnection to a single remote peer. The
// channel and opened fields are guarded by WebRTCTransport.mu.
type peerState struct {
	peer       string
	conn       ConnID
	connection *webrtc.PeerConnection
	channel    *webrtc.DataChannel

	// open is closed when the gossip channel opens, down when the
	// state is torn down.
	open chan struct{}
	down chan struct{}

	// opened records that EventConnect was emitted, so exactly one
	// EventDisconnect follows it.
	opened bool
	gone   bool
}

// NewWebRTCTransport returns a transport that is idle until Run starts
// discovery. Connect works before Run as long as the remote side is
// polling for offers.
func NewWebRTCTransport(config WebRTCConfig) (*WebRTCTransport, error) {
	if config.Signaler == nil {
		return nil, errors.New("transport: WebRTC transport requires a signaler")
	}
	if config.Peer == "" {
		return nil, errors.New("transport: WebRTC transport requires a peer name")
	}
	if config.AnnounceInterval <= 0 {
		config.AnnounceInterval = DefaultAnnounceInterval
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &WebRTCTransport{
		signaler: config.Signaler,
		swarm:    config.Swarm,
		self:     config.Peer,
		ice:      config.ICE,
		interval: config.AnnounceInterval,
		logger:   config.Logger.With("swarm", config.Swarm, "peer", config.Peer),
		events:   newEventQueue(),
		peers:    make(map[string]*peerState),
		conns:    make(map[ConnID]*peerState),
		answers:  make(map[string]string),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}, nil
}

// Peer returns this transport's name in the swarm.
func (wt *WebRTCTransport) Peer() string { return wt.self }

// Ready is closed once Run has announced for the first time.
func (wt *WebRTCTransport) Ready() <-chan struct{} { return wt.ready }

// Events returns the event channel.
func (wt *WebRTCTransport) Events() <-chan Event { return wt.events.out }

// Run announces this peer, answers inbound offers and dials every
// announced peer whose name sorts after ours. Blocks until ctx is
// cancelled or Close is called.
func (wt *WebRTCTransport) Run(ctx context.Context) error {
	ticker := time.NewTicker(wt.interval)
	defer ticker.Stop()

	for {
		wt.discover(ctx)
		wt.readyOnce.Do(func() { close(wt.ready) })

		select {
		case <-ctx.Done():
			return nil
		case <-wt.closed:
			return nil
		case <-ticker.C:
		}
	}
}

func (wt *WebRTCTransport) discover(ctx context.Context) {
	if err := wt.signaler.Announce(ctx, wt.swarm, wt.self); err != nil {
		wt.logger.Warn("announcing to rendezvous failed", "error", err)
	}

	wt.processInboundOffers(ctx)

	peers, err := wt.signaler.Peers(ctx, wt.swarm)
	if err != nil {
		wt.logger.Warn("listing swarm peers failed", "error", err)
		return
	}
	for _, peer := range peers {
		if peer <= wt.self {
			continue
		}
		wt.mu.Lock()
		_, known := wt.peers[peer]
		wt.mu.Unlock()
		if known {
			continue
		}
		go func() {
			dialCtx, cancel := context.WithTimeout(ctx, answerTimeout+channelOpenTimeout)
			defer cancel()
			if _, err := wt.Connect(dialCtx, peer); err != nil && !errors.Is(err, ErrClosed) {
				wt.logger.Warn("dialing discovered peer failed", "remote", peer, "error", err)
			}
		}()
	}
}

// Connect returns the link to peer, establishing a PeerConnection by
// publishing an SDP offer if none exists. Blocks until the gossip
// channel is open.
func (wt *WebRTCTransport) Connect(ctx context.Context, peer string) (ConnID, error) {
	select {
	case <-wt.closed:
		return "", ErrClosed
	default:
	}
	if peer == wt.self {
		return "", fmt.Errorf("transport: cannot connect to self")
	}

	state, err := wt.getOrCreatePeer(ctx, peer)
	if err != nil {
		return "", fmt.Errorf("establishing peer connection to %s: %w", peer, err)
	}

	timeout := time.NewTimer(channelOpenTimeout)
	defer timeout.Stop()
	select {
	case <-state.open:
		return state.conn, nil
	case <-state.down:
		return "", fmt.Errorf("%w: link to %s closed while opening", ErrUnknownConnection, peer)
	case <-timeout.C:
		wt.teardown(state)
		return "", fmt.Errorf("gossip channel to %s did not open within %s", peer, channelOpenTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-wt.closed:
		return "", ErrClosed
	}
}

// getOrCreatePeer returns the peerState for peer, creating and
// signaling a new PeerConnection if necessary. Concurrent callers for
// the same peer share one attempt.
func (wt *WebRTCTransport) getOrCreatePeer(ctx context.Context, peer string) (*peerState, error) {
	wt.mu.Lock()
	if existing, ok := wt.peers[peer]; ok {
		if !connectionDead(existing.connection) {
			wt.mu.Unlock()
			return existing, nil
		}
		wt.mu.Unlock()
		wt.teardown(existing)
		wt.mu.Lock()
	}

	connection, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	state := wt.newPeerState(peer, connection)
	wt.peers[peer] = state
	wt.mu.Unlock()

	if err := wt.establishOutbound(ctx, state); err != nil {
		wt.teardown(state)
		return nil, err
	}
	return state, nil
}

func (wt *WebRTCTransport) newPeerState(peer string, connection *webrtc.PeerConnection) *peerState {
	state := &peerState{
		peer:       peer,
		conn:       ConnID(fmt.Sprintf("rtc-%d", wt.connCounter.Add(1))),
		connection: connection,
		open:       make(chan struct{}),
		down:       make(chan struct{}),
	}
	connection.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		wt.handleConnectionStateChange(state, s)
	})
	return state
}

// establishOutbound creates the gossip channel, publishes the offer and
// applies the answer. The state must already be registered in peers.
func (wt *WebRTCTransport) establishOutbound(ctx context.Context, state *peerState) error {
	ordered := true
	channel, err := state.connection.CreateDataChannel(gossipChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("creating gossip data channel: %w", err)
	}
	wt.attachChannel(state, channel)

	offer, err := state.connection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	sdp, err := wt.gatherLocal(ctx, state.connection, offer)
	if err != nil {
		return err
	}

	// Drop any stale answer from an earlier attempt before publishing.
	wt.mu.Lock()
	delete(wt.answers, state.peer)
	wt.mu.Unlock()

	if err := wt.signaler.PublishOffer(ctx, wt.swarm, wt.self, state.peer, sdp); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	wt.logger.Info("WebRTC offer published", "remote", state.peer)

	answerSDP, err := wt.waitForAnswer(ctx, state.peer)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", state.peer, err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := state.connection.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// waitForAnswer polls the signaler for an SDP answer from peer. Answers
// from other peers are stashed for their own waiters.
func (wt *WebRTCTransport) waitForAnswer(ctx context.Context, peer string) (string, error) {
	deadline := time.NewTimer(answerTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		if sdp, ok := wt.takeAnswer(peer); ok {
			return sdp, nil
		}
		select {
		case <-deadline.C:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wt.closed:
			return "", ErrClosed
		case <-ticker.C:
		}

		answers, err := wt.signaler.PollAnswers(ctx, wt.swarm, wt.self)
		if err != nil {
			wt.logger.Warn("polling for SDP answer failed", "error", err)
			continue
		}
		wt.mu.Lock()
		for _, answer := range answers {
			wt.answers[answer.Peer] = answer.SDP
		}
		wt.mu.Unlock()
	}
}

func (wt *WebRTCTransport) takeAnswer(peer string) (string, bool) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	sdp, ok := wt.answers[peer]
	if ok {
		delete(wt.answers, peer)
	}
	return sdp, ok
}

// processInboundOffers answers new SDP offers.
func (wt *WebRTCTransport) processInboundOffers(ctx context.Context) {
	offers, err := wt.signaler.PollOffers(ctx, wt.swarm, wt.self)
	if err != nil {
		wt.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		wt.mu.Lock()
		existing, hasExisting := wt.peers[offer.Peer]
		wt.mu.Unlock()

		if hasExisting {
			// Signaling race: the canonical offerer is the smaller name.
			// If that is us and our attempt is still alive, ignore the
			// remote offer.
			if !connectionDead(existing.connection) && offer.Peer > wt.self {
				continue
			}
			wt.teardown(existing)
		}

		if err := wt.answerOffer(ctx, offer); err != nil {
			wt.logger.Error("answering WebRTC offer failed", "remote", offer.Peer, "error", err)
		}
	}
}

// answerOffer creates a PeerConnection in response to an incoming SDP offer.
func (wt *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	connection, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}
	state := wt.newPeerState(offer.Peer, connection)
	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		if channel.Label() != gossipChannelLabel {
			channel.OnOpen(func() { channel.Close() })
			return
		}
		wt.attachChannel(state, channel)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := connection.SetRemoteDescription(remoteOffer); err != nil {
		connection.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := connection.CreateAnswer(nil)
	if err != nil {
		connection.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := wt.gatherLocal(ctx, connection, answer)
	if err != nil {
		connection.Close()
		return err
	}

	wt.mu.Lock()
	wt.peers[offer.Peer] = state
	wt.mu.Unlock()

	if err := wt.signaler.PublishAnswer(ctx, wt.swarm, offer.Peer, wt.self, sdp); err != nil {
		wt.teardown(state)
		return fmt.Errorf("publishing SDP answer: %w", err)
	}
	wt.logger.Info("WebRTC inbound connection answered", "remote", offer.Peer)
	return nil
}

// gatherLocal sets the local description and waits for ICE gathering
// to complete, returning the SDP with every candidate embedded.
func (wt *WebRTCTransport) gatherLocal(ctx context.Context, connection *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	timeout := time.NewTimer(iceGatherTimeout)
	defer timeout.Stop()
	select {
	case <-gatherComplete:
	case <-timeout.C:
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return connection.LocalDescription().SDP, nil
}

// attachChannel wires the gossip channel's callbacks to the event
// queue.
func (wt *WebRTCTransport) attachChannel(state *peerState, channel *webrtc.DataChannel) {
	channel.OnOpen(func() {
		wt.mu.Lock()
		if state.gone || wt.peers[state.peer] != state {
			wt.mu.Unlock()
			channel.Close()
			return
		}
		state.channel = channel
		state.opened = true
		wt.conns[state.conn] = state
		wt.mu.Unlock()

		close(state.open)
		wt.logger.Info("gossip channel open", "remote", state.peer, "conn", state.conn)
		wt.events.push(Event{Kind: EventConnect, Conn: state.conn, Peer: state.peer})
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		wt.events.push(Event{Kind: EventMessage, Conn: state.conn, Peer: state.peer, Data: message.Data})
	})
	channel.OnClose(func() {
		wt.teardown(state)
	})
}

// handleConnectionStateChange tears the peer down once the
// PeerConnection can no longer carry data.
func (wt *WebRTCTransport) handleConnectionStateChange(state *peerState, s webrtc.PeerConnectionState) {
	wt.logger.Debug("peer connection state change", "remote", state.peer, "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		wt.teardown(state)
	}
}

// teardown removes state from the maps, closes its PeerConnection and
// emits EventDisconnect if EventConnect was emitted. Safe to call more
// than once.
func (wt *WebRTCTransport) teardown(state *peerState) {
	wt.mu.Lock()
	if state.gone {
		wt.mu.Unlock()
		return
	}
	state.gone = true
	close(state.down)
	if wt.peers[state.peer] == state {
		delete(wt.peers, state.peer)
	}
	delete(wt.conns, state.conn)
	opened := state.opened
	wt.mu.Unlock()

	// Close re-enters the state change callback, which finds gone set.
	go state.connection.Close()

	if opened {
		wt.logger.Info("gossip channel closed", "remote", state.peer, "conn", state.conn)
		wt.events.push(Event{Kind: EventDisconnect, Conn: state.conn, Peer: state.peer})
	}
}

// Send writes data as one data channel message.
func (wt *WebRTCTransport) Send(_ context.Context, conn ConnID, data []byte) error {
	select {
	case <-wt.closed:
		return ErrClosed
	default:
	}
	wt.mu.Lock()
	state, ok := wt.conns[conn]
	wt.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if err := state.channel.Send(data); err != nil {
		return fmt.Errorf("transport: sending to %s: %w", state.peer, err)
	}
	return nil
}

// Close shuts down every PeerConnection and closes the event channel.
// No EventDisconnect is delivered for links torn down by Close.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
		wt.events.close()

		wt.mu.Lock()
		states := make([]*peerState, 0, len(wt.peers))
		for _, state := range wt.peers {
			state.gone = true
			close(state.down)
			states = append(states, state)
		}
		clear(wt.peers)
		clear(wt.conns)
		wt.mu.Unlock()

		for _, state := range states {
			state.connection.Close()
		}
	})
	return nil
}

// newPeerConnection creates a pion PeerConnection with the ICE config.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	// Loopback candidates let two participants on one machine connect,
	// which is also how the tests run.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: wt.ice.Servers})
}

func connectionDead(connection *webrtc.PeerConnection) bool {
	switch connection.ConnectionState() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}
