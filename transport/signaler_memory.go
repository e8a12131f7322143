// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/classroom/lib/clock"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// DefaultAnnounceTTL is how long an announcement stays current.
const DefaultAnnounceTTL = 30 * time.Second

// MemorySignaler is an in-process Signaler. Two WebRTCTransports
// sharing one MemorySignaler can connect without network signaling,
// and Rendezvous serves one over HTTP.
type MemorySignaler struct {
	clock clock.Clock
	ttl   time.Duration

	mu            sync.Mutex
	announcements map[string]map[string]time.Time // swarm → peer → last announce
	offers        map[signalKey]SignalMessage
	answers       map[signalKey]SignalMessage
	lastSeen      map[seenKey]time.Time
}

type signalKey struct {
	swarm, offerer, target string
}

// seenKey tracks what one consumer has already polled.
type seenKey struct {
	kind     string
	consumer string
	signal   signalKey
}

// NewMemorySignaler returns an empty signaler. A nil clk uses
// clock.Real(); a non-positive ttl uses DefaultAnnounceTTL.
func NewMemorySignaler(clk clock.Clock, ttl time.Duration) *MemorySignaler {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultAnnounceTTL
	}
	return &MemorySignaler{
		clock:         clk,
		ttl:           ttl,
		announcements: make(map[string]map[string]time.Time),
		offers:        make(map[signalKey]SignalMessage),
		answers:       make(map[signalKey]SignalMessage),
		lastSeen:      make(map[seenKey]time.Time),
	}
}

func (s *MemorySignaler) Announce(_ context.Context, swarm, peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers, ok := s.announcements[swarm]
	if !ok {
		peers = make(map[string]time.Time)
		s.announcements[swarm] = peers
	}
	peers[peer] = s.clock.Now()
	return nil
}

func (s *MemorySignaler) Peers(_ context.Context, swarm string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var current []string
	for peer, announced := range s.announcements[swarm] {
		if now.Sub(announced) < s.ttl {
			current = append(current, peer)
		} else {
			delete(s.announcements[swarm], peer)
		}
	}
	slices.Sort(current)
	return current, nil
}

func (s *MemorySignaler) PublishOffer(_ context.Context, swarm, offerer, target, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[signalKey{swarm, offerer, target}] = SignalMessage{
		Peer:      offerer,
		SDP:       sdp,
		Timestamp: s.timestampLocked(),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, swarm, offerer, answerer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[signalKey{swarm, offerer, answerer}] = SignalMessage{
		Peer:      answerer,
		SDP:       sdp,
		Timestamp: s.timestampLocked(),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, swarm, target string) ([]SignalMessage, error) {
	return s.poll("offers", target, s.offers, func(key signalKey) bool {
		return key.swarm == swarm && key.target == target
	}), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, swarm, offerer string) ([]SignalMessage, error) {
	return s.poll("answers", offerer, s.answers, func(key signalKey) bool {
		return key.swarm == swarm && key.offerer == offerer
	}), nil
}

// poll returns the messages of store matching match that consumer has
// not seen, ordered by peer.
func (s *MemorySignaler) poll(kind, consumer string, store map[signalKey]SignalMessage, match func(signalKey) bool) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage
	for key, message := range store {
		if !match(key) {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, message.Timestamp)
		if err != nil {
			continue
		}
		seen := seenKey{kind: kind, consumer: consumer, signal: key}
		if last, ok := s.lastSeen[seen]; ok && !timestamp.After(last) {
			continue
		}
		s.lastSeen[seen] = timestamp
		messages = append(messages, message)
	}
	slices.SortFunc(messages, func(a, b SignalMessage) int { return cmp.Compare(a.Peer, b.Peer) })
	return messages
}

// timestampLocked returns a creation time strictly after the previous
// one, so a republished signal always counts as unseen.
func (s *MemorySignaler) timestampLocked() string {
	now := s.clock.Now().UTC()
	for _, store := range []map[signalKey]SignalMessage{s.offers, s.answers} {
		for _, message := range store {
			if previous, err := time.Parse(time.RFC3339Nano, message.Timestamp); err == nil && !now.After(previous) {
				now = previous.Add(time.Nanosecond)
			}
		}
	}
	return now.Format(time.RFC3339Nano)
}
