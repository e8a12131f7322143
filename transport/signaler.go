// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Signaler is the swarm discovery and SDP exchange used by
// WebRTCTransport. Every call is scoped to a swarm (see InfoHash);
// peers of different classrooms never see each other.
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round-trip (offer, then answer).
type Signaler interface {
	// Announce records that peer is present in swarm. Announcements
	// expire, so peers re-announce periodically.
	Announce(ctx context.Context, swarm, peer string) error

	// Peers returns the peers with a current announcement in swarm.
	Peers(ctx context.Context, swarm string) ([]string, error)

	// PublishOffer publishes a complete SDP offer from offerer to
	// target.
	PublishOffer(ctx context.Context, swarm, offerer, target, sdp string) error

	// PublishAnswer publishes a complete SDP answer from answerer to
	// the offer previously published by offerer.
	PublishAnswer(ctx context.Context, swarm, offerer, answerer, sdp string) error

	// PollOffers returns offers directed at target that target has not
	// seen yet.
	PollOffers(ctx context.Context, swarm, target string) ([]SignalMessage, error)

	// PollAnswers returns answers to offers by offerer that offerer
	// has not seen yet.
	PollAnswers(ctx context.Context, swarm, offerer string) ([]SignalMessage, error)
}

// SignalMessage is an offer or an answer.
type SignalMessage struct {
	// Peer is the other party: the offerer for received offers, the
	// answerer for received answers.
	Peer string `json:"peer"`

	// SDP is the complete session description with all ICE
	// candidates embedded.
	SDP string `json:"sdp"`

	// Timestamp is the RFC 3339 creation time of the signal.
	Timestamp string `json:"timestamp"`
}
