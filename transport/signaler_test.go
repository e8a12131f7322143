// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/classroom/lib/clock"
)

// exerciseSignaler runs the same scenario against any Signaler.
func exerciseSignaler(t *testing.T, signaler Signaler) {
	t.Helper()
	ctx := context.Background()

	for _, peer := range []string{"beta", "alpha"} {
		if err := signaler.Announce(ctx, "swarm-1", peer); err != nil {
			t.Fatalf("Announce(%s): %v", peer, err)
		}
	}
	if err := signaler.Announce(ctx, "swarm-2", "gamma"); err != nil {
		t.Fatalf("Announce(gamma): %v", err)
	}
	peers, err := signaler.Peers(ctx, "swarm-1")
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if !slices.Equal(peers, []string{"alpha", "beta"}) {
		t.Errorf("Peers(swarm-1) = %v, want [alpha beta]", peers)
	}

	if err := signaler.PublishOffer(ctx, "swarm-1", "alpha", "beta", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, err := signaler.PollOffers(ctx, "swarm-1", "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].Peer != "alpha" || offers[0].SDP != "offer-sdp" {
		t.Fatalf("PollOffers = %+v, want one offer from alpha", offers)
	}
	if offers, _ := signaler.PollOffers(ctx, "swarm-1", "beta"); len(offers) != 0 {
		t.Errorf("second PollOffers = %+v, want none", offers)
	}
	if offers, _ := signaler.PollOffers(ctx, "swarm-2", "beta"); len(offers) != 0 {
		t.Errorf("offer leaked into another swarm: %+v", offers)
	}

	if err := signaler.PublishAnswer(ctx, "swarm-1", "alpha", "beta", "answer-sdp"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	answers, err := signaler.PollAnswers(ctx, "swarm-1", "alpha")
	if err != nil {
		t.Fatalf("PollAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0].Peer != "beta" || answers[0].SDP != "answer-sdp" {
		t.Fatalf("PollAnswers = %+v, want one answer from beta", answers)
	}

	// A republished offer is new again.
	if err := signaler.PublishOffer(ctx, "swarm-1", "alpha", "beta", "offer-sdp-2"); err != nil {
		t.Fatalf("republish: %v", err)
	}
	offers, _ = signaler.PollOffers(ctx, "swarm-1", "beta")
	if len(offers) != 1 || offers[0].SDP != "offer-sdp-2" {
		t.Errorf("PollOffers after republish = %+v, want offer-sdp-2", offers)
	}
}

func TestMemorySignaler(t *testing.T) {
	exerciseSignaler(t, NewMemorySignaler(nil, 0))
}

func TestMemorySignalerExpiresAnnouncements(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	signaler := NewMemorySignaler(fake, time.Minute)
	ctx := context.Background()

	signaler.Announce(ctx, "swarm", "alpha")
	fake.Advance(30 * time.Second)
	signaler.Announce(ctx, "swarm", "beta")
	fake.Advance(45 * time.Second)

	peers, _ := signaler.Peers(ctx, "swarm")
	if !slices.Equal(peers, []string{"beta"}) {
		t.Errorf("Peers = %v, want [beta] after alpha expired", peers)
	}
}

func TestHTTPSignalerAgainstRendezvous(t *testing.T) {
	server := httptest.NewServer(NewRendezvous(NewMemorySignaler(nil, 0), nil))
	defer server.Close()

	signaler, err := NewHTTPSignaler(server.URL+"/", server.Client())
	if err != nil {
		t.Fatalf("NewHTTPSignaler: %v", err)
	}
	exerciseSignaler(t, signaler)
}

func TestRendezvousRejectsIncompleteRequests(t *testing.T) {
	server := httptest.NewServer(NewRendezvous(NewMemorySignaler(nil, 0), nil))
	defer server.Close()
	signaler, err := NewHTTPSignaler(server.URL, nil)
	if err != nil {
		t.Fatalf("NewHTTPSignaler: %v", err)
	}
	ctx := context.Background()

	if err := signaler.Announce(ctx, "swarm", ""); err == nil {
		t.Error("Announce with empty peer succeeded")
	}
	if err := signaler.PublishOffer(ctx, "swarm", "alpha", "", "sdp"); err == nil {
		t.Error("PublishOffer without target succeeded")
	}
	if _, err := signaler.PollAnswers(ctx, "swarm", ""); err == nil {
		t.Error("PollAnswers without offerer succeeded")
	}
}

func TestNewHTTPSignalerRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "localhost:7420", "::"} {
		if _, err := NewHTTPSignaler(raw, nil); err == nil {
			t.Errorf("NewHTTPSignaler(%q) succeeded", raw)
		}
	}
}
