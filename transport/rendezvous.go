// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// maxSignalBody bounds request bodies; SDPs with gathered candidates
// are a few kilobytes.
const maxSignalBody = 256 << 10

// Rendezvous serves a Signaler over HTTP for HTTPSignaler clients:
//
//	POST /v1/swarms/{swarm}/announce   {"peer"}
//	GET  /v1/swarms/{swarm}/peers
//	POST /v1/swarms/{swarm}/offers     {"offerer","target","sdp"}
//	GET  /v1/swarms/{swarm}/offers?target=
//	POST /v1/swarms/{swarm}/answers    {"offerer","answerer","sdp"}
//	GET  /v1/swarms/{swarm}/answers?offerer=
type Rendezvous struct {
	signaler Signaler
	logger   *slog.Logger
	mux      *http.ServeMux
}

type announceRequest struct {
	Peer string `json:"peer"`
}

type peersResponse struct {
	Peers []string `json:"peers"`
}

type signalRequest struct {
	Offerer  string `json:"offerer"`
	Target   string `json:"target,omitempty"`
	Answerer string `json:"answerer,omitempty"`
	SDP      string `json:"sdp"`
}

type signalsResponse struct {
	Messages []SignalMessage `json:"messages"`
}

// NewRendezvous returns a handler backed by signaler, typically a
// MemorySignaler.
func NewRendezvous(signaler Signaler, logger *slog.Logger) *Rendezvous {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Rendezvous{signaler: signaler, logger: logger, mux: http.NewServeMux()}
	r.mux.HandleFunc("POST /v1/swarms/{swarm}/announce", r.handleAnnounce)
	r.mux.HandleFunc("GET /v1/swarms/{swarm}/peers", r.handlePeers)
	r.mux.HandleFunc("POST /v1/swarms/{swarm}/offers", r.handlePublishOffer)
	r.mux.HandleFunc("GET /v1/swarms/{swarm}/offers", r.handlePollOffers)
	r.mux.HandleFunc("POST /v1/swarms/{swarm}/answers", r.handlePublishAnswer)
	r.mux.HandleFunc("GET /v1/swarms/{swarm}/answers", r.handlePollAnswers)
	return r
}

func (r *Rendezvous) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Rendezvous) handleAnnounce(w http.ResponseWriter, req *http.Request) {
	var body announceRequest
	if !r.decode(w, req, &body) {
		return
	}
	if body.Peer == "" {
		http.Error(w, "peer is required", http.StatusBadRequest)
		return
	}
	if err := r.signaler.Announce(req.Context(), req.PathValue("swarm"), body.Peer); err != nil {
		r.fail(w, "announce", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Rendezvous) handlePeers(w http.ResponseWriter, req *http.Request) {
	peers, err := r.signaler.Peers(req.Context(), req.PathValue("swarm"))
	if err != nil {
		r.fail(w, "peers", err)
		return
	}
	r.respond(w, peersResponse{Peers: peers})
}

func (r *Rendezvous) handlePublishOffer(w http.ResponseWriter, req *http.Request) {
	var body signalRequest
	if !r.decode(w, req, &body) {
		return
	}
	if body.Offerer == "" || body.Target == "" || body.SDP == "" {
		http.Error(w, "offerer, target and sdp are required", http.StatusBadRequest)
		return
	}
	if err := r.signaler.PublishOffer(req.Context(), req.PathValue("swarm"), body.Offerer, body.Target, body.SDP); err != nil {
		r.fail(w, "publish offer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Rendezvous) handlePublishAnswer(w http.ResponseWriter, req *http.Request) {
	var body signalRequest
	if !r.decode(w, req, &body) {
		return
	}
	if body.Offerer == "" || body.Answerer == "" || body.SDP == "" {
		http.Error(w, "offerer, answerer and sdp are required", http.StatusBadRequest)
		return
	}
	if err := r.signaler.PublishAnswer(req.Context(), req.PathValue("swarm"), body.Offerer, body.Answerer, body.SDP); err != nil {
		r.fail(w, "publish answer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Rendezvous) handlePollOffers(w http.ResponseWriter, req *http.Request) {
	target := req.URL.Query().Get("target")
	if target == "" {
		http.Error(w, "target is required", http.StatusBadRequest)
		return
	}
	messages, err := r.signaler.PollOffers(req.Context(), req.PathValue("swarm"), target)
	if err != nil {
		r.fail(w, "poll offers", err)
		return
	}
	r.respond(w, signalsResponse{Messages: messages})
}

func (r *Rendezvous) handlePollAnswers(w http.ResponseWriter, req *http.Request) {
	offerer := req.URL.Query().Get("offerer")
	if offerer == "" {
		http.Error(w, "offerer is required", http.StatusBadRequest)
		return
	}
	messages, err := r.signaler.PollAnswers(req.Context(), req.PathValue("swarm"), offerer)
	if err != nil {
		r.fail(w, "poll answers", err)
		return
	}
	r.respond(w, signalsResponse{Messages: messages})
}

func (r *Rendezvous) decode(w http.ResponseWriter, req *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSignalBody))
	if err := decoder.Decode(target); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, "invalid request body: "+err.Error(), status)
		return false
	}
	return true
}

func (r *Rendezvous) respond(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		r.logger.Warn("writing rendezvous response failed", "error", err)
	}
}

func (r *Rendezvous) fail(w http.ResponseWriter, operation string, err error) {
	r.logger.Error("rendezvous operation failed", "operation", operation, "error", err)
	http.Error(w, operation+" failed", http.StatusInternalServerError)
}
