// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*HTTPSignaler)(nil)

// HTTPSignaler is a Signaler that talks to a Rendezvous.
type HTTPSignaler struct {
	base   string
	client *http.Client
}

// NewHTTPSignaler returns a client for the rendezvous at baseURL. A nil
// client uses one with a 10 second timeout.
func NewHTTPSignaler(baseURL string, client *http.Client) (*HTTPSignaler, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing rendezvous URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("transport: rendezvous URL %q must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSignaler{base: strings.TrimRight(baseURL, "/"), client: client}, nil
}

func (s *HTTPSignaler) Announce(ctx context.Context, swarm, peer string) error {
	return s.post(ctx, swarm, "announce", announceRequest{Peer: peer})
}

func (s *HTTPSignaler) Peers(ctx context.Context, swarm string) ([]string, error) {
	var response peersResponse
	if err := s.get(ctx, swarm, "peers", nil, &response); err != nil {
		return nil, err
	}
	return response.Peers, nil
}

func (s *HTTPSignaler) PublishOffer(ctx context.Context, swarm, offerer, target, sdp string) error {
	return s.post(ctx, swarm, "offers", signalRequest{Offerer: offerer, Target: target, SDP: sdp})
}

func (s *HTTPSignaler) PublishAnswer(ctx context.Context, swarm, offerer, answerer, sdp string) error {
	return s.post(ctx, swarm, "answers", signalRequest{Offerer: offerer, Answerer: answerer, SDP: sdp})
}

func (s *HTTPSignaler) PollOffers(ctx context.Context, swarm, target string) ([]SignalMessage, error) {
	var response signalsResponse
	if err := s.get(ctx, swarm, "offers", url.Values{"target": {target}}, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

func (s *HTTPSignaler) PollAnswers(ctx context.Context, swarm, offerer string) ([]SignalMessage, error) {
	var response signalsResponse
	if err := s.get(ctx, swarm, "answers", url.Values{"offerer": {offerer}}, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

func (s *HTTPSignaler) endpoint(swarm, resource string) string {
	return s.base + "/v1/swarms/" + url.PathEscape(swarm) + "/" + resource
}

func (s *HTTPSignaler) post(ctx context.Context, swarm, resource string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encoding %s request: %w", resource, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(swarm, resource), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: building %s request: %w", resource, err)
	}
	request.Header.Set("Content-Type", "application/json")
	return s.do(request, nil)
}

func (s *HTTPSignaler) get(ctx context.Context, swarm, resource string, query url.Values, target any) error {
	endpoint := s.endpoint(swarm, resource)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("transport: building %s request: %w", resource, err)
	}
	return s.do(request, target)
}

func (s *HTTPSignaler) do(request *http.Request, target any) error {
	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("transport: rendezvous %s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("transport: rendezvous %s %s: %s: %s",
			request.Method, request.URL.Path, response.Status, strings.TrimSpace(string(detail)))
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("transport: decoding rendezvous response: %w", err)
	}
	return nil
}
