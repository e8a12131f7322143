// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from STUN/TURN URLs. TURN
// credentials may be given as turn:user:password@host:port. An empty
// list yields host candidates only, which is enough on one LAN.
func ICEConfigFromURLs(urls []string) (ICEConfig, error) {
	var config ICEConfig
	for _, raw := range urls {
		scheme, rest, found := strings.Cut(raw, ":")
		if !found || (scheme != "stun" && scheme != "stuns" && scheme != "turn" && scheme != "turns") {
			return ICEConfig{}, fmt.Errorf("transport: ICE server %q must start with stun:, stuns:, turn: or turns:", raw)
		}
		server := webrtc.ICEServer{URLs: []string{raw}}
		if credentials, host, hasCredentials := strings.Cut(rest, "@"); hasCredentials {
			username, password, _ := strings.Cut(credentials, ":")
			server = webrtc.ICEServer{
				URLs:       []string{scheme + ":" + host},
				Username:   username,
				Credential: password,
			}
		}
		config.Servers = append(config.Servers, server)
	}
	return config, nil
}
