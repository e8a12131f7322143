// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/classroom/lib/codec"
	"github.com/bureau-foundation/classroom/lib/version"
	"github.com/bureau-foundation/classroom/presence"
	"github.com/bureau-foundation/classroom/setup"
)

// Kind identifies a gossip message.
type Kind string

const (
	KindSetup       Kind = "setup"
	KindSetupUpdate Kind = "setup-update"
	KindRoomUpdate  Kind = "room-update"
	KindRoom        Kind = "room"
)

// Message is one gossip message. Which fields are set depends on Kind.
type Message struct {
	// Protocol is the wire revision. Encode stamps version.Protocol
	// when it is zero.
	Protocol int `cbor:"v"`

	Kind Kind   `cbor:"kind"`
	From string `cbor:"from"`

	// Setup is the sender's register for setup and setup-update.
	Setup *setup.Value `cbor:"setup,omitempty"`

	// Document and Partial carry a room-update.
	Document *presence.Document `cbor:"document,omitempty"`
	Partial  bool               `cbor:"partial,omitempty"`

	// Room, ID and Body carry a room message. ID is unique per message
	// and lets receivers drop replays.
	Room string `cbor:"room,omitempty"`
	ID   string `cbor:"id,omitempty"`
	Body []byte `cbor:"message,omitempty"`
}

// RoomMessage is a room message delivered to the local participant.
type RoomMessage struct {
	ID   string
	From string
	Room string
	Body []byte
}

var errEmptySender = errors.New("gossip: message without sender")

// ErrProtocolMismatch is returned by Decode for a frame from a peer on
// a different wire revision.
var ErrProtocolMismatch = errors.New("gossip: protocol revision mismatch")

// Encode frames m for the wire.
func Encode(m Message, compression codec.Compression) ([]byte, error) {
	if m.Protocol == 0 {
		m.Protocol = version.Protocol
	}
	frame, err := codec.EncodeFrame(m, compression)
	if err != nil {
		return nil, fmt.Errorf("gossip: encoding %s message: %w", m.Kind, err)
	}
	return frame, nil
}

// Decode parses and validates a frame. A message that fails validation
// is rejected whole.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := codec.DecodeFrame(frame, &m); err != nil {
		return Message{}, fmt.Errorf("gossip: %w", err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	if m.Protocol != version.Protocol {
		return fmt.Errorf("%w: got %d, want %d", ErrProtocolMismatch, m.Protocol, version.Protocol)
	}
	if m.From == "" {
		return errEmptySender
	}
	switch m.Kind {
	case KindSetup, KindSetupUpdate:
		if m.Setup == nil {
			return fmt.Errorf("gossip: %s message from %s without a value", m.Kind, m.From)
		}
		if m.Setup.Timestamp < 0 {
			return fmt.Errorf("gossip: %s message from %s has a negative timestamp", m.Kind, m.From)
		}
	case KindRoomUpdate:
		if m.Document == nil {
			return fmt.Errorf("gossip: room-update from %s without a document", m.From)
		}
		if err := m.Document.Validate(); err != nil {
			return fmt.Errorf("gossip: room-update from %s: %w", m.From, err)
		}
	case KindRoom:
		if m.Room == "" || m.ID == "" {
			return fmt.Errorf("gossip: room message from %s without room or id", m.From)
		}
	default:
		return fmt.Errorf("gossip: unknown message kind %q from %s", m.Kind, m.From)
	}
	return nil
}
