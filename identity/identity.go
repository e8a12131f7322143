// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

const (
	// DeviceIDLength is the length of the persisted device id.
	DeviceIDLength = 12

	// SessionIDLength is the length of the per-process suffix.
	SessionIDLength = 6

	// StationPrefix starts every station id.
	StationPrefix = "Station "

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrInvalidID reports a device id that is not DeviceIDLength
// alphanumeric characters.
var ErrInvalidID = errors.New("identity: invalid device id")

// Store persists the device id.
type Store interface {
	// Load returns the saved id, or "" if none was saved yet.
	Load(ctx context.Context) (string, error)

	// Save replaces the saved id.
	Save(ctx context.Context, id string) error
}

// Identity is the resolved identity of the local participant.
type Identity struct {
	// Device is the persisted device id. Empty for stations.
	Device string

	// Session is the per-process suffix. Empty for stations.
	Session string

	// Participant is the id used in the presence document.
	Participant string
}

// IsStation reports whether the local participant is a station.
func (i Identity) IsStation() bool { return IsStation(i.Participant) }

// Resolve loads (or creates and saves) the device id and pairs it with
// a fresh session suffix. If station is non-empty the participant is
// the station with that number instead and the store is not touched.
func Resolve(ctx context.Context, store Store, station string) (Identity, error) {
	if station != "" {
		return Identity{Participant: StationID(station)}, nil
	}

	device, err := LoadOrCreate(ctx, store)
	if err != nil {
		return Identity{}, err
	}
	session, err := RandomString(SessionIDLength)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Device:      device,
		Session:     session,
		Participant: ParticipantID(device, session),
	}, nil
}

// LoadOrCreate returns the stored device id, generating and saving a
// new one when the store is empty.
func LoadOrCreate(ctx context.Context, store Store) (string, error) {
	id, err := store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading device id: %w", err)
	}
	if id != "" {
		if err := ValidateDeviceID(id); err != nil {
			return "", err
		}
		return id, nil
	}

	id, err = RandomString(DeviceIDLength)
	if err != nil {
		return "", err
	}
	if err := store.Save(ctx, id); err != nil {
		return "", fmt.Errorf("saving device id: %w", err)
	}
	return id, nil
}

// ValidateDeviceID returns ErrInvalidID unless id has the generated
// shape.
func ValidateDeviceID(id string) error {
	if len(id) != DeviceIDLength {
		return fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidID, id, len(id), DeviceIDLength)
	}
	for _, r := range id {
		if !strings.ContainsRune(alphabet, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, r)
		}
	}
	return nil
}

// RandomString returns n characters drawn uniformly from [A-Za-z0-9].
func RandomString(n int) (string, error) {
	// 248 is the largest multiple of len(alphabet) that fits a byte;
	// rejecting bytes above it keeps the distribution uniform.
	const limit = 256 - 256%len(alphabet)

	out := make([]byte, 0, n)
	buffer := make([]byte, n+n/2)
	for len(out) < n {
		if _, err := rand.Read(buffer); err != nil {
			return "", fmt.Errorf("identity: reading random bytes: %w", err)
		}
		for _, b := range buffer {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// ParticipantID joins a device id and session suffix.
func ParticipantID(device, session string) string {
	return device + "_" + session
}

// StationID returns the participant id (and room name) of a station.
func StationID(number string) string {
	return StationPrefix + number
}

// IsStation reports whether id names a station.
func IsStation(id string) bool {
	return strings.HasPrefix(id, StationPrefix)
}

// ShortID returns the abbreviated form shown next to display names:
// the device part without its first six characters. Ids that are not
// device_session pairs are returned unchanged.
func ShortID(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) != 2 {
		return id
	}
	if len(parts[0]) <= 6 {
		return ""
	}
	return parts[0][6:]
}
