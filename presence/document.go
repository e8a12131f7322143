// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Lobby is the permanent room every participant falls back to.
const Lobby = "Lobby"

// Role is a participant role.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleStation Role = "station"
)

// Room is a room entry.
type Room struct {
	StudentPublicState  string `cbor:"studentPublicState"`
	TeacherPublicState  string `cbor:"teacherPublicState"`
	TeacherPrivateState string `cbor:"teacherPrivateState"`

	Timestamp int64 `cbor:"timestamp"`
	Tombstone bool  `cbor:"tombstone"`
}

// RoomField names one of the opaque state blobs of a room.
type RoomField string

const (
	StudentPublicState  RoomField = "studentPublicState"
	TeacherPublicState  RoomField = "teacherPublicState"
	TeacherPrivateState RoomField = "teacherPrivateState"
)

// Connection is signaling metadata a participant publishes about one of
// its peer links. The store does not interpret it.
type Connection struct {
	ID     string            `cbor:"id" json:"id"`
	Target map[string]string `cbor:"target" json:"target"`
}

// User is a participant entry.
type User struct {
	DisplayName string       `cbor:"displayName"`
	Room        string       `cbor:"room"`
	Role        Role         `cbor:"role"`
	DateJoined  int64        `cbor:"dateJoined"`
	HandRaised  bool         `cbor:"handRaised"`
	Connections []Connection `cbor:"connections"`

	Timestamp int64 `cbor:"timestamp"`
	Tombstone bool  `cbor:"tombstone"`
}

// Document is the replicated state: rooms by name and users by id.
type Document struct {
	Rooms map[string]Room `cbor:"rooms"`
	Users map[string]User `cbor:"users"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Rooms: map[string]Room{}, Users: map[string]User{}}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{
		Rooms: maps.Clone(d.Rooms),
		Users: make(map[string]User, len(d.Users)),
	}
	if out.Rooms == nil {
		out.Rooms = map[string]Room{}
	}
	for id, user := range d.Users {
		out.Users[id] = user.clone()
	}
	return out
}

// Empty reports whether the document has no entries.
func (d *Document) Empty() bool {
	return len(d.Rooms) == 0 && len(d.Users) == 0
}

// Validate checks a decoded remote document before it is merged. A
// document that fails is dropped as a whole.
func (d *Document) Validate() error {
	var errs []error
	for name, room := range d.Rooms {
		if name == "" {
			errs = append(errs, errors.New("room with empty name"))
		}
		if room.Timestamp < 0 {
			errs = append(errs, fmt.Errorf("room %q has negative timestamp", name))
		}
	}
	for id, user := range d.Users {
		if id == "" {
			errs = append(errs, errors.New("user with empty id"))
		}
		if user.Timestamp < 0 {
			errs = append(errs, fmt.Errorf("user %q has negative timestamp", id))
		}
	}
	return errors.Join(errs...)
}

func (u User) clone() User {
	if u.Connections != nil {
		connections := make([]Connection, len(u.Connections))
		for i, connection := range u.Connections {
			connections[i] = Connection{ID: connection.ID, Target: maps.Clone(connection.Target)}
		}
		u.Connections = connections
	}
	return u
}

// RoomNames returns the names of the live rooms, sorted.
func (d *Document) RoomNames() []string {
	var names []string
	for name, room := range d.Rooms {
		if !room.Tombstone {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
