// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"maps"
	"reflect"
	"slices"
)

// ProjectedRoom is a live room as the UI sees it.
type ProjectedRoom struct {
	StudentPublicState  string `json:"studentPublicState"`
	TeacherPublicState  string `json:"teacherPublicState"`
	TeacherPrivateState string `json:"teacherPrivateState"`
}

// ProjectedUser is a live user as the UI sees it.
type ProjectedUser struct {
	DisplayName string       `json:"displayName"`
	Room        string       `json:"room"`
	Role        Role         `json:"role"`
	DateJoined  int64        `json:"dateJoined"`
	HandRaised  bool         `json:"handRaised"`
	Connections []Connection `json:"connections"`
}

// Projection is the externally visible view of a Document: live
// entries only, without timestamps or tombstones. A Projection handed
// out by a Store is shared and must not be modified.
type Projection struct {
	Rooms map[string]ProjectedRoom `json:"rooms"`
	Users map[string]ProjectedUser `json:"users"`
}

// Project computes the projection of d. A live user whose room is not
// live is projected into Lobby.
func Project(d *Document) *Projection {
	p := &Projection{
		Rooms: make(map[string]ProjectedRoom, len(d.Rooms)),
		Users: make(map[string]ProjectedUser, len(d.Users)),
	}
	for name, room := range d.Rooms {
		if room.Tombstone {
			continue
		}
		p.Rooms[name] = ProjectedRoom{
			StudentPublicState:  room.StudentPublicState,
			TeacherPublicState:  room.TeacherPublicState,
			TeacherPrivateState: room.TeacherPrivateState,
		}
	}
	for id, user := range d.Users {
		if user.Tombstone {
			continue
		}
		room := user.Room
		if _, live := p.Rooms[room]; !live {
			room = Lobby
		}
		p.Users[id] = ProjectedUser{
			DisplayName: user.DisplayName,
			Room:        room,
			Role:        user.Role,
			DateJoined:  user.DateJoined,
			HandRaised:  user.HandRaised,
			Connections: user.clone().Connections,
		}
	}
	return p
}

// Equal reports whether p and q show the same state.
func (p *Projection) Equal(q *Projection) bool {
	if p == nil || q == nil {
		return p == q
	}
	return reflect.DeepEqual(p, q)
}

// UsersIn returns the ids of the users in room, sorted.
func (p *Projection) UsersIn(room string) []string {
	var ids []string
	for id, user := range p.Users {
		if user.Room == room {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// RoomNames returns the live room names with Lobby first and the rest
// sorted.
func (p *Projection) RoomNames() []string {
	names := slices.Sorted(maps.Keys(p.Rooms))
	if i := slices.Index(names, Lobby); i > 0 {
		names = append([]string{Lobby}, slices.Delete(names, i, i+1)...)
	}
	return names
}
