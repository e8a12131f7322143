// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package classroomui is the terminal front end for a classroom
// session. It renders the live presence projection (rooms, who is in
// each room, raised hands) and dispatches the participant's actions
// back to the session: moving between rooms, opening a breakout room,
// raising a hand and posting a message to the current room.
//
// The model is a plain bubbletea Model. It does not own the session;
// the caller constructs it from a [Source] and an update channel
// (normally Session.Subscribe().C()) and runs it with tea.NewProgram.
package classroomui
