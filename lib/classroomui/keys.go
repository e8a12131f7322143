// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classroomui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the classroom view.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	// Room actions.
	Enter   key.Binding // Move to the selected room.
	AddRoom key.Binding

	RaiseHand key.Binding

	// Compose mode.
	Compose key.Binding
	Send    key.Binding
	Cancel  key.Binding

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "go to room"),
	),
	AddRoom: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "add room"),
	),
	RaiseHand: key.NewBinding(
		key.WithKeys("h"),
		key.WithHelp("h", "raise/lower hand"),
	),
	Compose: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "message room"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
