// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classroomui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/classroom/gossip"
	"github.com/bureau-foundation/classroom/identity"
	"github.com/bureau-foundation/classroom/presence"
)

// messageHistory is how many room messages the view keeps.
const messageHistory = 50

// sendTimeout bounds one SendToRoom call.
const sendTimeout = 5 * time.Second

// Source is the session as the view uses it. *session.Session
// satisfies it.
type Source interface {
	ID() string
	Projection() *presence.Projection
	CurrentRoom() string
	AddRoom() string
	GotoRoom(name string)
	RaiseHand(raised bool)
	SendToRoom(ctx context.Context, room string, body []byte) (string, error)
	Messages() <-chan gossip.RoomMessage
}

// projectionMsg carries a store update into the event loop.
type projectionMsg struct {
	update presence.Update
}

// roomMessageMsg carries an inbound room message.
type roomMessageMsg struct {
	message gossip.RoomMessage
}

// sentMsg reports the outcome of a SendToRoom.
type sentMsg struct {
	err error
}

// Model is the bubbletea model for the classroom view.
type Model struct {
	source  Source
	updates <-chan presence.Update
	keys    KeyMap
	theme   Theme

	projection *presence.Projection
	rooms      []string
	cursor     int

	composing bool
	input     textinput.Model

	messages []gossip.RoomMessage
	status   string
	failed   bool

	width  int
	height int
}

// NewModel creates a view over source. updates is the store's update
// channel; the view re-renders from each projection it receives.
func NewModel(source Source, updates <-chan presence.Update) Model {
	input := textinput.New()
	input.Placeholder = "message"
	input.CharLimit = 500
	input.Prompt = "> "

	model := Model{
		source:  source,
		updates: updates,
		keys:    DefaultKeyMap,
		theme:   DefaultTheme,
		input:   input,
	}
	model.setProjection(source.Projection())
	model.cursor = max(0, slices.Index(model.rooms, source.CurrentRoom()))
	return model
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(
		listenForUpdate(model.updates),
		listenForMessage(model.source.Messages()),
	)
}

func listenForUpdate(channel <-chan presence.Update) tea.Cmd {
	if channel == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-channel
		if !ok {
			return nil
		}
		return projectionMsg{update: update}
	}
}

func listenForMessage(channel <-chan gossip.RoomMessage) tea.Cmd {
	if channel == nil {
		return nil
	}
	return func() tea.Msg {
		message, ok := <-channel
		if !ok {
			return nil
		}
		return roomMessageMsg{message: message}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.input.Width = max(10, message.Width-4)
		return model, nil

	case projectionMsg:
		model.setProjection(message.update.Projection)
		return model, listenForUpdate(model.updates)

	case roomMessageMsg:
		model.messages = append(model.messages, message.message)
		if len(model.messages) > messageHistory {
			model.messages = slices.Delete(model.messages, 0, len(model.messages)-messageHistory)
		}
		return model, listenForMessage(model.source.Messages())

	case sentMsg:
		if message.err != nil {
			model.setStatus(true, "send failed: %v", message.err)
		} else {
			model.setStatus(false, "sent")
		}
		return model, nil

	case tea.KeyMsg:
		if model.composing {
			return model.handleComposeKeys(message)
		}
		return model.handleKeys(message)
	}
	return model, nil
}

func (model Model) handleKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}

	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.rooms)-1 {
			model.cursor++
		}

	case key.Matches(message, model.keys.Enter):
		if room := model.selectedRoom(); room != "" {
			model.source.GotoRoom(room)
			model.setStatus(false, "moved to %s", room)
		}

	case key.Matches(message, model.keys.AddRoom):
		name := model.source.AddRoom()
		model.setProjection(model.source.Projection())
		if index := slices.Index(model.rooms, name); index >= 0 {
			model.cursor = index
		}
		model.setStatus(false, "opened %s", name)

	case key.Matches(message, model.keys.RaiseHand):
		raised := !model.handRaised()
		model.source.RaiseHand(raised)
		if raised {
			model.setStatus(false, "hand raised")
		} else {
			model.setStatus(false, "hand lowered")
		}

	case key.Matches(message, model.keys.Compose):
		model.composing = true
		model.input.Reset()
		blink := model.input.Focus()
		return model, blink
	}
	return model, nil
}

func (model Model) handleComposeKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Cancel):
		model.composing = false
		model.input.Blur()
		return model, nil

	case key.Matches(message, model.keys.Send):
		body := strings.TrimSpace(model.input.Value())
		model.composing = false
		model.input.Blur()
		if body == "" {
			return model, nil
		}
		return model, sendToRoom(model.source, model.source.CurrentRoom(), body)
	}

	var command tea.Cmd
	model.input, command = model.input.Update(message)
	return model, command
}

func sendToRoom(source Source, room, body string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := source.SendToRoom(ctx, room, []byte(body))
		return sentMsg{err: err}
	}
}

// setProjection replaces the rendered projection and keeps the cursor
// on the same room name when that room survives.
func (model *Model) setProjection(projection *presence.Projection) {
	if projection == nil {
		projection = &presence.Projection{}
	}
	selected := model.selectedRoom()
	model.projection = projection
	model.rooms = projection.RoomNames()
	if index := slices.Index(model.rooms, selected); index >= 0 {
		model.cursor = index
	}
	model.cursor = min(model.cursor, max(0, len(model.rooms)-1))
}

func (model Model) selectedRoom() string {
	if model.cursor < 0 || model.cursor >= len(model.rooms) {
		return ""
	}
	return model.rooms[model.cursor]
}

func (model Model) handRaised() bool {
	if model.projection == nil {
		return false
	}
	return model.projection.Users[model.source.ID()].HandRaised
}

func (model *Model) setStatus(failed bool, format string, args ...any) {
	model.failed = failed
	model.status = fmt.Sprintf(format, args...)
}

// View implements tea.Model.
func (model Model) View() string {
	var builder strings.Builder
	builder.WriteString(model.renderHeader())
	builder.WriteString("\n\n")
	builder.WriteString(model.renderRooms())
	builder.WriteString("\n")
	builder.WriteString(model.renderMessages())
	if model.composing {
		builder.WriteString("\n")
		builder.WriteString(model.input.View())
	}
	builder.WriteString("\n")
	builder.WriteString(model.renderHelp())
	return builder.String()
}

func (model Model) renderHeader() string {
	style := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	name := model.label(model.source.ID())
	return style.Render(fmt.Sprintf("Classroom  %s in %s  (%d online)",
		name, model.source.CurrentRoom(), len(model.projection.Users)))
}

func (model Model) renderRooms() string {
	if len(model.rooms) == 0 {
		return lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("Not joined yet") + "\n"
	}
	current := model.source.CurrentRoom()

	var builder strings.Builder
	for index, room := range model.rooms {
		style := lipgloss.NewStyle().Foreground(model.theme.NormalText)
		if room == current {
			style = style.Foreground(model.theme.CurrentRoom).Bold(true)
		}
		if index == model.cursor {
			style = style.Background(model.theme.SelectedBackground)
		}
		users := model.projection.UsersIn(room)
		line := fmt.Sprintf("%s (%d)", room, len(users))
		if state := model.projection.Rooms[room].TeacherPublicState; state != "" {
			line += "  " + state
		}
		builder.WriteString(style.Render(line))
		builder.WriteString("\n")
		for _, id := range users {
			builder.WriteString("    ")
			builder.WriteString(model.renderUser(id, model.projection.Users[id]))
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// label names a participant by display name, tagged with the short
// form of its id.
func (model Model) label(id string) string {
	short := identity.ShortID(id)
	name := model.projection.Users[id].DisplayName
	switch {
	case name == "" && short != "":
		return short
	case name == "":
		return id
	case short != "" && short != id:
		return name + " #" + short
	}
	return name
}

func (model Model) renderUser(id string, user presence.ProjectedUser) string {
	name := model.label(id)
	style := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	switch user.Role {
	case presence.RoleTeacher:
		style = style.Foreground(model.theme.Teacher)
		name += " (teacher)"
	case presence.RoleStation:
		style = style.Foreground(model.theme.FaintText)
	}
	if id == model.source.ID() {
		name += " (you)"
	}
	rendered := style.Render(name)
	if user.HandRaised {
		rendered += " " + lipgloss.NewStyle().Foreground(model.theme.HandRaised).Render("✋")
	}
	return rendered
}

func (model Model) renderMessages() string {
	if len(model.messages) == 0 {
		return ""
	}
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	visible := model.messages
	if limit := model.messageRows(); len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	var builder strings.Builder
	for _, message := range visible {
		builder.WriteString(faint.Render(fmt.Sprintf("[%s] %s:", message.Room, model.label(message.From))))
		builder.WriteString(" ")
		builder.WriteString(string(message.Body))
		builder.WriteString("\n")
	}
	return builder.String()
}

// messageRows is how many message lines fit under the room list.
func (model Model) messageRows() int {
	if model.height == 0 {
		return messageHistory
	}
	used := 4 + len(model.rooms) + len(model.projection.Users)
	return max(3, model.height-used)
}

func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)
	help := " q quit  ↑↓ select  enter go to room  a add room  h hand  m message"
	if model.composing {
		help = " enter send  esc cancel"
	}
	if model.status != "" {
		statusStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)
		if model.failed {
			statusStyle = statusStyle.Foreground(model.theme.Error)
		}
		help += "  " + statusStyle.Render(model.status)
	}
	return style.Render(help)
}
