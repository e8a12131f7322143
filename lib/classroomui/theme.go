// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classroomui

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette for the classroom view. Colors are ANSI
// 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// CurrentRoom marks the room the participant is in.
	CurrentRoom lipgloss.Color
	Teacher     lipgloss.Color
	HandRaised  lipgloss.Color
	Error       lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
}

// DefaultTheme is a dark theme.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	SelectedBackground: lipgloss.Color("237"),
	SelectedForeground: lipgloss.Color("255"),
	CurrentRoom:        lipgloss.Color("114"),
	Teacher:            lipgloss.Color("75"),
	HandRaised:         lipgloss.Color("214"),
	Error:              lipgloss.Color("196"),
	HeaderForeground:   lipgloss.Color("255"),
	BorderColor:        lipgloss.Color("240"),
	HelpText:           lipgloss.Color("245"),
}
