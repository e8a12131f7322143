// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"
)

func TestParseClassroomJSONC(t *testing.T) {
	data := []byte(`{
		// teacher notes
		"name": "Networks",
		"meta": {"defaultNumberOfRooms": 3},
		"members": {"teacher": ["abcdefghijkl"], "student": []},
		"modules": [
			{"url": "https://example.org/quiz", "showIn": "lobby",},
		],
	}`)

	classroom, err := ParseClassroom(data)
	if err != nil {
		t.Fatalf("ParseClassroom: %v", err)
	}
	if classroom.Name != "Networks" {
		t.Errorf("Name = %q", classroom.Name)
	}
	if got := classroom.BaseRooms(0); got != 3 {
		t.Errorf("BaseRooms = %d, want 3", got)
	}
	if !classroom.IsTeacher("abcdefghijkl") || classroom.IsTeacher("zzzzzzzzzzzz") {
		t.Error("IsTeacher mismatch")
	}
	if len(classroom.Modules) != 1 || classroom.Modules[0].ShowInCustom != "lobby" {
		t.Errorf("modules = %+v", classroom.Modules)
	}
}

func TestParseClassroomYAML(t *testing.T) {
	data := []byte(`
name: Optics
meta:
  defaultNumberOfRooms: 2
members:
  teacher: [abcdefghijkl]
modules:
  - url: https://example.org/lens
    showIn: "*"
    showInCustom: "Room 1"
`)
	classroom, err := ParseClassroom(data)
	if err != nil {
		t.Fatalf("ParseClassroom: %v", err)
	}
	if classroom.Name != "Optics" || classroom.BaseRooms(5) != 2 {
		t.Errorf("classroom = %+v", classroom)
	}
	if classroom.Modules[0].ShowInCustom != "Room 1" {
		t.Errorf("ShowInCustom = %q, want explicit value kept", classroom.Modules[0].ShowInCustom)
	}
}

func TestParseClassroomRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "{ name: [unclosed"} {
		if _, err := ParseClassroom([]byte(input)); err == nil {
			t.Errorf("ParseClassroom(%q) succeeded", input)
		}
	}
}

func TestBaseRoomsFallback(t *testing.T) {
	classroom := &Classroom{}
	if got := classroom.BaseRooms(4); got != 4 {
		t.Errorf("BaseRooms = %d, want fallback 4", got)
	}
}

func TestStringifyRoundTrip(t *testing.T) {
	classroom := &Classroom{Name: "Biology", Modules: []Module{{URL: "https://example.org/cell"}}}
	data, err := classroom.Stringify()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: Biology") {
		t.Errorf("Stringify = %s", data)
	}
	parsed, err := ParseClassroom(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Name != "Biology" || parsed.Modules[0].URL != "https://example.org/cell" {
		t.Errorf("round trip = %+v", parsed)
	}
}

func TestStripSecrets(t *testing.T) {
	input := map[string]any{
		"question":     "What is 2+2?",
		"secretAnswer": "4",
		"SecretKey":    "k",
		"grading": map[string]any{
			"secret": "x",
		},
		"hints": []any{
			map[string]any{"text": "add", "secretNote": "n"},
		},
	}

	out := StripSecrets(input).(map[string]any)
	if _, ok := out["secretAnswer"]; ok {
		t.Error("secretAnswer survived")
	}
	if _, ok := out["SecretKey"]; ok {
		t.Error("SecretKey survived")
	}
	if _, ok := out["grading"]; ok {
		t.Error("map emptied by stripping should be dropped")
	}
	hint := out["hints"].([]any)[0].(map[string]any)
	if _, ok := hint["secretNote"]; ok || hint["text"] != "add" {
		t.Errorf("hint = %v", hint)
	}
	if _, ok := input["secretAnswer"]; !ok {
		t.Error("StripSecrets mutated its input")
	}
}

func TestWithoutSecretsOnYAMLDefinition(t *testing.T) {
	classroom, err := ParseClassroom([]byte(`
name: Quiz
modules:
  - url: https://example.org/quiz
    config:
      question: q
      secretSolution: s
    teacherConfig:
      secretGrading: g
`))
	if err != nil {
		t.Fatal(err)
	}
	stripped := classroom.WithoutSecrets()
	config := stripped.Modules[0].Config.(map[string]any)
	if _, ok := config["secretSolution"]; ok || config["question"] != "q" {
		t.Errorf("config = %v", config)
	}
	if teacher, ok := stripped.Modules[0].TeacherConfig.(map[string]any); !ok || len(teacher) != 0 {
		t.Errorf("teacherConfig = %#v", stripped.Modules[0].TeacherConfig)
	}
	if _, ok := classroom.Modules[0].Config.(map[string]any)["secretSolution"]; !ok {
		t.Error("WithoutSecrets mutated the original")
	}
}
