// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Classroom is a teacher-authored classroom definition.
type Classroom struct {
	Name    string         `json:"name" yaml:"name"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
	Members Members        `json:"members" yaml:"members"`
	Modules []Module       `json:"modules" yaml:"modules"`
}

// Members lists the device ids allowed in each role.
type Members struct {
	Teacher []string `json:"teacher" yaml:"teacher"`
	Student []string `json:"student" yaml:"student"`
}

// Module is one embedded learning module.
type Module struct {
	URL           string `json:"url" yaml:"url"`
	Config        any    `json:"config,omitempty" yaml:"config,omitempty"`
	StudentConfig any    `json:"studentConfig,omitempty" yaml:"studentConfig,omitempty"`
	TeacherConfig any    `json:"teacherConfig,omitempty" yaml:"teacherConfig,omitempty"`
	StationConfig any    `json:"stationConfig,omitempty" yaml:"stationConfig,omitempty"`
	Width         string `json:"width,omitempty" yaml:"width,omitempty"`
	Height        string `json:"height,omitempty" yaml:"height,omitempty"`

	// ShowIn is the legacy field; ShowInCustom wins when both are set.
	ShowIn       string `json:"showIn,omitempty" yaml:"showIn,omitempty"`
	ShowInCustom string `json:"showInCustom,omitempty" yaml:"showInCustom,omitempty"`
}

// ParseClassroom decodes a definition from JSON (comments and trailing
// commas allowed) or YAML.
func ParseClassroom(data []byte) (*Classroom, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("classroom definition is empty")
	}

	var classroom Classroom
	jsonErr := json.Unmarshal(jsonc.ToJSON(data), &classroom)
	if jsonErr != nil {
		classroom = Classroom{}
		if yamlErr := yaml.Unmarshal(data, &classroom); yamlErr != nil {
			return nil, fmt.Errorf("classroom definition is neither JSON (%v) nor YAML (%w)", jsonErr, yamlErr)
		}
	}

	for i := range classroom.Modules {
		module := &classroom.Modules[i]
		if module.ShowInCustom == "" {
			module.ShowInCustom = module.ShowIn
		}
	}
	classroom.Meta = normalizeMap(classroom.Meta)
	return &classroom, nil
}

// Stringify renders the definition as YAML.
func (c *Classroom) Stringify() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding classroom definition: %w", err)
	}
	return data, nil
}

// BaseRooms returns meta.defaultNumberOfRooms, or fallback when it is
// missing or not a number.
func (c *Classroom) BaseRooms(fallback int) int {
	switch n := c.Meta["defaultNumberOfRooms"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

// IsTeacher reports whether deviceID is listed as a teacher.
func (c *Classroom) IsTeacher(deviceID string) bool {
	for _, id := range c.Members.Teacher {
		if id == deviceID {
			return true
		}
	}
	return false
}

// WithoutSecrets returns a copy with every "secret*" key removed from
// the metadata and module configurations.
func (c *Classroom) WithoutSecrets() *Classroom {
	stripped := *c
	stripped.Meta, _ = StripSecrets(c.Meta).(map[string]any)
	stripped.Modules = make([]Module, len(c.Modules))
	for i, module := range c.Modules {
		module.Config = StripSecrets(module.Config)
		module.StudentConfig = StripSecrets(module.StudentConfig)
		module.TeacherConfig = StripSecrets(module.TeacherConfig)
		module.StationConfig = StripSecrets(module.StationConfig)
		stripped.Modules[i] = module
	}
	return &stripped
}

// StripSecrets returns a deep copy of v without map keys that start
// with "secret" (case-insensitive). Nested maps left empty are dropped.
// Values other than maps and slices are returned unchanged.
func StripSecrets(v any) any {
	switch value := normalize(v).(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, child := range value {
			if strings.HasPrefix(strings.ToLower(key), "secret") {
				continue
			}
			child = StripSecrets(child)
			if nested, ok := child.(map[string]any); ok && len(nested) == 0 {
				continue
			}
			out[key] = child
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, child := range value {
			out[i] = StripSecrets(child)
		}
		return out
	default:
		return value
	}
}

// normalize converts yaml.v3's map[any]any (produced for non-string
// keys) into map[string]any.
func normalize(v any) any {
	m, ok := v.(map[any]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for key, child := range m {
		out[fmt.Sprint(key)] = normalize(child)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	for key, child := range m {
		m[key] = normalize(child)
	}
	return m
}
