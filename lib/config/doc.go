// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the two kinds of configuration a participant
// deals with.
//
// The node configuration ([Config]) is a YAML file named by --config or
// the CLASSROOM_CONFIG environment variable. There is no search path and
// no ~/.config discovery. [Default] fills every field, the file
// overrides what it names, and ${HOME} / ${VAR:-default} are expanded in
// path fields. Environment variables ([Environment], parsed with
// caarlos0/env) only locate the file, the state directory and the log
// level.
//
// The classroom definition ([Classroom]) is the static, teacher-authored
// description of a classroom: name, metadata, members and modules. It is
// the payload of the replicated setup register. [ParseClassroom] accepts
// JSON with comments and trailing commas and falls back to YAML.
// [Classroom.WithoutSecrets] drops every key whose name starts with
// "secret" before a definition is shared with students.
//
// This package depends on no other classroom packages.
package config
