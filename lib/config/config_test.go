// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValidOnceClassroomIsSet(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without classroom should not validate")
	}
	cfg.Classroom = "physics-101"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv("CLASSROOM_CONFIG", "")
	if _, err := Load(); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("Load error = %v, want ErrNoConfig", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classroom.yaml")
	content := `
classroom: chem-lab
station: "3"
default_rooms: 4
paths:
  state: ${CLASSROOM_TEST_ROOT}/state
presence:
  liveness_timeout: 90s
gossip:
  settle_delay: 0s
  compression: lz4
transport:
  ice_servers:
    - stun:stun.example.org:3478
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLASSROOM_CONFIG", path)
	t.Setenv("CLASSROOM_TEST_ROOT", "/srv/classroom")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Classroom != "chem-lab" || cfg.Station != "3" || cfg.DefaultRooms != 4 {
		t.Errorf("identity fields = %q %q %d", cfg.Classroom, cfg.Station, cfg.DefaultRooms)
	}
	if cfg.Paths.State != "/srv/classroom/state" {
		t.Errorf("Paths.State = %q", cfg.Paths.State)
	}
	if cfg.IdentityPath() != "/srv/classroom/state/identity.db" {
		t.Errorf("IdentityPath = %q", cfg.IdentityPath())
	}
	if cfg.Presence.LivenessTimeout != 90*time.Second {
		t.Errorf("LivenessTimeout = %v", cfg.Presence.LivenessTimeout)
	}
	// Fields the file does not name keep their defaults.
	if cfg.Presence.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Presence.HeartbeatInterval)
	}
	if cfg.Gossip.SettleDelay != 0 || cfg.Gossip.Compression != "lz4" {
		t.Errorf("gossip = %+v", cfg.Gossip)
	}
	if len(cfg.Transport.ICEServers) != 1 {
		t.Errorf("ICEServers = %v", cfg.Transport.ICEServers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandVarsDefault(t *testing.T) {
	t.Setenv("CLASSROOM_UNSET_FOR_TEST", "")
	if got := expandVars("${CLASSROOM_UNSET_FOR_TEST:-/tmp/fallback}/x"); got != "/tmp/fallback/x" {
		t.Errorf("expandVars = %q", got)
	}
}

func TestApplyEnvironment(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnvironment(Environment{StateDir: "/var/lib/classroom", LogLevel: "debug"})
	if cfg.Paths.State != "/var/lib/classroom" || cfg.Log.Level != "debug" {
		t.Errorf("ApplyEnvironment = %+v %+v", cfg.Paths, cfg.Log)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Role = "janitor"
	cfg.Gossip.Compression = "brotli"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"classroom is required", "role", "compression", "log.level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestStationIgnoresRole(t *testing.T) {
	cfg := Default()
	cfg.Classroom = "c"
	cfg.Station = "1"
	cfg.Role = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
