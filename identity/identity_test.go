// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/classroom/lib/sqlitepool"
)

func TestResolvePersistsDeviceAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := &MemoryStore{}

	first, err := Resolve(ctx, store, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := Resolve(ctx, store, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if first.Device != second.Device {
		t.Errorf("device changed between sessions: %q vs %q", first.Device, second.Device)
	}
	if first.Session == second.Session {
		t.Errorf("session suffix reused: %q", first.Session)
	}
	if len(first.Device) != DeviceIDLength || len(first.Session) != SessionIDLength {
		t.Errorf("lengths = %d/%d", len(first.Device), len(first.Session))
	}
	if want := first.Device + "_" + first.Session; first.Participant != want {
		t.Errorf("Participant = %q, want %q", first.Participant, want)
	}
	if first.IsStation() {
		t.Error("device participant reported as station")
	}
}

func TestResolveStation(t *testing.T) {
	store := &MemoryStore{}
	id, err := Resolve(context.Background(), store, "7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Participant != "Station 7" || !id.IsStation() {
		t.Errorf("station identity = %+v", id)
	}
	if saved, _ := store.Load(context.Background()); saved != "" {
		t.Errorf("station resolve saved a device id %q", saved)
	}
}

func TestLoadOrCreateRejectsCorruptID(t *testing.T) {
	store := &MemoryStore{}
	store.Save(context.Background(), "short")
	if _, err := LoadOrCreate(context.Background(), store); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("error = %v, want ErrInvalidID", err)
	}
}

func TestRandomStringAlphabet(t *testing.T) {
	for range 50 {
		s, err := RandomString(DeviceIDLength)
		if err != nil {
			t.Fatal(err)
		}
		if err := ValidateDeviceID(s); err != nil {
			t.Fatalf("generated id failed validation: %v", err)
		}
	}
}

func TestIsStation(t *testing.T) {
	cases := map[string]bool{
		"Station 1":           true,
		"Station":             false,
		"abcdefghijkl_abcdef": false,
		"station 1":           false,
	}
	for id, want := range cases {
		if got := IsStation(id); got != want {
			t.Errorf("IsStation(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	cases := []struct {
		id, want string
	}{
		{"abcdefghijkl_xyzxyz", "ghijkl"},
		{"Station 3", "Station 3"},
		{"a_b_c", "a_b_c"},
	}
	for _, c := range cases {
		if got := ShortID(c.id); got != c.want {
			t.Errorf("ShortID(%q) = %q, want %q", c.id, got, c.want)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "device-id")}

	if id, err := store.Load(ctx); err != nil || id != "" {
		t.Fatalf("Load on missing file = %q, %v", id, err)
	}
	if err := store.Save(ctx, "abcdefghijkl"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, err := store.Load(ctx)
	if err != nil || id != "abcdefghijkl" {
		t.Fatalf("Load = %q, %v", id, err)
	}

	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %o, want 0600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(store.Path))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".identity-") {
			t.Errorf("temp file %s left behind", entry.Name())
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "identity.db"),
		Schema: Schema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()
	store := NewSQLiteStore(pool)

	first, err := LoadOrCreate(ctx, store)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	second, err := LoadOrCreate(ctx, store)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if first != second {
		t.Errorf("device id not persisted: %q then %q", first, second)
	}

	if err := store.Save(ctx, "ZZZZZZZZZZZZ"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id, _ := store.Load(ctx); id != "ZZZZZZZZZZZZ" {
		t.Errorf("Load after overwrite = %q", id)
	}
}
