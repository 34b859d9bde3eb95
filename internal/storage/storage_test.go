package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// storeUnderTest runs the Store contract checks against an implementation.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	// Missing key
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	// Set then Get
	if err := s.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get(k1) = %q, want %q", got, "v1")
	}

	// Overwrite
	if err := s.Set(ctx, "k1", []byte("v2")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "k1")
	if string(got) != "v2" {
		t.Errorf("Get(k1) after overwrite = %q, want %q", got, "v2")
	}

	// Delete is idempotent
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	storeUnderTest(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s1, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s1.Set(ctx, KeyDeviceID, []byte("device-1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, KeyDeviceID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "device-1" {
		t.Errorf("value after reopen = %q, want %q", got, "device-1")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	value := []byte("original")
	if err := s.Set(ctx, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X' // caller mutation must not leak into the store

	got, _ := s.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("stored value mutated: %q", got)
	}
}

func TestBoolHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	got, err := GetBool(ctx, s, KeyMatchAttempted)
	if err != nil || got {
		t.Errorf("GetBool(missing) = %v, %v; want false, nil", got, err)
	}

	if err := SetBool(ctx, s, KeyMatchAttempted, true); err != nil {
		t.Fatal(err)
	}
	got, err = GetBool(ctx, s, KeyMatchAttempted)
	if err != nil || !got {
		t.Errorf("GetBool after SetBool(true) = %v, %v; want true, nil", got, err)
	}
}
