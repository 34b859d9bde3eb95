package fingerprint

import (
	"context"
	"testing"

	"github.com/linkwise/linkwise/internal/signal"
	"github.com/linkwise/linkwise/internal/storage"
	"github.com/linkwise/linkwise/internal/testutil"
)

func testSignals() map[string]string {
	return map[string]string{
		signal.KeyPlatform:  "ios",
		signal.KeyModel:     "iPhone15,2",
		signal.KeyOSVersion: "17.4",
		signal.KeyScreen:    "1179x2556",
		signal.KeyTimezone:  "Europe/Berlin",
		signal.KeyLocale:    "de_DE",
	}
}

func TestBuildIsStable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	b := NewBuilder(store, signal.NewStatic(testSignals()), testutil.Logger(t))

	first, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first.Hash == "" {
		t.Fatal("empty hash")
	}

	second, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if second.Hash != first.Hash {
		t.Errorf("hash changed across calls: %q vs %q", first.Hash, second.Hash)
	}
}

func TestBuildIgnoresSignalDrift(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	first, err := NewBuilder(store, signal.NewStatic(testSignals()), testutil.Logger(t)).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Simulate an OS upgrade: a fresh builder over the same store must
	// return the persisted fingerprint, not recompute.
	drifted := testSignals()
	drifted[signal.KeyOSVersion] = "18.0"
	second, err := NewBuilder(store, signal.NewStatic(drifted), testutil.Logger(t)).Build(ctx)
	if err != nil {
		t.Fatalf("Build after drift: %v", err)
	}
	if second.Hash != first.Hash {
		t.Errorf("fingerprint recomputed after signal drift: %q vs %q", first.Hash, second.Hash)
	}
}

func TestBuildMissingSignalsUseSentinel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	fp, err := NewBuilder(store, signal.NewStatic(map[string]string{
		signal.KeyPlatform: "android",
	}), testutil.Logger(t)).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, key := range signal.HashOrder {
		if fp.RawSignals[key] == "" {
			t.Errorf("signal %q serialized empty, want sentinel", key)
		}
	}
	if fp.RawSignals[signal.KeyModel] != signal.Missing {
		t.Errorf("model = %q, want %q", fp.RawSignals[signal.KeyModel], signal.Missing)
	}
}

func TestDifferentSaltsDiverge(t *testing.T) {
	ctx := context.Background()

	a, err := NewBuilder(storage.NewMemory(), signal.NewStatic(testSignals()), testutil.Logger(t)).Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(storage.NewMemory(), signal.NewStatic(testSignals()), testutil.Logger(t)).Build(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Fresh stores mean fresh salts: identical signals must still produce
	// distinct hashes across installations.
	if a.Hash == b.Hash {
		t.Error("two installations with identical signals produced the same hash")
	}
}
