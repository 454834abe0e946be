package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/model"
)

func TestLoad(t *testing.T) {
	t.Run("missing file returns nil, nil", func(t *testing.T) {
		dir := t.TempDir()
		s, err := Load(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s != nil {
			t.Error("expected nil state for missing file")
		}
	})

	t.Run("malformed JSON is reported as ErrCorruptState", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("writing corrupt state: %v", err)
		}
		_, err := Load(dir)
		if !errors.Is(err, bootuperrors.ErrCorruptState) {
			t.Errorf("expected ErrCorruptState, got %v", err)
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte(`{"components":{},"bogus":true}`), 0o644); err != nil {
			t.Fatalf("writing state: %v", err)
		}
		_, err := Load(dir)
		if !errors.Is(err, bootuperrors.ErrCorruptState) {
			t.Errorf("expected ErrCorruptState for unknown field, got %v", err)
		}
	})
}

func TestEnsureNotPresent(t *testing.T) {
	t.Run("succeeds when absent", func(t *testing.T) {
		dir := t.TempDir()
		if err := EnsureNotPresent(dir); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("fails when already present", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte(`{"components":{}}`), 0o644); err != nil {
			t.Fatalf("writing state: %v", err)
		}
		if err := EnsureNotPresent(dir); err == nil {
			t.Error("expected an error when state is already present")
		}
	})
}

func TestGuardUpdateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	guard, err := AcquireWriteLock(dir)
	if err != nil {
		t.Fatalf("AcquireWriteLock failed: %v", err)
	}
	defer guard.Release()

	saved := model.NewSavedState()
	saved.Components[model.ComponentEFI] = model.SavedComponent{
		Digest:    "deadbeef",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	if err := guard.Update(saved); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected loaded state, got nil")
	}
	got, ok := loaded.Components[model.ComponentEFI]
	if !ok {
		t.Fatal("expected EFI component in loaded state")
	}
	if got.Digest != "deadbeef" {
		t.Errorf("Digest = %q, want %q", got.Digest, "deadbeef")
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	guard, err := AcquireWriteLock(dir)
	if err != nil {
		t.Fatalf("AcquireWriteLock failed: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Errorf("first release failed: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Errorf("second release should be a no-op, got: %v", err)
	}

	var nilGuard *Guard
	if err := nilGuard.Release(); err != nil {
		t.Errorf("releasing a nil guard should be a no-op, got: %v", err)
	}
}
