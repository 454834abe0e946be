// Package state persists SavedState to /boot/bootupd-state.json and guards
// writes to it with an exclusive advisory lock, grounded on the lock/config
// persistence pattern used elsewhere in this codebase.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/google/uuid"
)

const (
	// StateFileName is the saved-state file's name within bootRoot.
	StateFileName = "bootupd-state.json"
	// LockFileName is the advisory lock file's name within bootRoot.
	LockFileName = ".bootupd-lock"
)

func statePath(bootRoot string) string {
	return filepath.Join(bootRoot, StateFileName)
}

// Load reads and strictly parses the saved state file. It returns (nil, nil)
// if the file does not exist; a malformed file is reported as
// bootuperrors.ErrCorruptState rather than silently treated as absent.
func Load(bootRoot string) (*model.SavedState, error) {
	f, err := os.Open(statePath(bootRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening saved state: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var s model.SavedState
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", bootuperrors.ErrCorruptState, err)
	}
	return &s, nil
}

// EnsureNotPresent fails if a saved state file already exists, used before
// a fresh install to avoid clobbering a prior managed install.
func EnsureNotPresent(bootRoot string) error {
	if _, err := os.Stat(statePath(bootRoot)); err == nil {
		return fmt.Errorf("saved state already present at %s", statePath(bootRoot))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statting saved state: %w", err)
	}
	return nil
}

// Guard holds the exclusive write lock on bootRoot. Only one Guard may be
// held process-wide and cross-process at a time; acquisition blocks until
// available rather than failing fast, since there is no sensible
// alternative to waiting for the other update to finish.
type Guard struct {
	lockFile *os.File
	bootRoot string
}

// AcquireWriteLock blocks until the exclusive advisory lock on bootRoot's
// lock file is obtained.
func AcquireWriteLock(bootRoot string) (*Guard, error) {
	if err := os.MkdirAll(bootRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating boot root: %w", err)
	}
	path := filepath.Join(bootRoot, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquiring write lock on %s: %w", path, err)
	}
	return &Guard{lockFile: f, bootRoot: bootRoot}, nil
}

// Release releases the lock. Safe to call on a nil Guard or more than once.
func (g *Guard) Release() error {
	if g == nil || g.lockFile == nil {
		return nil
	}
	err := g.lockFile.Close()
	g.lockFile = nil
	return err
}

// Update atomically persists new as the saved state: marshal, write to a
// uniquely-named temp file in the same directory, fsync, rename over the
// target, then read it back to verify. The prior file is never left
// half-written because the rename is atomic on the same filesystem.
func (g *Guard) Update(s *model.SavedState) error {
	path := statePath(g.bootRoot)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling saved state: %w", err)
	}

	tmpPath := filepath.Join(g.bootRoot, fmt.Sprintf(".btmp.state-%s", uuid.NewString()))
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsyncing temp state file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	if _, err := Load(g.bootRoot); err != nil {
		return fmt.Errorf("verifying written state: %w", err)
	}
	return nil
}
