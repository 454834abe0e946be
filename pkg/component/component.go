// Package component defines the uniform interface every managed boot
// component (EFI, BIOS) implements, and the small fixed registry selected
// by target architecture at startup.
package component

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/model"
)

// UpdatesDir is where staged update metadata and payload directories live,
// relative to a sysroot.
const UpdatesDir = "usr/lib/bootupd/updates"

// Component is implemented once per managed boot target. Every mutating
// method takes a context so long-running external tool invocations can be
// cancelled.
type Component interface {
	// Name identifies the component in SavedState and on the wire; it must
	// remain stable across releases.
	Name() string

	// Install gathers the component's payload from srcRoot and installs it
	// into destRoot, optionally touching firmware boot-variable state. Run
	// during image build, not on a running system.
	Install(ctx context.Context, srcRoot, destRoot, device string, updateFirmware bool) (*model.InstalledContent, error)

	// GenerateUpdateMetadata produces the ContentMetadata describing the
	// component's current content under sysroot, for staging into
	// UpdatesDir during an image update build.
	GenerateUpdateMetadata(ctx context.Context, sysroot string) (*model.ContentMetadata, error)

	// QueryUpdate returns the update staged for this component under
	// sysroot, or nil if none is staged.
	QueryUpdate(sysroot string) (*model.ContentMetadata, error)

	// QueryAdopt detects whether an un-tracked installation of this
	// component exists and, if so, synthesizes content metadata for it.
	QueryAdopt(ctx context.Context) (*model.Adoptable, error)

	// AdoptUpdate performs the update given an adoptable system.
	AdoptUpdate(ctx context.Context, sysroot string, update *model.ContentMetadata) (*model.InstalledContent, error)

	// RunUpdate applies the staged update over the currently installed
	// content.
	RunUpdate(ctx context.Context, sysroot string, current *model.InstalledContent) (*model.InstalledContent, error)

	// Validate checks the currently installed content against what's
	// actually on disk.
	Validate(ctx context.Context, current *model.InstalledContent) (model.ValidationResult, error)
}

// Registry keys a fixed set of components by name. The set registered for
// a given architecture is decided by callers (see pkg/orchestrator), not
// here: an unsupported architecture simply registers fewer components,
// which is not itself an error (only attempting to use an unregistered
// name is).
func Registry(components ...Component) map[string]Component {
	reg := make(map[string]Component, len(components))
	for _, c := range components {
		reg[c.Name()] = c
	}
	return reg
}

// SupportedArchitecture reports whether goarch has any registered
// components at all (used for Status.SupportedArchitecture).
func SupportedArchitecture(goarch string) bool {
	switch goarch {
	case "amd64", "arm64", "ppc64le":
		return true
	default:
		return false
	}
}

// UpdateDataPath returns the path (relative to sysroot) of a component's
// staged update metadata file.
func UpdateDataPath(c Component) string {
	return filepath.Join(UpdatesDir, c.Name()+".json")
}

// WriteUpdateMetadata stages meta as the available update for c under
// sysroot.
func WriteUpdateMetadata(sysroot string, c Component, meta *model.ContentMetadata) error {
	dir := filepath.Join(sysroot, UpdatesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating updates directory: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling update metadata for %s: %w", c.Name(), err)
	}
	path := filepath.Join(sysroot, UpdateDataPath(c))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing update metadata for %s: %w", c.Name(), err)
	}
	return nil
}

// ReadUpdateMetadata reads the update staged for c under sysroot, or
// returns (nil, nil) if none is staged.
func ReadUpdateMetadata(sysroot string, c Component) (*model.ContentMetadata, error) {
	path := filepath.Join(sysroot, UpdateDataPath(c))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading update metadata for %s: %v", bootuperrors.ErrIOFailure, c.Name(), err)
	}
	var meta model.ContentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing update metadata for %s: %w", c.Name(), err)
	}
	return &meta, nil
}
