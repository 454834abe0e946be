// Package orchestrator composes pkg/state, pkg/component, pkg/efi, and
// pkg/bios into the four daemon-side operations (status, update,
// adopt-and-update, validate), grounded on the original's
// bootupd.rs::{status,update,adopt_and_update,validate} composition.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/bootupd/bootupd-go/pkg/bios"
	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/bootupd/bootupd-go/pkg/efi"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/bootupd/bootupd-go/pkg/state"
	"github.com/hashicorp/go-multierror"
)

// BootRoot is where SavedState lives; it is /boot on a running system.
const BootRoot = "/boot"

// Sysroot is the running system's root, used to look up staged updates.
const Sysroot = "/"

// Orchestrator holds the architecture-selected component registry.
type Orchestrator struct {
	components map[string]component.Component
}

// New builds the registry appropriate for runtime.GOARCH.
func New() *Orchestrator {
	var comps []component.Component
	switch runtime.GOARCH {
	case "amd64":
		comps = []component.Component{efi.New(), bios.New()}
	case "arm64":
		comps = []component.Component{efi.New()}
	case "ppc64le":
		comps = []component.Component{bios.New()}
	}
	return &Orchestrator{components: component.Registry(comps...)}
}

func (o *Orchestrator) component(name string) (component.Component, error) {
	c, ok := o.components[name]
	if !ok {
		return nil, fmt.Errorf("no component %q", name)
	}
	return c, nil
}

// ComponentUpdateResult mirrors the daemon-to-client reply for Update.
type ComponentUpdateResult struct {
	AtLatestVersion bool                      `json:"at-latest-version"`
	Previous        *model.ContentMetadata    `json:"previous,omitempty"`
	Interrupted     *model.SavedPendingUpdate `json:"interrupted,omitempty"`
	New             *model.ContentMetadata    `json:"new,omitempty"`
}

func ensureWritableBoot() error {
	info, err := os.Stat("/boot")
	if err != nil {
		return fmt.Errorf("statting /boot: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("/boot is not a directory")
	}
	return nil
}

// Update applies the staged update for the named component, recording a
// pending entry before attempting the apply so an interruption is
// detectable and recoverable on the next run.
func (o *Orchestrator) Update(ctx context.Context, name string) (*ComponentUpdateResult, error) {
	saved, err := state.Load(BootRoot)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		saved = model.NewSavedState()
	}
	comp, err := o.component(name)
	if err != nil {
		return nil, err
	}
	installed, ok := saved.Components[model.ComponentType(name)]
	if !ok {
		return nil, fmt.Errorf("component %s is not installed", name)
	}

	updateMeta, err := comp.QueryUpdate(Sysroot)
	if err != nil {
		return nil, err
	}
	installedMeta := model.ContentMetadata{
		ContentTimestamp: installed.Timestamp,
		Content:          model.InstalledContent{Digest: installed.Digest, Timestamp: installed.Timestamp},
	}
	if updateMeta == nil || !installedMeta.CanUpgradeTo(*updateMeta) {
		return &ComponentUpdateResult{AtLatestVersion: true}, nil
	}

	if err := ensureWritableBoot(); err != nil {
		return nil, err
	}

	interrupted := installed.Pending

	guard, err := state.AcquireWriteLock(BootRoot)
	if err != nil {
		return nil, fmt.Errorf("acquiring write lock: %w", err)
	}
	defer guard.Release()

	pending := &model.SavedPendingUpdate{
		BootID:    readBootID(),
		MachineID: readMachineID(),
		Digest:    updateMeta.Content.Digest,
		Timestamp: updateMeta.ContentTimestamp,
	}
	installed.Pending = pending
	saved.Components[model.ComponentType(name)] = installed
	if err := guard.Update(saved); err != nil {
		return nil, fmt.Errorf("recording pending update: %w", err)
	}

	currentContent := &model.InstalledContent{Digest: installed.Digest, Timestamp: installed.Timestamp}
	newContent, err := comp.RunUpdate(ctx, Sysroot, currentContent)
	if err != nil {
		// The pending record is preserved on failure for re-convergence:
		// the next Update call will see it as Interrupted.
		return nil, err
	}

	newSaved := model.SavedComponent{
		Adopted:   installed.Adopted,
		Digest:    newContent.Digest,
		Timestamp: newContent.Timestamp,
		Pending:   nil,
	}
	saved.Components[model.ComponentType(name)] = newSaved
	if err := guard.Update(saved); err != nil {
		return nil, fmt.Errorf("recording completed update: %w", err)
	}

	return &ComponentUpdateResult{
		Previous:    &installedMeta,
		Interrupted: interrupted,
		New:         updateMeta,
	}, nil
}

// AdoptAndUpdate adopts an un-tracked installation of the named component
// and updates it to the currently staged version in one step.
func (o *Orchestrator) AdoptAndUpdate(ctx context.Context, name string) (*model.ContentMetadata, error) {
	saved, err := state.Load(BootRoot)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		saved = model.NewSavedState()
	}
	comp, err := o.component(name)
	if err != nil {
		return nil, err
	}
	if _, alreadyInstalled := saved.Components[model.ComponentType(name)]; alreadyInstalled {
		return nil, fmt.Errorf("component %s is already installed", name)
	}

	if err := ensureWritableBoot(); err != nil {
		return nil, err
	}

	update, err := comp.QueryUpdate(Sysroot)
	if err != nil {
		return nil, err
	}
	if update == nil {
		return nil, fmt.Errorf("component %s has no available update", name)
	}

	guard, err := state.AcquireWriteLock(BootRoot)
	if err != nil {
		return nil, fmt.Errorf("acquiring write lock: %w", err)
	}
	defer guard.Release()

	installed, err := comp.AdoptUpdate(ctx, Sysroot, update)
	if err != nil {
		return nil, fmt.Errorf("adopting and updating %s: %w", name, err)
	}

	saved.Components[model.ComponentType(name)] = model.SavedComponent{
		Adopted:   true,
		Digest:    installed.Digest,
		Timestamp: installed.Timestamp,
	}
	if err := guard.Update(saved); err != nil {
		return nil, fmt.Errorf("recording adopted state: %w", err)
	}

	return update, nil
}

// Validate checks the installed content of the named component against
// disk.
func (o *Orchestrator) Validate(ctx context.Context, name string) (model.ValidationResult, error) {
	saved, err := state.Load(BootRoot)
	if err != nil {
		return model.ValidationResult{}, err
	}
	if saved == nil {
		saved = model.NewSavedState()
	}
	comp, err := o.component(name)
	if err != nil {
		return model.ValidationResult{}, err
	}
	installed, ok := saved.Components[model.ComponentType(name)]
	if !ok {
		return model.ValidationResult{}, fmt.Errorf("component %s is not installed", name)
	}
	return comp.Validate(ctx, &model.InstalledContent{Digest: installed.Digest, Timestamp: installed.Timestamp})
}

// ValidateAll runs Validate across every installed component, backing
// `validate --all`, and aggregates per-component failures with
// go-multierror rather than string concatenation so none of them mask
// another.
func (o *Orchestrator) ValidateAll(ctx context.Context) (map[string]model.ValidationResult, error) {
	saved, err := state.Load(BootRoot)
	if err != nil {
		return nil, err
	}
	results := make(map[string]model.ValidationResult)
	if saved == nil {
		return results, nil
	}
	var merr *multierror.Error
	for name := range saved.Components {
		res, err := o.Validate(ctx, string(name))
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, err))
			continue
		}
		results[string(name)] = res
	}
	return results, merr.ErrorOrNil()
}

// Status builds the aggregate status view across installed and adoptable
// components.
func (o *Orchestrator) Status(ctx context.Context) (*model.Status, error) {
	saved, err := state.Load(BootRoot)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]component.Component, len(o.components))
	for name, c := range o.components {
		remaining[name] = c
	}

	st := &model.Status{SupportedArchitecture: component.SupportedArchitecture(runtime.GOARCH)}

	if saved != nil {
		for name, sc := range saved.Components {
			comp, ok := remaining[string(name)]
			if !ok {
				return nil, fmt.Errorf("unknown component installed: %s", name)
			}
			delete(remaining, string(name))

			update, err := comp.QueryUpdate(Sysroot)
			if err != nil {
				return nil, err
			}
			installedMeta := model.ContentMetadata{
				ContentTimestamp: sc.Timestamp,
				Content:          model.InstalledContent{Digest: sc.Digest, Timestamp: sc.Timestamp},
			}
			st.Components = append(st.Components, model.ComponentState{
				Type:      name,
				Installed: &model.InstalledContent{Digest: sc.Digest, Timestamp: sc.Timestamp},
				Drift:     false,
				Pending:   sc.Pending,
				Update:    computeUpdatable(installedMeta, update),
			})
		}
	}

	for name, comp := range remaining {
		adoptable, err := comp.QueryAdopt(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying adopt state for %s: %w", name, err)
		}
		if adoptable == nil {
			continue
		}
		st.Components = append(st.Components, model.ComponentState{
			Type:      model.ComponentType(name),
			Adoptable: adoptable,
		})
	}

	return st, nil
}

// computeUpdatable derives the ComponentUpdatable view from installed vs.
// available content metadata.
func computeUpdatable(installed model.ContentMetadata, update *model.ContentMetadata) *model.ComponentUpdate {
	if update == nil {
		return &model.ComponentUpdate{LatestInstalled: false}
	}
	if installed.CanUpgradeTo(*update) {
		return &model.ComponentUpdate{Update: update}
	}
	if update.ContentTimestamp.Before(installed.ContentTimestamp) {
		// WouldDowngrade: reported here, but Update() itself treats this
		// identically to AtLatestVersion and never applies it.
		return &model.ComponentUpdate{LatestInstalled: true, Update: update}
	}
	return &model.ComponentUpdate{LatestInstalled: true}
}

func readBootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return ""
	}
	return trimTrailingNewline(string(data))
}

func readMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return trimTrailingNewline(string(data))
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
