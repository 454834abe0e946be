// Package efi implements the EFI System Partition component: it validates
// the ESP mount, discovers the vendor boot directory, installs its payload
// with reflink-preferring copies, and applies staged updates through
// pkg/apply. Grounded on the teacher's
// EFI handling in pkg/bootloader.go (ensureUppercaseEFIDirectory,
// copyEFIFile) generalized into the full Component lifecycle.
package efi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/bootupd/bootupd-go/pkg/filetree"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// MountPath is the ESP mount point relative to the system root.
const MountPath = "boot/efi"

// Name is this component's stable identifier.
const Name = "EFI"

// Component implements component.Component for the EFI System Partition.
type Component struct {
	fs afero.Fs
}

// New returns the EFI component backed by the real OS filesystem.
func New() *Component {
	return &Component{fs: afero.NewOsFs()}
}

// NewWithFs returns the EFI component backed by an arbitrary afero
// filesystem, for testing.
func NewWithFs(fs afero.Fs) *Component {
	return &Component{fs: fs}
}

func (c *Component) Name() string { return Name }

func (c *Component) espDir(root string) string {
	return filepath.Join(root, MountPath, "EFI")
}

// validateESP confirms dir's filesystem is FAT/MSDOS before any write.
func validateESP(dir string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}
	if int64(st.Type) != unix.MSDOS_SUPER_MAGIC {
		return fmt.Errorf("%w: %s has filesystem type %#x, not FAT", bootuperrors.ErrNotAnESP, dir, st.Type)
	}
	return nil
}

// discoverVendorDir finds the single vendor subdirectory under EFI/ that
// contains a shim binary, skipping BOOT/. Returns "" if none is found.
func discoverVendorDir(fs afero.Fs, efiDir string, shimNames []string) (string, error) {
	entries, err := afero.ReadDir(fs, efiDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", efiDir, err)
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() || strings.EqualFold(e.Name(), "BOOT") {
			continue
		}
		for _, shim := range shimNames {
			if ok, _ := afero.Exists(fs, filepath.Join(efiDir, e.Name(), shim)); ok {
				found = append(found, e.Name())
				break
			}
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("ambiguous EFI install: multiple vendor directories %v", found)
	}
}

var defaultShimNames = []string{"shimx64.efi", "shimaa64.efi", "shim.efi"}

func (c *Component) QueryAdopt(ctx context.Context) (*model.Adoptable, error) {
	espPath := filepath.Join("/", MountPath, "EFI")
	exists, err := afero.DirExists(c.fs, espPath)
	if err != nil || !exists {
		return nil, nil
	}
	vendor, err := discoverVendorDir(c.fs, espPath, defaultShimNames)
	if err != nil {
		return nil, err
	}
	if vendor == "" {
		return nil, nil
	}
	tree, err := filetree.FromDirectory(c.fs, espPath)
	if err != nil {
		return nil, fmt.Errorf("reading adoptable ESP tree: %w", err)
	}
	return &model.Adoptable{
		Content: model.InstalledContent{
			Digest:     filetree.Digest(tree),
			Timestamp:  tree.Timestamp,
			Filesystem: tree,
		},
		Confident: true,
	}, nil
}

func (c *Component) AdoptUpdate(ctx context.Context, sysroot string, update *model.ContentMetadata) (*model.InstalledContent, error) {
	adoptable, err := c.QueryAdopt(ctx)
	if err != nil {
		return nil, err
	}
	if adoptable == nil {
		return nil, fmt.Errorf("no adoptable EFI installation found")
	}

	espDir := filepath.Join("/", MountPath, "EFI")
	if err := validateESP(espDir); err != nil {
		return nil, err
	}

	updateDir := filepath.Join(sysroot, component.UpdatesDir, Name)
	updateTree, err := filetree.FromDirectory(c.fs, updateDir)
	if err != nil {
		return nil, fmt.Errorf("reading staged update tree: %w", err)
	}
	diff, err := filetree.RelativeDiffTo(updateTree, c.fs, espDir)
	if err != nil {
		return nil, err
	}
	if err := applyDiff(c.fs, updateDir, espDir, adoptionDiff(diff)); err != nil {
		return nil, err
	}

	return &model.InstalledContent{
		Digest:     filetree.Digest(updateTree),
		Timestamp:  time.Now(),
		Filesystem: updateTree,
	}, nil
}

// adoptionDiff turns a RelativeDiffTo result into the diff apply.Apply
// should act on during adoption. RelativeDiffTo reports a staged path
// missing from the live ESP as a "removal" (it's describing what's absent
// relative to the manifest), but for adoption that absence means the
// un-adopted system never had the file, so it must be written, not
// deleted. Adoption never removes anything: paths on the live ESP the
// update doesn't track are left alone rather than torn out.
func adoptionDiff(diff *model.FileTreeDiff) *model.FileTreeDiff {
	out := model.NewFileTreeDiff()
	for k := range diff.Changes {
		out.Changes[k] = struct{}{}
	}
	for k := range diff.Removals {
		out.Additions[k] = struct{}{}
	}
	return out
}

func (c *Component) Install(ctx context.Context, srcRoot, destRoot, device string, updateFirmware bool) (*model.InstalledContent, error) {
	meta, err := component.ReadUpdateMetadata(srcRoot, c)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("no staged update metadata for component %s found", Name)
	}
	srcDir := filepath.Join(srcRoot, component.UpdatesDir, Name)
	tree, err := filetree.FromDirectory(c.fs, srcDir)
	if err != nil {
		return nil, err
	}
	destDir := filepath.Join(destRoot, MountPath)
	if err := validateESP(destDir); err != nil {
		return nil, err
	}

	if err := copyTreeReflink(srcDir, filepath.Join(destDir, "EFI")); err != nil {
		return nil, err
	}

	if updateFirmware {
		registerBootEntry(device, destDir)
	}

	return &model.InstalledContent{
		Digest:     filetree.Digest(tree),
		Timestamp:  meta.ContentTimestamp,
		Filesystem: tree,
	}, nil
}

func (c *Component) GenerateUpdateMetadata(ctx context.Context, sysroot string) (*model.ContentMetadata, error) {
	destDir := filepath.Join(sysroot, component.UpdatesDir, Name)
	tree, err := filetree.FromDirectory(c.fs, destDir)
	if err != nil {
		return nil, fmt.Errorf("reading source EFI payload at %s: %w", destDir, err)
	}
	meta := &model.ContentMetadata{
		ContentTimestamp: tree.Timestamp,
		Content: model.InstalledContent{
			Digest:     filetree.Digest(tree),
			Timestamp:  tree.Timestamp,
			Filesystem: tree,
		},
	}
	if err := component.WriteUpdateMetadata(sysroot, c, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Component) QueryUpdate(sysroot string) (*model.ContentMetadata, error) {
	return component.ReadUpdateMetadata(sysroot, c)
}

func (c *Component) RunUpdate(ctx context.Context, sysroot string, current *model.InstalledContent) (*model.InstalledContent, error) {
	if current.Filesystem == nil {
		return nil, fmt.Errorf("no filetree for installed EFI content")
	}
	updateMeta, err := c.QueryUpdate(sysroot)
	if err != nil {
		return nil, err
	}
	if updateMeta == nil {
		return nil, fmt.Errorf("no update available for component %s", Name)
	}
	updateDir := filepath.Join(sysroot, component.UpdatesDir, Name)
	updateTree, err := filetree.FromDirectory(c.fs, updateDir)
	if err != nil {
		return nil, err
	}
	diff := filetree.Diff(current.Filesystem, updateTree)

	espDir := filepath.Join("/", MountPath, "EFI")
	if err := validateESP(espDir); err != nil {
		return nil, err
	}
	if err := applyDiff(c.fs, updateDir, espDir, diff); err != nil {
		return nil, err
	}

	return &model.InstalledContent{
		Digest:     filetree.Digest(updateTree),
		Timestamp:  updateMeta.ContentTimestamp,
		Filesystem: updateTree,
	}, nil
}

func (c *Component) Validate(ctx context.Context, current *model.InstalledContent) (model.ValidationResult, error) {
	if current.Filesystem == nil {
		return model.ValidationResult{}, fmt.Errorf("no filetree for installed EFI content")
	}
	espDir := filepath.Join("/", MountPath, "EFI")
	diff, err := filetree.RelativeDiffTo(current.Filesystem, c.fs, espDir)
	if err != nil {
		return model.ValidationResult{}, err
	}
	var errs []string
	for f := range diff.Changes {
		errs = append(errs, fmt.Sprintf("changed: %s", f))
	}
	for f := range diff.Removals {
		errs = append(errs, fmt.Sprintf("removed: %s", f))
	}
	return model.ValidationResult{Errors: errs}, nil
}
