// Package bios implements the BIOS boot-sector component: GPT/MBR target
// device discovery, grub-install invocation, and the EFI-booted adoption
// gate, grounded on the teacher's device-from-partition resolution in
// pkg/device_detect.go generalized from an A/B-partition assumption to a
// single /boot mountpoint.
package bios

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/bootupd/bootupd-go/pkg/procrun"
)

// Name is this component's stable identifier.
const Name = "BIOS"

// GrubInstallPath is the expected location of grub2-install, relative to a
// sysroot.
const GrubInstallPath = "usr/sbin/grub2-install"

// Component implements component.Component for the BIOS boot sector.
type Component struct{}

func New() *Component { return &Component{} }

func (c *Component) Name() string { return Name }

// blockDevice mirrors a single lsblk --json blockdevices[] entry. Per the
// lenient-parsing decision: PATH is optional and reconstructed from NAME
// when lsblk omits it (older lsblk versions do, under certain
// --output column combinations); an unrecognized PTTYPE is a hard error
// rather than something to guess past.
type blockDevice struct {
	Name         string  `json:"name"`
	Path         *string `json:"path"`
	PTType       *string `json:"pttype"`
	PartTypeName *string `json:"parttypename"`
}

type lsblkOutput struct {
	BlockDevices []blockDevice `json:"blockdevices"`
}

func (b blockDevice) resolvedPath() (string, error) {
	if b.Path != nil && *b.Path != "" {
		return *b.Path, nil
	}
	if b.Name != "" {
		return "/dev/" + b.Name, nil
	}
	return "", fmt.Errorf("lsblk entry has neither path nor name")
}

// getTargetDevice discovers the disk backing /boot. On amd64 it asks
// findmnt for /boot's source device and lsblk for its parent disk. On
// ppc64le it resolves the PowerPC-PReP-boot by-partlabel symlink. Any
// other architecture reports ErrUnsupportedArch, and the component is
// simply not registered by the orchestrator for that architecture.
func getTargetDevice(ctx context.Context) (string, error) {
	switch runtime.GOARCH {
	case "amd64":
		partition, err := procrun.Run(ctx, "findmnt", "--noheadings", "--output", "SOURCE", "/boot")
		if err != nil {
			return "", fmt.Errorf("finding /boot source device: %w", err)
		}
		parent, err := procrun.Run(ctx, "lsblk", "--paths", "--noheadings", "--output", "PKNAME", strings.TrimSpace(partition))
		if err != nil {
			return "", fmt.Errorf("finding parent disk of %s: %w", partition, err)
		}
		return strings.TrimSpace(parent), nil
	case "ppc64le":
		link := "/dev/disk/by-partlabel/PowerPC-PReP-boot"
		resolved, err := filepath.EvalSymlinks(link)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", link, err)
		}
		return resolved, nil
	default:
		return "", fmt.Errorf("%w: BIOS component on %s", bootuperrors.ErrUnsupportedArch, runtime.GOARCH)
	}
}

// biosBootPartition reports the device path of the GPT "BIOS boot"
// partition on the target disk, or "" if none exists.
func biosBootPartition(ctx context.Context) (string, error) {
	target, err := getTargetDevice(ctx)
	if err != nil {
		return "", err
	}
	out, err := procrun.Run(ctx, "lsblk", "--json", "--output", "PATH,NAME,PTTYPE,PARTTYPENAME", target)
	if err != nil {
		return "", fmt.Errorf("listing partitions of %s: %w", target, err)
	}

	var devices lsblkOutput
	if err := json.Unmarshal([]byte(out), &devices); err != nil {
		return "", fmt.Errorf("parsing lsblk output: %w", err)
	}

	for _, d := range devices.BlockDevices {
		if d.PartTypeName == nil || *d.PartTypeName != "BIOS boot" {
			continue
		}
		if d.PTType == nil {
			return "", fmt.Errorf("lsblk entry for %s has a BIOS boot parttypename but no pttype", d.Name)
		}
		switch *d.PTType {
		case "gpt":
			return d.resolvedPath()
		case "dos":
			continue
		default:
			return "", fmt.Errorf("lsblk entry for %s has unrecognized pttype %q", d.Name, *d.PTType)
		}
	}
	return "", nil
}

func runGrubInstall(ctx context.Context, destRoot, device string) error {
	grubInstall := filepath.Join("/", GrubInstallPath)
	if _, err := os.Stat(grubInstall); err != nil {
		return fmt.Errorf("%w: %s not found", bootuperrors.ErrExternalToolFailure, grubInstall)
	}

	bootDir := filepath.Join(destRoot, "boot")
	args := []string{
		"--target", "i386-pc",
		"--boot-directory", bootDir,
		"--modules", "mdraid1x part_gpt",
		device,
	}
	if runtime.GOARCH == "ppc64le" {
		args = []string{
			"--target", "powerpc-ieee1275",
			"--boot-directory", bootDir,
			"--no-nvram",
			device,
		}
	}

	// grub-install can transiently fail against a disk whose partition
	// table was just rewritten, before udev settles; retry briefly.
	_, err := procrun.RunWithRetry(ctx, 10*time.Second, grubInstall, args...)
	return err
}

func (c *Component) Install(ctx context.Context, srcRoot, destRoot, device string, updateFirmware bool) (*model.InstalledContent, error) {
	meta, err := component.ReadUpdateMetadata(srcRoot, c)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("no staged update metadata for component %s found", Name)
	}
	if err := runGrubInstall(ctx, destRoot, device); err != nil {
		return nil, err
	}
	return &model.InstalledContent{
		Digest:    meta.Content.Digest,
		Timestamp: meta.ContentTimestamp,
	}, nil
}

func (c *Component) GenerateUpdateMetadata(ctx context.Context, sysroot string) (*model.ContentMetadata, error) {
	grubInstall := filepath.Join(sysroot, GrubInstallPath)
	info, err := os.Stat(grubInstall)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", bootuperrors.ErrExternalToolFailure, grubInstall)
	}
	meta, err := queryPackageForFile(sysroot, grubInstall, info)
	if err != nil {
		return nil, err
	}
	if err := component.WriteUpdateMetadata(sysroot, c, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Component) QueryUpdate(sysroot string) (*model.ContentMetadata, error) {
	return component.ReadUpdateMetadata(sysroot, c)
}

func (c *Component) QueryAdopt(ctx context.Context) (*model.Adoptable, error) {
	if isEFIBooted() {
		biosBoot, err := biosBootPartition(ctx)
		if err != nil {
			return nil, err
		}
		if biosBoot == "" {
			return nil, nil
		}
	}

	device, err := getTargetDevice(ctx)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filepath.Join("/", GrubInstallPath))
	if err != nil {
		return nil, nil
	}
	meta, err := queryPackageForFile("/", filepath.Join("/", GrubInstallPath), info)
	if err != nil {
		return nil, nil
	}
	_ = device
	return &model.Adoptable{
		Content:   meta.Content,
		Confident: true,
	}, nil
}

func (c *Component) AdoptUpdate(ctx context.Context, sysroot string, update *model.ContentMetadata) (*model.InstalledContent, error) {
	adoptable, err := c.QueryAdopt(ctx)
	if err != nil {
		return nil, err
	}
	if adoptable == nil {
		return nil, fmt.Errorf("no adoptable BIOS installation found")
	}
	device, err := getTargetDevice(ctx)
	if err != nil {
		return nil, err
	}
	if err := runGrubInstall(ctx, "/", device); err != nil {
		return nil, err
	}
	return &model.InstalledContent{
		Digest:    update.Content.Digest,
		Timestamp: update.ContentTimestamp,
	}, nil
}

func (c *Component) RunUpdate(ctx context.Context, sysroot string, current *model.InstalledContent) (*model.InstalledContent, error) {
	updateMeta, err := c.QueryUpdate(sysroot)
	if err != nil {
		return nil, err
	}
	if updateMeta == nil {
		return nil, fmt.Errorf("no update available for component %s", Name)
	}
	device, err := getTargetDevice(ctx)
	if err != nil {
		return nil, err
	}
	if err := runGrubInstall(ctx, "/", device); err != nil {
		return nil, err
	}
	return &model.InstalledContent{
		Digest:    updateMeta.Content.Digest,
		Timestamp: updateMeta.ContentTimestamp,
	}, nil
}

// Validate always skips: the BIOS boot sector has no FileTree to diff
// against (InstalledContent.Filesystem is always nil for this component).
func (c *Component) Validate(ctx context.Context, current *model.InstalledContent) (model.ValidationResult, error) {
	return model.ValidationResult{Skipped: true}, nil
}

func isEFIBooted() bool {
	_, err := os.Stat("/sys/firmware/efi")
	return err == nil
}
