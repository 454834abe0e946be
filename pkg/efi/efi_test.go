package efi

import (
	"context"
	"testing"

	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/spf13/afero"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestDiscoverVendorDirNone(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/boot/efi/EFI/BOOT", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name, err := discoverVendorDir(fs, "/boot/efi/EFI", defaultShimNames)
	if err != nil {
		t.Fatalf("discoverVendorDir: %v", err)
	}
	if name != "" {
		t.Errorf("expected no vendor dir, got %q", name)
	}
}

func TestDiscoverVendorDirFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/boot/efi/EFI/fedora/shimx64.efi", "shim")
	writeFile(t, fs, "/boot/efi/EFI/BOOT/bootx64.efi", "fallback")

	name, err := discoverVendorDir(fs, "/boot/efi/EFI", defaultShimNames)
	if err != nil {
		t.Fatalf("discoverVendorDir: %v", err)
	}
	if name != "fedora" {
		t.Errorf("got %q, want fedora", name)
	}
}

func TestDiscoverVendorDirAmbiguous(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/boot/efi/EFI/fedora/shimx64.efi", "shim")
	writeFile(t, fs, "/boot/efi/EFI/centos/shimx64.efi", "shim")

	if _, err := discoverVendorDir(fs, "/boot/efi/EFI", defaultShimNames); err == nil {
		t.Fatalf("expected error for ambiguous vendor directories")
	}
}

func TestQueryAdoptNoESP(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewWithFs(fs)
	adoptable, err := c.QueryAdopt(context.Background())
	if err != nil {
		t.Fatalf("QueryAdopt: %v", err)
	}
	if adoptable != nil {
		t.Errorf("expected no adoptable component when ESP dir is absent")
	}
}

func TestAdoptionDiffTurnsMissingIntoAdditionsAndNeverRemoves(t *testing.T) {
	// Mirrors RelativeDiffTo(updateTree, esp): "new.txt" is staged by the
	// update but absent from the un-adopted ESP (reported as a removal by
	// RelativeDiffTo), and "changed.txt" differs between the two.
	relDiff := model.NewFileTreeDiff()
	relDiff.Removals["new.txt"] = struct{}{}
	relDiff.Changes["changed.txt"] = struct{}{}

	got := adoptionDiff(relDiff)
	if _, ok := got.Additions["new.txt"]; !ok {
		t.Errorf("expected new.txt to be promoted to Additions, got %v", got.Additions)
	}
	if _, ok := got.Changes["changed.txt"]; !ok {
		t.Errorf("expected changed.txt to stay in Changes, got %v", got.Changes)
	}
	if len(got.Removals) != 0 {
		t.Errorf("adoption must never remove anything, got %v", got.Removals)
	}
}

func TestName(t *testing.T) {
	c := New()
	if c.Name() != "EFI" {
		t.Errorf("Name() = %q, want EFI", c.Name())
	}
}
