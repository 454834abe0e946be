package component

import (
	"context"
	"testing"
	"time"

	"github.com/bootupd/bootupd-go/pkg/model"
)

type fakeComponent struct {
	name string
}

func (f fakeComponent) Name() string { return f.name }
func (f fakeComponent) Install(_ context.Context, _, _, _ string, _ bool) (*model.InstalledContent, error) {
	return nil, nil
}
func (f fakeComponent) GenerateUpdateMetadata(_ context.Context, _ string) (*model.ContentMetadata, error) {
	return nil, nil
}
func (f fakeComponent) QueryUpdate(_ string) (*model.ContentMetadata, error) { return nil, nil }
func (f fakeComponent) QueryAdopt(_ context.Context) (*model.Adoptable, error) { return nil, nil }
func (f fakeComponent) AdoptUpdate(_ context.Context, _ string, _ *model.ContentMetadata) (*model.InstalledContent, error) {
	return nil, nil
}
func (f fakeComponent) RunUpdate(_ context.Context, _ string, _ *model.InstalledContent) (*model.InstalledContent, error) {
	return nil, nil
}
func (f fakeComponent) Validate(_ context.Context, _ *model.InstalledContent) (model.ValidationResult, error) {
	return model.ValidationResult{}, nil
}

func TestRegistry(t *testing.T) {
	reg := Registry(fakeComponent{name: "EFI"}, fakeComponent{name: "BIOS"})
	if len(reg) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(reg))
	}
	if _, ok := reg["EFI"]; !ok {
		t.Fatalf("expected EFI to be registered")
	}
	if _, ok := reg["BIOS"]; !ok {
		t.Fatalf("expected BIOS to be registered")
	}
}

func TestSupportedArchitecture(t *testing.T) {
	cases := map[string]bool{
		"amd64":   true,
		"arm64":   true,
		"ppc64le": true,
		"riscv64": false,
		"386":     false,
	}
	for goarch, want := range cases {
		if got := SupportedArchitecture(goarch); got != want {
			t.Errorf("SupportedArchitecture(%s) = %v, want %v", goarch, got, want)
		}
	}
}

func TestWriteReadUpdateMetadata(t *testing.T) {
	sysroot := t.TempDir()
	comp := fakeComponent{name: "EFI"}
	meta := &model.ContentMetadata{
		ContentTimestamp: time.Now().Truncate(time.Second),
		Content: model.InstalledContent{
			Digest:    "abc123",
			Timestamp: time.Now().Truncate(time.Second),
		},
	}

	if err := WriteUpdateMetadata(sysroot, comp, meta); err != nil {
		t.Fatalf("WriteUpdateMetadata: %v", err)
	}

	got, err := ReadUpdateMetadata(sysroot, comp)
	if err != nil {
		t.Fatalf("ReadUpdateMetadata: %v", err)
	}
	if got == nil {
		t.Fatalf("expected metadata, got nil")
	}
	if got.Content.Digest != meta.Content.Digest {
		t.Errorf("digest = %q, want %q", got.Content.Digest, meta.Content.Digest)
	}
}

func TestReadUpdateMetadataAbsent(t *testing.T) {
	sysroot := t.TempDir()
	comp := fakeComponent{name: "BIOS"}

	got, err := ReadUpdateMetadata(sysroot, comp)
	if err != nil {
		t.Fatalf("expected no error for absent metadata, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil metadata, got %+v", got)
	}
}
