package orchestrator

import (
	"testing"
	"time"

	"github.com/bootupd/bootupd-go/pkg/component"
	"github.com/bootupd/bootupd-go/pkg/model"
)

func TestComponentLookupUnknown(t *testing.T) {
	o := &Orchestrator{components: map[string]component.Component{}}
	if _, err := o.component("EFI"); err == nil {
		t.Fatalf("expected an error for an unregistered component")
	}
}

func TestComputeUpdatableNoUpdate(t *testing.T) {
	installed := model.ContentMetadata{
		ContentTimestamp: time.Now(),
		Content:          model.InstalledContent{Digest: "a"},
	}
	got := computeUpdatable(installed, nil)
	if got.LatestInstalled {
		t.Errorf("expected LatestInstalled = false when no update is staged")
	}
	if got.Update != nil {
		t.Errorf("expected no Update payload")
	}
}

func TestComputeUpdatableNewerAvailable(t *testing.T) {
	now := time.Now()
	installed := model.ContentMetadata{
		ContentTimestamp: now,
		Content:          model.InstalledContent{Digest: "a"},
	}
	update := &model.ContentMetadata{
		ContentTimestamp: now.Add(time.Hour),
		Content:          model.InstalledContent{Digest: "b"},
	}
	got := computeUpdatable(installed, update)
	if got.LatestInstalled {
		t.Errorf("expected LatestInstalled = false when a newer update exists")
	}
	if got.Update == nil {
		t.Fatalf("expected Update payload")
	}
}

func TestComputeUpdatableAlreadyLatest(t *testing.T) {
	now := time.Now()
	installed := model.ContentMetadata{
		ContentTimestamp: now,
		Content:          model.InstalledContent{Digest: "a"},
	}
	update := &model.ContentMetadata{
		ContentTimestamp: now,
		Content:          model.InstalledContent{Digest: "a"},
	}
	got := computeUpdatable(installed, update)
	if !got.LatestInstalled {
		t.Errorf("expected LatestInstalled = true for identical digest/timestamp")
	}
}

func TestComputeUpdatableWouldDowngrade(t *testing.T) {
	now := time.Now()
	installed := model.ContentMetadata{
		ContentTimestamp: now,
		Content:          model.InstalledContent{Digest: "a"},
	}
	older := &model.ContentMetadata{
		ContentTimestamp: now.Add(-time.Hour),
		Content:          model.InstalledContent{Digest: "b"},
	}
	got := computeUpdatable(installed, older)
	if !got.LatestInstalled {
		t.Errorf("expected LatestInstalled = true for a would-be downgrade")
	}
	if got.Update == nil {
		t.Errorf("expected the older update to still be reported for visibility")
	}
}

func TestTrimTrailingNewline(t *testing.T) {
	cases := map[string]string{
		"abc\n":   "abc",
		"abc\r\n": "abc",
		"abc":     "abc",
		"":        "",
		"\n\n":    "",
	}
	for in, want := range cases {
		if got := trimTrailingNewline(in); got != want {
			t.Errorf("trimTrailingNewline(%q) = %q, want %q", in, got, want)
		}
	}
}
