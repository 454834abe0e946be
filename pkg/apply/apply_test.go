package apply

import (
	"testing"

	"github.com/bootupd/bootupd-go/pkg/filetree"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/spf13/afero"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestApply(t *testing.T) {
	t.Run("additions and changes land, removals disappear", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/src/keep.txt", "same")
		writeFile(t, fs, "/src/change.txt", "after")
		writeFile(t, fs, "/src/added.txt", "new")
		writeFile(t, fs, "/dest/keep.txt", "same")
		writeFile(t, fs, "/dest/change.txt", "before")
		writeFile(t, fs, "/dest/removed.txt", "gone")

		diff := model.NewFileTreeDiff()
		diff.Additions["added.txt"] = struct{}{}
		diff.Changes["change.txt"] = struct{}{}
		diff.Removals["removed.txt"] = struct{}{}

		if err := Apply(fs, "/src", "/dest", diff); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		if got := readFile(t, fs, "/dest/added.txt"); got != "new" {
			t.Errorf("added.txt = %q, want %q", got, "new")
		}
		if got := readFile(t, fs, "/dest/change.txt"); got != "after" {
			t.Errorf("change.txt = %q, want %q", got, "after")
		}
		if exists, _ := afero.Exists(fs, "/dest/removed.txt"); exists {
			t.Error("removed.txt should no longer exist")
		}
	})

	t.Run("cleans up stale temp files from a prior interrupted apply", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/src/a.txt", "a")
		writeFile(t, fs, "/dest/"+filetree.TmpPrefix+"leftover", "stale")

		diff := model.NewFileTreeDiff()
		diff.Additions["a.txt"] = struct{}{}

		if err := Apply(fs, "/src", "/dest", diff); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if exists, _ := afero.Exists(fs, "/dest/"+filetree.TmpPrefix+"leftover"); exists {
			t.Error("stale temp file should have been removed")
		}
	})

	t.Run("refuses to touch a forbidden path", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/src/blocked.txt", "x")
		ForbiddenPaths["blocked.txt"] = struct{}{}
		defer delete(ForbiddenPaths, "blocked.txt")

		diff := model.NewFileTreeDiff()
		diff.Additions["blocked.txt"] = struct{}{}

		if err := Apply(fs, "/src", "/dest", diff); err == nil {
			t.Error("expected an error for a forbidden path")
		}
	})
}
