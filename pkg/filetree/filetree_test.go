package filetree

import (
	"testing"

	"github.com/spf13/afero"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestFromDirectory(t *testing.T) {
	t.Run("builds a tree over nested regular files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/root/a.txt", "hello")
		writeFile(t, fs, "/root/sub/b.txt", "world")

		tree, err := FromDirectory(fs, "/root")
		if err != nil {
			t.Fatalf("FromDirectory failed: %v", err)
		}
		if len(tree.Children) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(tree.Children))
		}
		if _, ok := tree.Children["a.txt"]; !ok {
			t.Error("missing a.txt")
		}
		if _, ok := tree.Children["sub/b.txt"]; !ok {
			t.Error("missing sub/b.txt")
		}
	})

	t.Run("rejects reserved temp prefix", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/root/.btmp.foo", "x")

		if _, err := FromDirectory(fs, "/root"); err == nil {
			t.Error("expected an error for a reserved-prefix file")
		}
	})

	t.Run("rejects case-insensitive collisions", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/root/README.txt", "x")
		writeFile(t, fs, "/root/readme.txt", "y")

		if _, err := FromDirectory(fs, "/root"); err == nil {
			t.Error("expected an error for a case-insensitive name collision")
		}
	})
}

func TestDiff(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/a/keep.txt", "same")
	writeFile(t, fs, "/a/remove.txt", "gone")
	writeFile(t, fs, "/a/change.txt", "before")
	from, err := FromDirectory(fs, "/a")
	if err != nil {
		t.Fatalf("FromDirectory(from) failed: %v", err)
	}

	fs2 := afero.NewMemMapFs()
	writeFile(t, fs2, "/b/keep.txt", "same")
	writeFile(t, fs2, "/b/change.txt", "after")
	writeFile(t, fs2, "/b/added.txt", "new")
	to, err := FromDirectory(fs2, "/b")
	if err != nil {
		t.Fatalf("FromDirectory(to) failed: %v", err)
	}

	d := Diff(from, to)
	if _, ok := d.Removals["remove.txt"]; !ok {
		t.Error("expected remove.txt in removals")
	}
	if _, ok := d.Changes["change.txt"]; !ok {
		t.Error("expected change.txt in changes")
	}
	if _, ok := d.Additions["added.txt"]; !ok {
		t.Error("expected added.txt in additions")
	}
	if _, ok := d.Additions["keep.txt"]; ok {
		t.Error("keep.txt should not appear as an addition")
	}
}

func TestRelativeDiffToIgnoresForeignFilesAndReportsMissingOnes(t *testing.T) {
	// The manifest tracks "tracked.txt" only. The live directory has that
	// file plus a "foreign.txt" the manifest never claimed to manage.
	manifestFs := afero.NewMemMapFs()
	writeFile(t, manifestFs, "/manifest/tracked.txt", "v1")
	manifest, err := FromDirectory(manifestFs, "/manifest")
	if err != nil {
		t.Fatalf("FromDirectory(manifest) failed: %v", err)
	}

	liveFs := afero.NewMemMapFs()
	writeFile(t, liveFs, "/live/tracked.txt", "v1")
	writeFile(t, liveFs, "/live/foreign.txt", "not ours")

	diff, err := RelativeDiffTo(manifest, liveFs, "/live")
	if err != nil {
		t.Fatalf("RelativeDiffTo failed: %v", err)
	}
	if len(diff.Additions) != 0 {
		t.Errorf("expected Additions to always be empty in the relative-diff direction, got %v", diff.Additions)
	}
	if len(diff.Changes) != 0 {
		t.Errorf("expected no changes, got %v", diff.Changes)
	}
	if len(diff.Removals) != 0 {
		t.Errorf("expected no removals, got %v", diff.Removals)
	}

	// Now the live directory is missing a tracked file: that's a real
	// removal, distinct from the foreign file above which is still ignored.
	if err := liveFs.Remove("/live/tracked.txt"); err != nil {
		t.Fatalf("removing tracked.txt: %v", err)
	}
	diff, err = RelativeDiffTo(manifest, liveFs, "/live")
	if err != nil {
		t.Fatalf("RelativeDiffTo failed: %v", err)
	}
	if _, ok := diff.Removals["tracked.txt"]; !ok {
		t.Errorf("expected tracked.txt in removals, got %v", diff.Removals)
	}
	if len(diff.Additions) != 0 {
		t.Errorf("expected Additions to stay empty, got %v", diff.Additions)
	}
}

func TestDigestIsStableAndSensitiveToContent(t *testing.T) {
	fs1 := afero.NewMemMapFs()
	writeFile(t, fs1, "/a/one.txt", "same-content")
	t1, err := FromDirectory(fs1, "/a")
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}

	fs2 := afero.NewMemMapFs()
	writeFile(t, fs2, "/a/one.txt", "same-content")
	t2, err := FromDirectory(fs2, "/a")
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}

	if Digest(t1) != Digest(t2) {
		t.Error("identical trees should produce identical digests")
	}

	fs3 := afero.NewMemMapFs()
	writeFile(t, fs3, "/a/one.txt", "different-content")
	t3, err := FromDirectory(fs3, "/a")
	if err != nil {
		t.Fatalf("FromDirectory failed: %v", err)
	}
	if Digest(t1) == Digest(t3) {
		t.Error("differing content should produce differing digests")
	}
}
