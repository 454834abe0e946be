// Package apply implements the transactional, crash-safe directory sync
// that installs a staged component update over its live content, grounded
// on the reservation-then-rename discipline in pkg/bootloader.go's
// copyEFIFile and the FAT-safe case-renaming helpers around it.
package apply

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/filetree"
	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ForbiddenPaths are never touched by an apply, even if present in a
// staged manifest's diff (defense in depth alongside the filetree walker's
// own rejection of the reserved prefix).
var ForbiddenPaths = map[string]struct{}{}

// Apply transitions destRoot's content (currently described by diff, the
// result of diffing destRoot against srcRoot) to match srcRoot: additions
// and changes are written first via a reserved-prefix temp file + rename,
// then removals happen. A crash mid-apply can leave destRoot with some files
// already at their new content and others not yet written, but never with a
// file missing under its final name while it is still wanted.
func Apply(fs afero.Fs, srcRoot, destRoot string, diff *model.FileTreeDiff) error {
	if err := cleanupStaleTemp(fs, destRoot); err != nil {
		return fmt.Errorf("cleaning up stale temp files: %w", err)
	}

	toWrite := make([]string, 0, len(diff.Additions)+len(diff.Changes))
	for p := range diff.Additions {
		toWrite = append(toWrite, p)
	}
	for p := range diff.Changes {
		toWrite = append(toWrite, p)
	}
	sort.Strings(toWrite)

	for _, rel := range toWrite {
		if _, forbidden := ForbiddenPaths[rel]; forbidden {
			return fmt.Errorf("refusing to touch forbidden path %s", rel)
		}
		if err := writeOne(fs, srcRoot, destRoot, rel); err != nil {
			return fmt.Errorf("%w: writing %s: %v", bootuperrors.ErrIOFailure, rel, err)
		}
	}

	removals := make([]string, 0, len(diff.Removals))
	for p := range diff.Removals {
		removals = append(removals, p)
	}
	// Remove deepest paths first so directories empty out before their
	// parent is (potentially) removed in a later pass.
	sort.Slice(removals, func(i, j int) bool {
		return strings.Count(removals[i], "/") > strings.Count(removals[j], "/")
	})
	for _, rel := range removals {
		if _, forbidden := ForbiddenPaths[rel]; forbidden {
			return fmt.Errorf("refusing to touch forbidden path %s", rel)
		}
		path := destRoot + "/" + rel
		if err := fs.Remove(path); err != nil {
			return fmt.Errorf("%w: removing %s: %v", bootuperrors.ErrIOFailure, rel, err)
		}
	}
	// Then remove parent directories those removals left empty, walking up
	// from each removed path until a non-empty directory is reached.
	for _, rel := range removals {
		dir := rel
		for i := strings.LastIndex(dir, "/"); i > 0; i = strings.LastIndex(dir, "/") {
			dir = dir[:i]
			full := destRoot + "/" + dir
			if empty, err := afero.IsEmpty(fs, full); err != nil || !empty {
				break
			}
			if err := fs.Remove(full); err != nil {
				return fmt.Errorf("%w: removing directory %s: %v", bootuperrors.ErrIOFailure, dir, err)
			}
		}
	}

	return nil
}

// writeOne copies src's content for rel into dest via a reserved-prefix
// temp file in the same directory, fsync, then rename over the target.
func writeOne(fs afero.Fs, srcRoot, destRoot, rel string) error {
	srcPath := srcRoot + "/" + rel
	destPath := destRoot + "/" + rel

	destDir := destPath[:strings.LastIndex(destPath, "/")]
	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	tmpPath := destDir + "/" + filetree.TmpPrefix + uuid.NewString()

	src, err := fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("copying to %s: %w", tmpPath, err)
	}
	if syncer, ok := dst.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			dst.Close()
			_ = fs.Remove(tmpPath)
			return fmt.Errorf("syncing %s: %w", tmpPath, err)
		}
	}
	if err := dst.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	if err := fs.Rename(tmpPath, destPath); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("renaming %s into place: %w", tmpPath, err)
	}
	return nil
}

// cleanupStaleTemp removes any leftover reserved-prefix files, anywhere
// under root, from a prior interrupted apply. Apply calls it at the start
// of a run.
func cleanupStaleTemp(fs afero.Fs, root string) error {
	if exists, err := afero.DirExists(fs, root); err != nil || !exists {
		return nil // nothing to clean if destRoot doesn't exist yet
	}
	var stale []string
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), filetree.TmpPrefix) {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}
	for _, p := range stale {
		if err := fs.Remove(p); err != nil {
			return fmt.Errorf("removing stale temp file %s: %w", p, err)
		}
	}
	return nil
}
