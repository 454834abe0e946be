// Package filetree builds content-addressed snapshots of a component's
// on-disk payload and diffs them, grounded on the directory-walk and sync
// discipline in pkg/bootloader.go's EFI file handling.
package filetree

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/spf13/afero"
)

// TmpPrefix is reserved for in-flight writes by pkg/apply. A manifest that
// contains a path with this prefix is rejected so it can never be smuggled
// in via a staged update.
const TmpPrefix = ".btmp."

// FromDirectory walks dir on fs and builds a FileTree. Symlinks, non-UTF-8
// names, and names colliding case-insensitively are rejected, matching the
// FAT constraints the ESP imposes.
func FromDirectory(fs afero.Fs, dir string) (*model.FileTree, error) {
	children := make(map[string]model.FileMetadata)
	seenFold := make(map[string]string)

	var walk func(rel string) error
	walk = func(rel string) error {
		full := dir
		if rel != "" {
			full = dir + "/" + rel
		}
		entries, err := afero.ReadDir(fs, full)
		if err != nil {
			return fmt.Errorf("reading directory %s: %w", full, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !utf8.ValidString(name) {
				return fmt.Errorf("invalid UTF-8 filename in %s", full)
			}
			if strings.HasPrefix(name, TmpPrefix) {
				return fmt.Errorf("file %s contains the reserved temporary prefix %q", name, TmpPrefix)
			}
			childRel := name
			if rel != "" {
				childRel = rel + "/" + name
			}
			fold := strings.ToLower(childRel)
			if prior, dup := seenFold[fold]; dup {
				return fmt.Errorf("case-insensitive name collision between %q and %q", prior, childRel)
			}
			seenFold[fold] = childRel

			if entry.IsDir() {
				if err := walk(childRel); err != nil {
					return err
				}
				continue
			}
			if entry.Mode()&os.ModeType&^os.ModeDir != 0 {
				return fmt.Errorf("unsupported non-regular file %s", childRel)
			}
			meta, err := fileMetadata(fs, dir+"/"+childRel, entry.Size())
			if err != nil {
				return err
			}
			children[childRel] = meta
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}

	info, err := fs.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("statting %s: %w", dir, err)
	}

	return &model.FileTree{
		Timestamp: info.ModTime().Truncate(time.Second),
		Children:  children,
	}, nil
}

// RelativeDiffTo builds a FileTree for dir — read as a live directory, not
// a tracked manifest — and diffs current against it. Any path present in
// dir but absent from current is a file we never claimed to manage, so it
// is dropped rather than reported: Additions is therefore always empty.
// This is the primitive used by both adoption and validation.
func RelativeDiffTo(current *model.FileTree, fs afero.Fs, dir string) (*model.FileTreeDiff, error) {
	live, err := FromDirectory(fs, dir)
	if err != nil {
		return nil, err
	}
	d := model.NewFileTreeDiff()
	for k, v1 := range current.Children {
		if v2, ok := live.Children[k]; ok {
			if v1 != v2 {
				d.Changes[k] = struct{}{}
			}
		} else {
			d.Removals[k] = struct{}{}
		}
	}
	return d, nil
}

// Diff determines the changes from "from" to "to".
func Diff(from, to *model.FileTree) *model.FileTreeDiff {
	d := model.NewFileTreeDiff()
	for k, v1 := range from.Children {
		if v2, ok := to.Children[k]; ok {
			if v1 != v2 {
				d.Changes[k] = struct{}{}
			}
		} else {
			d.Removals[k] = struct{}{}
		}
	}
	for k := range to.Children {
		if _, ok := from.Children[k]; ok {
			continue
		}
		d.Additions[k] = struct{}{}
	}
	return d
}

// Digest computes a canonical SHA-512 over the tree's sorted entries, used
// as the InstalledContent digest for a component.
func Digest(t *model.FileTree) string {
	names := make([]string, 0, len(t.Children))
	for k := range t.Children {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha512.New()
	for _, k := range names {
		v := t.Children[k]
		h.Write([]byte(k))
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(v.Size))
		h.Write(lenBuf[:])
		h.Write([]byte(v.SHA512))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TotalSize sums the size of every file in the tree, for reporting.
func TotalSize(t *model.FileTree) int64 {
	var total int64
	for _, v := range t.Children {
		total += v.Size
	}
	return total
}

func fileMetadata(fs afero.Fs, path string, size int64) (model.FileMetadata, error) {
	f, err := fs.Open(path)
	if err != nil {
		return model.FileMetadata{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return model.FileMetadata{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return model.FileMetadata{
		Size:   size,
		SHA512: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
