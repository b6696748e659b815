// Package media copies user-uploaded file trees into and out of a backup.
package media

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/util"
)

const DefaultProgressEvery = 100

// DefaultPruneDirs are cache and thumbnail directories never worth backing up.
var DefaultPruneDirs = []string{".thumbnails", "__pycache__"}

// Options controls CopyTree.
type Options struct {
	// Overwrite replaces files that already exist at the destination. When
	// false such files are left in place and recorded as skipped.
	Overwrite bool
	// PruneDirs names directories that are not descended into.
	PruneDirs []string
	// SkipFile filters individual files by base name; nil copies everything.
	SkipFile func(name string) bool
	// ProgressEvery is the number of copied files between Progress calls.
	ProgressEvery int
	Progress      func(copied int)
}

// TempFile matches editor backups and hidden files, which backups leave out.
func TempFile(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// CopyTree copies every file below src to the same relative path below dst,
// preserving permission bits and modification times. A failure copying one
// file is recorded in the result and the walk continues. Items in the result
// are slash-separated paths relative to src.
func CopyTree(src, dst string, opts Options) (batch.Result[string], error) {
	var res batch.Result[string]
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	prune := make(map[string]bool, len(opts.PruneDirs))
	for _, d := range opts.PruneDirs {
		prune[d] = true
	}
	if _, err := os.Stat(src); err != nil {
		return res, err
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		item := filepath.ToSlash(rel)
		if walkErr != nil {
			if path == src {
				return walkErr
			}
			res.Fail(item, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != src && prune[d.Name()] {
				return fs.SkipDir
			}
			if err := os.MkdirAll(filepath.Join(dst, rel), 0o755); err != nil {
				res.Fail(item, err)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if opts.SkipFile != nil && opts.SkipFile(d.Name()) {
			return nil
		}
		target := filepath.Join(dst, rel)
		if !opts.Overwrite {
			if _, err := os.Lstat(target); err == nil {
				res.Skip(item)
				return nil
			}
		}
		if err := util.CopyFile(path, target); err != nil {
			res.Fail(item, err)
			return nil
		}
		res.Succeed(item)
		if opts.Progress != nil && len(res.Succeeded)%every == 0 {
			opts.Progress(len(res.Succeeded))
		}
		return nil
	})
	return res, err
}

// TreeSize sums the sizes of the files listed in rels below root.
func TreeSize(root string, rels []string) int64 {
	var total int64
	for _, rel := range rels {
		if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil {
			total += info.Size()
		}
	}
	return total
}
