package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/site-backup/internal/batch"
)

// Strategy is the conflict policy applied when restoring into a media root
// that already holds files.
type Strategy string

const (
	// Replace deletes every existing entry of the media root before copying.
	Replace Strategy = "replace"
	// Merge copies over existing files and leaves the rest alone.
	Merge Strategy = "merge"
	// KeepExisting copies only files that do not exist yet.
	KeepExisting Strategy = "keep-existing"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Replace:
		return Replace, nil
	case Merge:
		return Merge, nil
	case KeepExisting, "keep_existing":
		return KeepExisting, nil
	default:
		return "", fmt.Errorf("unknown media strategy %q (expected replace, merge or keep-existing)", s)
	}
}

// RestoreResult reports what a media restore did.
type RestoreResult struct {
	// Removed holds the top-level entries deleted by the replace strategy;
	// Cleared lists the ones that could not be removed.
	Removed []string
	Cleared batch.Result[string]
	Copied  batch.Result[string]
}

// Restore copies the backed-up tree src into dst according to strategy. dst
// is created when missing.
func Restore(src, dst string, strategy Strategy, opts Options) (*RestoreResult, error) {
	res := &RestoreResult{}
	switch strategy {
	case Replace:
		cleared, err := clearDir(dst)
		if err != nil {
			return res, err
		}
		res.Cleared = cleared
		res.Removed = cleared.Succeeded
		opts.Overwrite = true
	case Merge:
		opts.Overwrite = true
	case KeepExisting:
		opts.Overwrite = false
	default:
		return res, fmt.Errorf("unknown media strategy %q", strategy)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return res, err
	}
	copied, err := CopyTree(src, dst, opts)
	res.Copied = copied
	return res, err
}

// clearDir removes every entry directly below dir. A missing dir is not an error.
func clearDir(dir string) (batch.Result[string], error) {
	var res batch.Result[string]
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			res.Fail(e.Name(), err)
			continue
		}
		res.Succeed(e.Name())
	}
	return res, nil
}
