// Package diskspace checks that a restore target has room for the data about
// to be written to it.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/site-backup/internal/errs"
)

const DefaultMarginPercent = 20

// FreeFunc reports the bytes available to an unprivileged user on the volume
// holding path.
type FreeFunc func(path string) (uint64, error)

// Required adds the safety margin to n bytes.
func Required(n int64, marginPercent int) int64 {
	if marginPercent < 0 {
		marginPercent = DefaultMarginPercent
	}
	return n + n*int64(marginPercent)/100
}

// Check fails with a resource error when the volume holding path has less
// than required bytes free. A path that does not exist yet is measured at its
// nearest existing parent.
func Check(free FreeFunc, path string, required int64, what string) error {
	if free == nil {
		free = Free
	}
	probe := existingParent(path)
	available, err := free(probe)
	if err != nil {
		return errs.Resource(fmt.Sprintf("check free space on %s", probe), err)
	}
	if required > 0 && available < uint64(required) {
		return errs.Resource(fmt.Sprintf("Not enough disk space for %s. Required: %s, Available: %s",
			what, humanize.IBytes(uint64(required)), humanize.IBytes(available)), nil)
	}
	return nil
}

func existingParent(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
