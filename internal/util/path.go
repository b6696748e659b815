package util

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the layout of the timestamp embedded in default archive names.
const TimestampLayout = "20060102_150405"

// Timestamp formats when for manifests and default names.
func Timestamp(when time.Time) string {
	return when.Format(TimestampLayout)
}

// BuildArchiveStem returns the file name stem for a new archive: stem when
// given, otherwise backup_<timestamp>.
func BuildArchiveStem(stem string, when time.Time) string {
	stem = strings.TrimSpace(stem)
	if stem != "" {
		return stem
	}
	return fmt.Sprintf("backup_%s", Timestamp(when))
}

// BuildArchivePath joins the output directory, stem and suffix chain.
func BuildArchivePath(dir, stem, ext string) string {
	return filepath.Join(dir, stem+ext)
}
