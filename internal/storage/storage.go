// Package storage manages the directory finished archives are written to:
// listing them and pruning old ones under a retention policy.
package storage

import (
	"regexp"
	"strings"
	"time"

	"github.com/rowjay/site-backup/internal/compress"
	"github.com/rowjay/site-backup/internal/cryptoutil"
)

// Archive describes one backup artifact in the output directory.
type Archive struct {
	Name        string
	Path        string
	Size        int64
	Modified    time.Time
	Compression string
	// Encryption is the envelope method, or "" for plain archives.
	Encryption string
	// Generated is set for archives carrying the default timestamped name.
	// Only these are subject to retention.
	Generated bool
}

var generatedStem = regexp.MustCompile(`^backup_\d{8}_\d{6}$`)

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.zst", ".tar.lz4", ".tar"}

// Stem strips the encryption and archive suffixes from name.
func Stem(name string) string {
	name = cryptoutil.StripSuffix(name)
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}

// IsGenerated reports whether name carries the backup_<timestamp> stem new
// archives get when no file name is given.
func IsGenerated(name string) bool {
	return generatedStem.MatchString(Stem(name))
}

// ParseName reports whether name looks like an archive this tool writes and
// which compression and encryption it carries.
func ParseName(name string) (compression, encryption string, ok bool) {
	if strings.HasSuffix(name, ".partial") {
		return "", "", false
	}
	encryption, _ = cryptoutil.MethodFromName(name)
	compression, ok = compress.FromName(cryptoutil.StripSuffix(name))
	return compression, encryption, ok
}
