package manifest

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/report"
)

// Validate recomputes every checksum listed in the raw manifest document
// against the files extracted under dir. Entries are checked in key order and
// the manifest's own checksum last. A document without a checksums table is
// accepted with a warning.
func Validate(dir string, data []byte, rep *report.Reporter) error {
	rep.Printf(report.Normal, "Validating backup integrity...")

	m, err := Parse(data)
	if err != nil {
		return err
	}
	present, err := hasChecksums(data)
	if err != nil {
		return err
	}
	if !present {
		rep.Printf(report.Normal, "Warning: No checksums found in manifest. Skipping integrity check.")
		return nil
	}

	keys := make([]string, 0, len(m.Checksums))
	for k := range m.Checksums {
		if k != SelfKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		rel, label, err := resolve(m, key)
		if err != nil {
			return err
		}
		actual, err := checksum.File(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return errs.New(errs.KindIntegrity, label+" checksum mismatch: file missing from backup", err)
		}
		if actual != m.Checksums[key] {
			return errs.Integrity("%s checksum mismatch. Backup may be corrupted.", label)
		}
		rep.Printf(report.Verbose, "%s checksum verified", label)
	}

	if _, ok := m.Checksums[SelfKey]; ok {
		if _, err := VerifySelf(data); err != nil {
			return err
		}
		rep.Printf(report.Verbose, "Manifest checksum verified")
	}

	rep.Printf(report.Normal, "Backup integrity validated successfully")
	return nil
}

// resolve maps a checksum key to the archive-relative path it covers.
func resolve(m *Manifest, key string) (rel, label string, err error) {
	switch {
	case key == DatabaseKey:
		db := m.Components.Database
		if db == nil || db.File == "" {
			return "", "", errs.Integrity("checksum entry %q has no database file in the manifest", key)
		}
		if err := checkRelative(db.File); err != nil {
			return "", "", err
		}
		return DirDatabase + "/" + db.File, "Database file " + db.File, nil
	case strings.HasPrefix(key, databaseFilePrefix):
		name := strings.TrimPrefix(key, databaseFilePrefix)
		if err := checkRelative(name); err != nil {
			return "", "", err
		}
		return DirDatabase + "/" + name, "Database file " + name, nil
	case strings.HasPrefix(key, fixtureFilePrefix):
		name := strings.TrimPrefix(key, fixtureFilePrefix)
		if err := checkRelative(name); err != nil {
			return "", "", err
		}
		return DirFixtures + "/" + name, "Fixture file " + name, nil
	default:
		return "", "", errs.Integrity("unknown checksum entry %q in manifest", key)
	}
}

func checkRelative(name string) error {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	if name == "" || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return errs.Integrity("invalid file reference %q in manifest", name)
	}
	return nil
}

func hasChecksums(data []byte) (bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, errs.New(errs.KindIntegrity, "invalid manifest JSON", err)
	}
	raw, ok := doc["checksums"]
	if !ok {
		return false, nil
	}
	return !bytes.Equal(bytes.TrimSpace(raw), []byte("null")), nil
}
