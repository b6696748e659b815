// Package manifest describes the contents of a backup archive and carries the
// checksums used to verify it on restore.
//
// The manifest document is written in a canonical JSON form (object keys
// sorted, two-space indent, trailing newline) so that its self checksum can be
// recomputed by any reader. The form is fixed for the lifetime of the format.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/errs"
)

const (
	FileName = "manifest.json"

	// SelfKey is the checksums entry holding the digest of the manifest
	// itself, computed before the entry was inserted.
	SelfKey = "manifest"

	// DatabaseKey holds the digest of a single-file database dump.
	DatabaseKey = "database"

	databaseFilePrefix = "database_"
	fixtureFilePrefix  = "fixtures_"
)

// Top-level directories inside an archive.
const (
	DirDatabase = "database"
	DirMedia    = "media"
	DirFixtures = "fixtures"
)

// Manifest is the single source of truth written into every archive.
type Manifest struct {
	ID          string            `json:"id,omitempty"`
	Timestamp   string            `json:"timestamp"`
	CreatedAt   string            `json:"created_at"`
	ToolVersion string            `json:"tool_version,omitempty"`
	Components  Components        `json:"components"`
	Checksums   map[string]string `json:"checksums"`
}

// Components lists the sections a backup run produced. A nil entry means the
// stage did not run.
type Components struct {
	Database *Database `json:"database,omitempty"`
	Media    *Media    `json:"media,omitempty"`
	Fixtures *Fixtures `json:"fixtures,omitempty"`
}

// Database describes a database dump. Single-file engines set File; the
// records engine sets Files and Format.
type Database struct {
	Engine       string   `json:"engine"`
	Alias        string   `json:"alias,omitempty"`
	File         string   `json:"file,omitempty"`
	Files        []string `json:"files,omitempty"`
	Format       string   `json:"format,omitempty"`
	Size         int64    `json:"size"`
	FailedGroups []string `json:"failed_groups,omitempty"`
}

type Media struct {
	Path        string `json:"path"`
	TotalFiles  int    `json:"total_files"`
	TotalSize   int64  `json:"total_size"`
	FailedFiles int    `json:"failed_files,omitempty"`
}

type Fixtures struct {
	Path       string   `json:"path"`
	Files      []string `json:"files"`
	TotalFiles int      `json:"total_files"`
	TotalSize  int64    `json:"total_size"`
}

// DatabaseFileKey is the checksum key of one file of a multi-file dump.
func DatabaseFileKey(name string) string { return databaseFilePrefix + name }

// FixtureKey is the checksum key of a fixture stored at fixtures/<rel>.
func FixtureKey(rel string) string { return fixtureFilePrefix + filepath.ToSlash(rel) }

// New returns an empty manifest with an initialised checksum table.
func New(id, timestamp, createdAt, toolVersion string) *Manifest {
	return &Manifest{
		ID:          id,
		Timestamp:   timestamp,
		CreatedAt:   createdAt,
		ToolVersion: toolVersion,
		Checksums:   map[string]string{},
	}
}

func (m *Manifest) SetChecksum(key, sum string) {
	if m.Checksums == nil {
		m.Checksums = map[string]string{}
	}
	m.Checksums[key] = sum
}

// RestoreSize sums the declared sizes of the components that will be restored.
func (m *Manifest) RestoreSize(database, media bool) int64 {
	var total int64
	if database && m.Components.Database != nil {
		total += m.Components.Database.Size
	}
	if media && m.Components.Media != nil {
		total += m.Components.Media.TotalSize
	}
	return total
}

// Canonical encodes v in the canonical manifest form. Numbers already held as
// json.Number are written verbatim.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	return encodeGeneric(generic)
}

func decodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeGeneric(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Seal writes m to path in two passes: first without its own checksum, then
// again with the digest of that first write stored under SelfKey.
func Seal(path string, m *Manifest) error {
	if m.Checksums == nil {
		m.Checksums = map[string]string{}
	}
	delete(m.Checksums, SelfKey)

	first, err := Canonical(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, first, 0o640); err != nil {
		return errs.Resource("write manifest", err)
	}
	sum, err := checksum.File(path)
	if err != nil {
		return errs.Resource("checksum manifest", err)
	}
	m.Checksums[SelfKey] = sum

	final, err := Canonical(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, final, 0o640); err != nil {
		return errs.Resource("write manifest", err)
	}
	return nil
}

// Parse decodes a manifest document. Malformed JSON is an integrity error.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.New(errs.KindIntegrity, "invalid manifest JSON", err)
	}
	return &m, nil
}

// Load reads and parses the manifest at the root of an extracted archive.
func Load(dir string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errs.Integrity("invalid backup: %s not found", FileName)
		}
		return nil, nil, errs.Resource("read manifest", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return m, data, nil
}

// VerifySelf recomputes the self checksum of a raw manifest document. It
// returns ok=false with no error when the document carries no self checksum.
func VerifySelf(data []byte) (ok bool, err error) {
	v, err := decodeGeneric(data)
	if err != nil {
		return false, errs.New(errs.KindIntegrity, "invalid manifest JSON", err)
	}
	doc, isObj := v.(map[string]any)
	if !isObj {
		return false, errs.Integrity("invalid manifest: not a JSON object")
	}
	sums, isObj := doc["checksums"].(map[string]any)
	if !isObj {
		return false, nil
	}
	want, present := sums[SelfKey]
	if !present {
		return false, nil
	}
	wantStr, isStr := want.(string)
	if !isStr {
		return false, errs.Integrity("invalid manifest: %s checksum is not a string", SelfKey)
	}
	delete(sums, SelfKey)
	encoded, err := encodeGeneric(doc)
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	if checksum.Bytes(encoded) != wantStr {
		return false, errs.Integrity("Manifest checksum mismatch. Backup may be corrupted.")
	}
	return true, nil
}
