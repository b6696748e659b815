package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/site-backup/internal/archive"
	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/compress"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/lock"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/media"
	"github.com/rowjay/site-backup/internal/report"
)

// site is a throwaway deployment: a file database, a media root and the
// directories a run needs.
type site struct {
	dbPath    string
	mediaRoot string
	outDir    string
	tempDir   string
	cfg       *config.Config
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newSite(t *testing.T) *site {
	t.Helper()
	root := t.TempDir()
	s := &site{
		dbPath:    filepath.Join(root, "data", "db.sqlite3"),
		mediaRoot: filepath.Join(root, "media"),
		outDir:    filepath.Join(root, "backups"),
		tempDir:   filepath.Join(root, "tmp"),
	}
	require.NoError(t, os.MkdirAll(s.tempDir, 0o755))
	writeFile(t, s.dbPath, strings.Repeat("d", 400))
	writeFile(t, filepath.Join(s.mediaRoot, "avatars", "a.png"), strings.Repeat("a", 150))
	writeFile(t, filepath.Join(s.mediaRoot, "avatars", "b.png"), strings.Repeat("b", 150))
	writeFile(t, filepath.Join(s.mediaRoot, "docs", "c.pdf"), strings.Repeat("c", 150))
	writeFile(t, filepath.Join(s.mediaRoot, "docs", "d.pdf"), strings.Repeat("e", 150))

	s.cfg = &config.Config{
		Global: config.GlobalConfig{
			LockFile: filepath.Join(root, "run.lock"),
			TempDir:  s.tempDir,
		},
		Databases: map[string]config.DatabaseConfig{
			config.DefaultAlias: {Engine: "sqlite", Path: s.dbPath},
		},
		Media:   config.MediaConfig{Root: s.mediaRoot, PruneDirs: media.DefaultPruneDirs},
		Backup:  config.BackupConfig{OutputDir: s.outDir, Compression: compress.TypeGzip, CompressionLevel: 6},
		Restore: config.RestoreConfig{MediaStrategy: "replace", DiskMarginPercent: 20},
	}
	return s
}

func (s *site) app(t *testing.T) (*App, *report.Recorder) {
	t.Helper()
	rec := &report.Recorder{}
	a := New(s.cfg, zerolog.Nop(), report.New(report.Debug, rec))
	a.FreeSpace = func(string) (uint64, error) { return 1 << 40, nil }
	a.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = a.Close() })
	return a, rec
}

func gzipOptions(name string) BackupOptions {
	return BackupOptions{Filename: name, Compress: true, Compression: compress.TypeGzip}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	s := newSite(t)
	a, rec := s.app(t)

	res, err := a.Backup(context.Background(), gzipOptions("nightly"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.outDir, "nightly.tar.gz"), res.Path)
	assert.FileExists(t, res.Path)
	assert.Greater(t, res.Size, int64(0))

	m := res.Manifest
	require.NotNil(t, m.Components.Database)
	assert.Equal(t, "sqlite", m.Components.Database.Engine)
	assert.EqualValues(t, 400, m.Components.Database.Size)
	require.NotNil(t, m.Components.Media)
	assert.Equal(t, 4, m.Components.Media.TotalFiles)
	assert.EqualValues(t, 600, m.Components.Media.TotalSize)
	assert.Nil(t, m.Components.Fixtures)
	assert.Contains(t, m.Checksums, manifest.DatabaseKey)
	assert.Contains(t, m.Checksums, manifest.SelfKey)
	assert.Contains(t, rec.Text(), "Backup saved to: ")

	// Point the restore at an empty media root and change the live database.
	s.cfg.Media.Root = filepath.Join(t.TempDir(), "fresh-media")
	writeFile(t, s.dbPath, "changed")

	out, err := a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.NoError(t, err)
	assert.False(t, out.Cancelled)
	assert.Equal(t, []string{"avatars/a.png", "avatars/b.png", "docs/c.pdf", "docs/d.pdf"}, listFiles(t, s.cfg.Media.Root))
	assert.Equal(t, strings.Repeat("d", 400), readFile(t, s.dbPath))
	assert.Equal(t, "changed", readFile(t, s.dbPath+".bak"))
	assert.Contains(t, rec.Text(), "Restoration completed successfully")
	assert.Zero(t, out.Warnings())

	entries, err := os.ReadDir(s.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackupSkipsTempFilesAndPrunedDirs(t *testing.T) {
	s := newSite(t)
	writeFile(t, filepath.Join(s.mediaRoot, "avatars", ".DS_Store"), "x")
	writeFile(t, filepath.Join(s.mediaRoot, ".thumbnails", "a.png"), "x")
	a, _ := s.app(t)

	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Manifest.Components.Media.TotalFiles)
}

func TestBackupWithMissingMediaRoot(t *testing.T) {
	s := newSite(t)
	require.NoError(t, os.RemoveAll(s.mediaRoot))
	a, _ := s.app(t)

	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
	require.NotNil(t, res.Manifest.Components.Media)
	assert.Zero(t, res.Manifest.Components.Media.TotalFiles)
	assert.NoDirExists(t, s.mediaRoot)
}

func TestBackupMissingDatabaseFails(t *testing.T) {
	s := newSite(t)
	require.NoError(t, os.Remove(s.dbPath))
	a, _ := s.app(t)

	_, err := a.Backup(context.Background(), gzipOptions("b"))
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.NoFileExists(t, filepath.Join(s.outDir, "b.tar.gz"))
}

func TestBackupUncompressed(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	res, err := a.Backup(context.Background(), BackupOptions{Filename: "plain"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.outDir, "plain.tar"), res.Path)
}

func TestBackupDefaultName(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	res, err := a.Backup(context.Background(), a.DefaultBackupOptions())
	require.NoError(t, err)
	assert.Equal(t, "backup_20240301_120000.tar.gz", filepath.Base(res.Path))
}

func TestBackupOptionValidation(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	_, err := a.Backup(context.Background(), BackupOptions{Compress: true, Compression: "rar"})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = a.Backup(context.Background(), BackupOptions{CompressionLevel: 12})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = a.Backup(context.Background(), BackupOptions{SkipDatabase: true, SkipMedia: true})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = a.Backup(context.Background(), BackupOptions{Database: "reporting"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"reporting"`)
}

func TestBackupRetention(t *testing.T) {
	s := newSite(t)
	s.cfg.Backup.RetentionPolicy = config.Retention{KeepLast: 1}
	a, _ := s.app(t)

	named, err := a.Backup(context.Background(), gzipOptions("before-upgrade"))
	require.NoError(t, err)
	_, err = a.Backup(context.Background(), gzipOptions(""))
	require.NoError(t, err)
	a.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC) }
	second, err := a.Backup(context.Background(), gzipOptions(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"backup_20240301_120000.tar.gz"}, second.Pruned.Succeeded)

	archives, err := a.List(context.Background())
	require.NoError(t, err)
	var paths []string
	for _, ar := range archives {
		paths = append(paths, ar.Path)
	}
	assert.ElementsMatch(t, []string{named.Path, second.Path}, paths)
}

func TestBackupHeldLock(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	held, err := lock.Acquire(s.cfg.Global.LockFile)
	require.NoError(t, err)

	_, err = a.Backup(context.Background(), gzipOptions("b"))
	assert.Equal(t, errs.KindResource, errs.KindOf(err))
	assert.NoFileExists(t, filepath.Join(s.outDir, "b.tar.gz"))

	require.NoError(t, held.Release())
	_, err = a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
}

func TestEncryptedRoundTrip(t *testing.T) {
	s := newSite(t)
	s.cfg.Encryption = config.EncryptionConfig{
		Method: "dare",
		Key:    base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)),
	}
	a, rec := s.app(t)

	opts := gzipOptions("secret")
	opts.Encrypt = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.outDir, "secret.tar.gz.enc"), res.Path)
	assert.NoFileExists(t, filepath.Join(s.outDir, "secret.tar.gz"))

	m, err := a.Verify(context.Background(), res.Path, "")
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.ID, m.ID)

	s.cfg.Media.Root = filepath.Join(t.TempDir(), "restored")
	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true, SkipDatabase: true})
	require.NoError(t, err)
	assert.Len(t, listFiles(t, s.cfg.Media.Root), 4)
	assert.Contains(t, rec.Text(), "Decrypting backup...")
}

func TestEncryptedRestoreOfRenamedArchive(t *testing.T) {
	s := newSite(t)
	s.cfg.Encryption = config.EncryptionConfig{
		Method: "dare",
		Key:    base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)),
	}
	a, _ := s.app(t)

	opts := gzipOptions("secret")
	opts.Encrypt = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)
	renamed := filepath.Join(s.outDir, "site.enc")
	require.NoError(t, os.Rename(res.Path, renamed))

	s.cfg.Media.Root = filepath.Join(t.TempDir(), "restored")
	_, err = a.Restore(context.Background(), RestoreOptions{Path: renamed, Force: true, SkipDatabase: true})
	require.NoError(t, err)
	assert.Len(t, listFiles(t, s.cfg.Media.Root), 4)
}

func TestBackupEncryptionFailureKeepsPlainArchive(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	fakeGPG := filepath.Join(t.TempDir(), "gpg")
	require.NoError(t, os.WriteFile(fakeGPG, []byte("#!/bin/sh\necho 'gpg: encryption failed' >&2\nexit 2\n"), 0o755))

	cases := []struct {
		name       string
		passphrase string
		kind       errs.Kind
	}{
		{name: "symmetric without passphrase", kind: errs.KindConfiguration},
		{name: "gpg exits non-zero", passphrase: "secret", kind: errs.KindTool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSite(t)
			s.cfg.Encryption = config.EncryptionConfig{Method: "gpg", GPGBinary: fakeGPG, Passphrase: tc.passphrase}
			a, _ := s.app(t)

			opts := gzipOptions("site")
			opts.Encrypt = true
			_, err := a.Backup(context.Background(), opts)
			require.Error(t, err)
			assert.True(t, errs.Is(err, tc.kind), "got %v", err)

			assert.Equal(t, []string{"site.tar.gz"}, listFiles(t, s.outDir))
			n, err := archive.Extract(filepath.Join(s.outDir, "site.tar.gz"), t.TempDir(), archive.ExtractOptions{})
			require.NoError(t, err)
			assert.Positive(t, n)
		})
	}
}

func TestEncryptedRestoreWithWrongKey(t *testing.T) {
	s := newSite(t)
	s.cfg.Encryption = config.EncryptionConfig{
		Method: "dare",
		Key:    base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)),
	}
	a, _ := s.app(t)
	opts := gzipOptions("secret")
	opts.Encrypt = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)

	s.cfg.Encryption.Key = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))
	before := readFile(t, filepath.Join(s.mediaRoot, "avatars", "a.png"))
	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.Error(t, err)
	assert.Equal(t, before, readFile(t, filepath.Join(s.mediaRoot, "avatars", "a.png")))
}

// tamperedArchive builds an archive whose database checksum does not match
// the file it covers.
func tamperedArchive(t *testing.T) string {
	t.Helper()
	stage := t.TempDir()
	writeFile(t, filepath.Join(stage, "database", "db.sqlite3"), "tampered")
	writeFile(t, filepath.Join(stage, "media", "a.png"), "png")

	m := manifest.New("id", "20240301_120000", "2024-03-01T12:00:00Z", "test")
	m.Components.Database = &manifest.Database{Engine: "sqlite", File: "db.sqlite3", Size: 8}
	m.Components.Media = &manifest.Media{Path: "media", TotalFiles: 1, TotalSize: 3}
	m.SetChecksum(manifest.DatabaseKey, checksum.Bytes([]byte("original")))
	require.NoError(t, manifest.Seal(filepath.Join(stage, manifest.FileName), m))

	dest := filepath.Join(t.TempDir(), "tampered.tar.gz")
	require.NoError(t, archive.Pack(stage, dest, compress.TypeGzip, 6))
	return dest
}

func TestRestoreChecksumMismatchLeavesLiveDataAlone(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	_, err := a.Restore(context.Background(), RestoreOptions{Path: tamperedArchive(t), Force: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindIntegrity, errs.KindOf(err))
	assert.Contains(t, err.Error(), "checksum mismatch")

	assert.Equal(t, strings.Repeat("d", 400), readFile(t, s.dbPath))
	assert.NoFileExists(t, s.dbPath+".bak")
	assert.Len(t, listFiles(t, s.mediaRoot), 4)

	entries, err := os.ReadDir(s.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestoreSkippingIntegrityCheck(t *testing.T) {
	s := newSite(t)
	a, rec := s.app(t)

	_, err := a.Restore(context.Background(), RestoreOptions{Path: tamperedArchive(t), Force: true, SkipIntegrityCheck: true})
	require.NoError(t, err)
	assert.Equal(t, "tampered", readFile(t, s.dbPath))
	assert.Contains(t, rec.Text(), "Warning: Skipping backup integrity check.")
}

func TestRestoreDiskSpaceMargin(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
	require.EqualValues(t, 1000, res.Manifest.RestoreSize(true, true))

	a.FreeSpace = func(string) (uint64, error) { return 1199, nil }
	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindResource, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Not enough disk space")
	assert.NoFileExists(t, s.dbPath+".bak")

	a.FreeSpace = func(string) (uint64, error) { return 1200, nil }
	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.NoError(t, err)
}

func TestRestoreDeclined(t *testing.T) {
	s := newSite(t)
	a, rec := s.app(t)
	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
	writeFile(t, s.dbPath, "live")

	var asked string
	a.Confirm = func(q string) (bool, error) {
		asked = q
		return false, nil
	}
	out, err := a.Restore(context.Background(), RestoreOptions{Path: res.Path})
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Contains(t, asked, "overwrite")
	assert.Equal(t, "live", readFile(t, s.dbPath))
	assert.Contains(t, rec.Text(), "Restoration cancelled.")
}

func TestRestoreWithoutConfirmation(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)

	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRestoreMissingComponent(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	opts := gzipOptions("db-only")
	opts.SkipMedia = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, res.Manifest.Components.Media)
	writeFile(t, s.dbPath, "live")

	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Media component not found")
	assert.Equal(t, "live", readFile(t, s.dbPath))

	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true, SkipMedia: true})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("d", 400), readFile(t, s.dbPath))
}

func TestRestoreEngineMismatch(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)

	s.cfg.Databases[config.DefaultAlias] = config.DatabaseConfig{Engine: "postgres", Name: "site"}
	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRestoreMissingFile(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	_, err := a.Restore(context.Background(), RestoreOptions{Path: filepath.Join(t.TempDir(), "nope.tar.gz"), Force: true})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = a.Restore(context.Background(), RestoreOptions{})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = a.Restore(context.Background(), RestoreOptions{Path: "x", MediaStrategy: "overwrite"})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestRestoreNotAnArchive(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	path := filepath.Join(t.TempDir(), "junk.tar.gz")
	writeFile(t, path, "this is not gzip")

	_, err := a.Restore(context.Background(), RestoreOptions{Path: path, Force: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindIntegrity, errs.KindOf(err))
	assert.Len(t, listFiles(t, s.mediaRoot), 4)
}

func TestRestoreKeepExistingMedia(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)
	res, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)

	writeFile(t, filepath.Join(s.mediaRoot, "avatars", "a.png"), "local edit")
	writeFile(t, filepath.Join(s.mediaRoot, "local.txt"), "local")
	require.NoError(t, os.Remove(filepath.Join(s.mediaRoot, "docs", "c.pdf")))

	out, err := a.Restore(context.Background(), RestoreOptions{
		Path: res.Path, Force: true, SkipDatabase: true, MediaStrategy: "keep-existing",
	})
	require.NoError(t, err)
	assert.Equal(t, "local edit", readFile(t, filepath.Join(s.mediaRoot, "avatars", "a.png")))
	assert.FileExists(t, filepath.Join(s.mediaRoot, "local.txt"))
	assert.FileExists(t, filepath.Join(s.mediaRoot, "docs", "c.pdf"))
	assert.Equal(t, []string{"docs/c.pdf"}, out.Media.Copied.Succeeded)
}

// memStore records fixture loads.
type memStore struct {
	mu     sync.Mutex
	loaded map[string]string
	fail   string
}

func (m *memStore) Groups(context.Context, string) ([]string, error) { return nil, nil }

func (m *memStore) Export(context.Context, string, string, io.Writer) error { return nil }

func (m *memStore) Load(_ context.Context, alias, name string, r io.Reader) (int, error) {
	if name == m.fail {
		return 0, assert.AnError
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == nil {
		m.loaded = map[string]string{}
	}
	m.loaded[alias+"/"+name] = string(b)
	return 1, nil
}

func TestFixturesRoundTrip(t *testing.T) {
	s := newSite(t)
	apps := t.TempDir()
	writeFile(t, filepath.Join(apps, "tasks", "fixtures", "tasks.json"), `[{"model":"tasks.task","pk":1,"fields":{}}]`)
	writeFile(t, filepath.Join(apps, "tasks", "fixtures", "broken.yaml"), "- model: tasks.task\n")
	writeFile(t, filepath.Join(apps, "tasks", "fixtures", "notes.txt"), "ignored")
	s.cfg.Fixtures.AppDirs = map[string]string{
		"tasks": filepath.Join(apps, "tasks"),
		"blog":  filepath.Join(apps, "blog"),
	}
	a, rec := s.app(t)
	store := &memStore{fail: "broken.yaml"}
	a.Records = store

	opts := gzipOptions("with-fixtures")
	opts.IncludeFixtures = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)
	fx := res.Manifest.Components.Fixtures
	require.NotNil(t, fx)
	assert.Equal(t, 2, fx.TotalFiles)
	assert.ElementsMatch(t, []string{"tasks/tasks.json", "tasks/broken.yaml"}, fx.Files)
	assert.Contains(t, res.Manifest.Checksums, manifest.FixtureKey("tasks/tasks.json"))

	out, err := a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true, SkipDatabase: true, SkipMedia: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/tasks.json"}, out.Fixtures.Succeeded)
	require.Len(t, out.Fixtures.Failed, 1)
	assert.Equal(t, "tasks/broken.yaml", out.Fixtures.Failed[0].Item)
	assert.Contains(t, store.loaded["default/tasks.json"], "tasks.task")
	assert.Contains(t, rec.Text(), "Warning: Failed to load fixture tasks/broken.yaml")
	assert.Contains(t, rec.Text(), "Fixtures restoration completed: 1/2 loaded")
}

func TestFixturesAbsent(t *testing.T) {
	s := newSite(t)
	a, rec := s.app(t)

	opts := gzipOptions("b")
	opts.IncludeFixtures = true
	res, err := a.Backup(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, res.Manifest.Components.Fixtures)
	assert.Contains(t, rec.Text(), "No fixtures found")

	_, err = a.Restore(context.Background(), RestoreOptions{Path: res.Path, Force: true})
	require.NoError(t, err)
	assert.Contains(t, rec.Text(), "No fixtures found in backup manifest. Skipping.")
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	_, err := a.Verify(context.Background(), tamperedArchive(t), "")
	assert.Equal(t, errs.KindIntegrity, errs.KindOf(err))

	_, err = a.Verify(context.Background(), filepath.Join(t.TempDir(), "missing.tar"), "")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestPruneRequiresPolicy(t *testing.T) {
	s := newSite(t)
	a, _ := s.app(t)

	_, err := a.Prune(context.Background())
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestCheck(t *testing.T) {
	s := newSite(t)
	s.cfg.Databases["reports"] = config.DatabaseConfig{Engine: "sqlite", Path: filepath.Join(t.TempDir(), "missing.sqlite3")}
	a, _ := s.app(t)

	results := a.Check(context.Background())
	byName := map[string]error{}
	for _, r := range results {
		byName[r.Name] = r.Err
	}
	require.Contains(t, byName, "database reports (sqlite)")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(byName["database reports (sqlite)"]))
	require.Contains(t, byName, "media "+s.mediaRoot)
	assert.NoError(t, byName["media "+s.mediaRoot])
}

func TestMetricsTextfileWritten(t *testing.T) {
	s := newSite(t)
	s.cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "sbu.prom")
	a, _ := s.app(t)

	_, err := a.Backup(context.Background(), gzipOptions("b"))
	require.NoError(t, err)
	text := readFile(t, s.cfg.Metrics.TextfilePath)
	assert.Contains(t, text, `sbu_runs_total{operation="backup",status="success"} 1`)
}
