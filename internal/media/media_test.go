package media

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func backupTree(t *testing.T) string {
	src := t.TempDir()
	write(t, src, "avatars/a.png", "new-a")
	write(t, src, "avatars/b.png", "new-b")
	write(t, src, "docs/c.pdf", "new-c")
	return src
}

func TestCopyTreeFiltersAndPrunes(t *testing.T) {
	src := t.TempDir()
	write(t, src, "avatars/a.png", "a")
	write(t, src, "avatars/.DS_Store", "junk")
	write(t, src, "avatars/a.png~", "editor backup")
	write(t, src, ".thumbnails/a_small.png", "thumb")
	write(t, src, "docs/__pycache__/x.pyc", "cache")
	write(t, src, "docs/c.pdf", "c")

	dst := t.TempDir()
	res, err := CopyTree(src, dst, Options{Overwrite: true, PruneDirs: DefaultPruneDirs, SkipFile: TempFile})
	require.NoError(t, err)

	got := append([]string(nil), res.Succeeded...)
	sort.Strings(got)
	assert.Equal(t, []string{"avatars/a.png", "docs/c.pdf"}, got)
	assert.NoDirExists(t, filepath.Join(dst, ".thumbnails"))
	assert.NoFileExists(t, filepath.Join(dst, "avatars", ".DS_Store"))
	assert.EqualValues(t, 2, TreeSize(dst, got))
}

func TestCopyTreePreservesMetadata(t *testing.T) {
	src := t.TempDir()
	write(t, src, "a.txt", "hello")
	p := filepath.Join(src, "a.txt")
	require.NoError(t, os.Chmod(p, 0o600))
	stamp := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, stamp, stamp))

	dst := t.TempDir()
	_, err := CopyTree(src, dst, Options{Overwrite: true})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(stamp))
}

func TestCopyTreeProgressCadence(t *testing.T) {
	src := t.TempDir()
	for _, n := range []string{"1", "2", "3", "4", "5"} {
		write(t, src, n, n)
	}
	var calls []int
	_, err := CopyTree(src, t.TempDir(), Options{Overwrite: true, ProgressEvery: 2, Progress: func(n int) { calls = append(calls, n) }})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, calls)
}

func TestCopyTreeContinuesAfterFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	src := t.TempDir()
	write(t, src, "ok.txt", "fine")
	write(t, src, "locked.txt", "secret")
	require.NoError(t, os.Chmod(filepath.Join(src, "locked.txt"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(src, "locked.txt"), 0o644) })

	dst := t.TempDir()
	res, err := CopyTree(src, dst, Options{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "locked.txt", res.Failed[0].Item)
	assert.False(t, res.OK())
}

func TestCopyTreeMissingSource(t *testing.T) {
	_, err := CopyTree(filepath.Join(t.TempDir(), "nope"), t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestRestoreKeepExistingNeverOverwrites(t *testing.T) {
	src := backupTree(t)
	dst := t.TempDir()
	write(t, dst, "avatars/a.png", "old-a")
	write(t, dst, "local.txt", "local")

	res, err := Restore(src, dst, KeepExisting, Options{})
	require.NoError(t, err)
	assert.Equal(t, "old-a", read(t, dst, "avatars/a.png"))
	assert.Equal(t, "new-b", read(t, dst, "avatars/b.png"))
	assert.Equal(t, "local", read(t, dst, "local.txt"))
	assert.Equal(t, []string{"avatars/a.png"}, res.Copied.Skipped)
}

func TestRestoreMergeOverwritesOverlap(t *testing.T) {
	src := backupTree(t)
	dst := t.TempDir()
	write(t, dst, "avatars/a.png", "old-a")
	write(t, dst, "local.txt", "local")

	_, err := Restore(src, dst, Merge, Options{})
	require.NoError(t, err)
	assert.Equal(t, "new-a", read(t, dst, "avatars/a.png"))
	assert.Equal(t, "local", read(t, dst, "local.txt"))
}

func TestRestoreReplaceRemovesDestinationOnlyFiles(t *testing.T) {
	src := backupTree(t)
	dst := t.TempDir()
	write(t, dst, "avatars/a.png", "old-a")
	write(t, dst, "local.txt", "local")
	write(t, dst, "stale/deep/file.bin", "stale")

	res, err := Restore(src, dst, Replace, Options{})
	require.NoError(t, err)
	assert.Equal(t, "new-a", read(t, dst, "avatars/a.png"))
	assert.NoFileExists(t, filepath.Join(dst, "local.txt"))
	assert.NoDirExists(t, filepath.Join(dst, "stale"))
	assert.ElementsMatch(t, []string{"avatars", "local.txt", "stale"}, res.Removed)
	assert.Len(t, res.Copied.Succeeded, 3)
}

func TestRestoreReplaceCreatesMissingRoot(t *testing.T) {
	src := backupTree(t)
	dst := filepath.Join(t.TempDir(), "media")
	_, err := Restore(src, dst, Replace, Options{})
	require.NoError(t, err)
	assert.Equal(t, "new-c", read(t, dst, "docs/c.pdf"))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("KEEP-EXISTING")
	require.NoError(t, err)
	assert.Equal(t, KeepExisting, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Replace, s)

	_, err = ParseStrategy("overwrite")
	assert.Error(t, err)
}
