package cryptoutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/site-backup/internal/errs"
)

func writeArchive(t *testing.T, dir string) (string, []byte) {
	t.Helper()
	payload := []byte(strings.Repeat("tar payload block ", 4096))
	path := filepath.Join(dir, "backup_1.tar.gz")
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path, payload
}

func TestDAREPassphraseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src, payload := writeArchive(t, dir)
	env := DARE{Passphrase: "correct horse"}
	enc := src + env.Suffix()

	require.NoError(t, env.Encrypt(context.Background(), src, enc))
	sealed, err := os.ReadFile(enc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(sealed, []byte(dareMagic)))
	assert.NotContains(t, string(sealed), "tar payload block")

	out := filepath.Join(dir, "decrypted.tar.gz")
	require.NoError(t, env.Decrypt(context.Background(), enc, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDAREWrongPassphraseIsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeArchive(t, dir)
	enc := src + SuffixDARE
	require.NoError(t, DARE{Passphrase: "right"}.Encrypt(context.Background(), src, enc))

	out := filepath.Join(dir, "decrypted.tar.gz")
	err := DARE{Passphrase: "wrong"}.Decrypt(context.Background(), enc, out)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIntegrity), "got %v", err)
	assert.Contains(t, err.Error(), "wrong passphrase or key")
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".partial")
}

func TestDARERawKey(t *testing.T) {
	dir := t.TempDir()
	src, payload := writeArchive(t, dir)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	enc := src + SuffixDARE
	require.NoError(t, DARE{Key: key}.Encrypt(context.Background(), src, enc))

	err = DARE{Passphrase: "not the key"}.Decrypt(context.Background(), enc, filepath.Join(dir, "x"))
	assert.True(t, errs.Is(err, errs.KindConfiguration), "got %v", err)

	out := filepath.Join(dir, "plain.tar.gz")
	require.NoError(t, DARE{Key: key}.Decrypt(context.Background(), enc, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDARERejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeArchive(t, dir)
	err := DARE{Passphrase: "x"}.Decrypt(context.Background(), src, filepath.Join(dir, "out"))
	assert.True(t, errs.Is(err, errs.KindIntegrity), "got %v", err)
}

func TestDAREPreflight(t *testing.T) {
	assert.True(t, errs.Is(DARE{}.Preflight(), errs.KindConfiguration))
	assert.True(t, errs.Is(DARE{Key: []byte("short")}.Preflight(), errs.KindConfiguration))
	assert.NoError(t, DARE{Passphrase: "p"}.Preflight())
}

func TestMethodAndSuffix(t *testing.T) {
	m, ok := MethodFromName("backup_1.tar.gz.gpg")
	assert.True(t, ok)
	assert.Equal(t, MethodGPG, m)

	m, ok = MethodFromName("backup_1.tar.enc")
	assert.True(t, ok)
	assert.Equal(t, MethodDARE, m)

	_, ok = MethodFromName("backup_1.tar.gz")
	assert.False(t, ok)

	assert.Equal(t, "backup_1.tar.gz", StripSuffix("backup_1.tar.gz.gpg"))
	assert.Equal(t, "backup_1.tar", StripSuffix("backup_1.tar.ENC"))
	assert.Equal(t, "backup_1.tar", StripSuffix("backup_1.tar"))
}

func TestGPGSymmetricWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	src, _ := writeArchive(t, dir)
	err := GPG{}.Encrypt(context.Background(), src, src+SuffixGPG)
	assert.True(t, errs.Is(err, errs.KindConfiguration), "got %v", err)
	assert.FileExists(t, src)
}

func TestGPGMissingBinary(t *testing.T) {
	g := GPG{Binary: "sbu-no-such-gpg", Passphrase: "p"}
	assert.True(t, errs.Is(g.Preflight(), errs.KindToolNotFound))

	dir := t.TempDir()
	src, _ := writeArchive(t, dir)
	err := g.Encrypt(context.Background(), src, src+SuffixGPG)
	assert.True(t, errs.Is(err, errs.KindToolNotFound), "got %v", err)
}

func requireGPG(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("gpg")
	if err != nil {
		t.Skip("gpg not installed")
	}
	return path
}

func TestGPGSymmetricRoundTrip(t *testing.T) {
	requireGPG(t)
	dir := t.TempDir()
	home := filepath.Join(dir, "gnupg")
	require.NoError(t, os.Mkdir(home, 0o700))

	src, payload := writeArchive(t, dir)
	enc := src + SuffixGPG
	g := GPG{Passphrase: "s3cret", Homedir: home}
	require.NoError(t, g.Encrypt(context.Background(), src, enc))

	out := filepath.Join(dir, "decrypted.tar.gz")
	require.NoError(t, g.Decrypt(context.Background(), enc, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// A separate homedir gets its own agent, so no cached passphrase applies.
	other := filepath.Join(dir, "gnupg-other")
	require.NoError(t, os.Mkdir(other, 0o700))
	bad := GPG{Passphrase: "wrong", Homedir: other}
	err = bad.Decrypt(context.Background(), enc, filepath.Join(dir, "bad.tar.gz"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTool), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, "bad.tar.gz"))
}

func TestGPGRecipientRoundTrip(t *testing.T) {
	bin := requireGPG(t)
	dir := t.TempDir()
	home := filepath.Join(dir, "gnupg")
	require.NoError(t, os.Mkdir(home, 0o700))

	gen := exec.Command(bin, "--batch", "--homedir", home, "--pinentry-mode", "loopback", "--passphrase", "",
		"--quick-generate-key", "backup@example.test", "default", "default", "never")
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test key: %v: %s", err, out)
	}

	src, payload := writeArchive(t, dir)
	enc := src + SuffixGPG
	g := GPG{Recipient: "backup@example.test", Homedir: home}
	require.NoError(t, g.Encrypt(context.Background(), src, enc))

	out := filepath.Join(dir, "decrypted.tar.gz")
	require.NoError(t, GPG{Homedir: home}.Decrypt(context.Background(), enc, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
