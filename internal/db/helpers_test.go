package db

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowjay/site-backup/internal/config"
)

func configWithPath(path string) config.DatabaseConfig {
	return config.DatabaseConfig{Engine: "sqlite", Path: path}
}

// recordingCloser remembers which aliases had their connections closed.
type recordingCloser struct {
	mu      sync.Mutex
	aliases []string
	onClose func()
}

func (r *recordingCloser) CloseConnections(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases = append(r.aliases, alias)
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}

// fakeTools writes executable shell scripts into a fresh directory and puts
// it first on PATH.
func fakeTools(t *testing.T, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body), 0o755))
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}
