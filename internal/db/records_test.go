package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
)

// memStore is an in-memory RecordStore. Groups listed in broken fail to
// export and files listed in broken fail to load.
type memStore struct {
	mu     sync.Mutex
	groups []string
	broken map[string]bool
	loaded map[string]string
}

func (m *memStore) Groups(context.Context, string) ([]string, error) {
	return m.groups, nil
}

func (m *memStore) Export(_ context.Context, _, group string, w io.Writer) error {
	if m.broken[group] {
		return errors.New("permission denied for table " + group)
	}
	_, err := fmt.Fprintf(w, `[{"model":%q,"pk":1,"fields":{}}]`, group)
	return err
}

func (m *memStore) Load(_ context.Context, _, name string, r io.Reader) (int, error) {
	if m.broken[name] {
		return 0, errors.New("constraint violation")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == nil {
		m.loaded = map[string]string{}
	}
	m.loaded[name] = string(data)
	return 1, nil
}

func TestRecordsDumpSkipsAndContinues(t *testing.T) {
	store := &memStore{
		groups: []string{"tasks_task", "django_session", "audit_log", "tasks_tag", "billing_invoice"},
		broken: map[string]bool{"tasks_tag": true},
	}
	rec := &report.Recorder{}
	eng := NewEngine("oracle", Deps{Records: store, Report: report.New(report.Verbose, rec)})
	require.Equal(t, TagRecords, eng.Name())

	stage := t.TempDir()
	res, err := eng.Dump(context.Background(), stage, "default", config.DatabaseConfig{SkipGroups: []string{"Audit_Log"}})
	require.NoError(t, err)

	assert.Equal(t, RecordFormat, res.Component.Format)
	assert.Equal(t, []string{"billing_invoice.json", "tasks_task.json"}, res.Component.Files)
	assert.Equal(t, []string{"tasks_tag"}, res.Component.FailedGroups)
	require.Len(t, res.Groups.Failed, 1)
	assert.Equal(t, "tasks_tag", res.Groups.Failed[0].Item)

	assert.Contains(t, res.Checksums, manifest.DatabaseFileKey("tasks_task.json"))
	assert.Contains(t, res.Checksums, manifest.DatabaseFileKey("billing_invoice.json"))
	assert.Len(t, res.Checksums, 2)
	assert.NoFileExists(t, filepath.Join(stage, "tasks_tag.json"))
	assert.NoFileExists(t, filepath.Join(stage, "django_session.json"))
	assert.Contains(t, rec.Text(), "Warning: Failed to export tasks_tag")
}

func TestRecordsRestoreContinuesPastFailedFile(t *testing.T) {
	stage := t.TempDir()
	for _, n := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(stage, n), []byte("[]"), 0o600))
	}
	store := &memStore{broken: map[string]bool{"b.json": true}}
	eng := NewRecords(Deps{Records: store})

	res, err := eng.Restore(context.Background(), stage, "default",
		&manifest.Database{Engine: TagRecords, Files: []string{"a.json", "b.json", "c.json"}}, config.DatabaseConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "c.json"}, res.Loaded.Succeeded)
	require.Len(t, res.Loaded.Failed, 1)
	assert.Equal(t, "b.json", res.Loaded.Failed[0].Item)
	assert.Len(t, store.loaded, 2)
}

func TestRecordsRestoreRequiresAllFiles(t *testing.T) {
	stage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stage, "a.json"), []byte("[]"), 0o600))
	store := &memStore{}
	eng := NewRecords(Deps{Records: store})

	_, err := eng.Restore(context.Background(), stage, "default",
		&manifest.Database{Engine: TagRecords, Files: []string{"a.json", "missing.json"}}, config.DatabaseConfig{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Empty(t, store.loaded)

	_, err = eng.Restore(context.Background(), stage, "default", &manifest.Database{Engine: TagRecords}, config.DatabaseConfig{})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRecordsRequiresStore(t *testing.T) {
	eng := NewRecords(Deps{})
	assert.True(t, errs.Is(eng.Validate(config.DatabaseConfig{}), errs.KindConfiguration))
}
