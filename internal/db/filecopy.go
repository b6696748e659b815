package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
	"github.com/rowjay/site-backup/internal/util"
)

const backupSuffix = ".bak"

// FileCopy backs up single-file databases such as SQLite by copying the file.
type FileCopy struct {
	deps Deps
}

func NewFileCopy(deps Deps) *FileCopy { return &FileCopy{deps: deps} }

func (f *FileCopy) Name() string { return TagSQLite }

func (f *FileCopy) Capabilities() Capabilities {
	return Capabilities{ExclusiveRestore: true, LocalFile: true}
}

func (f *FileCopy) Validate(cfg config.DatabaseConfig) error {
	if cfg.Path == "" {
		return errs.Configuration("database path is required for the %s engine", TagSQLite)
	}
	return nil
}

func (f *FileCopy) TargetDir(cfg config.DatabaseConfig) string {
	if cfg.Path == "" {
		return ""
	}
	return filepath.Dir(cfg.Path)
}

func (f *FileCopy) Dump(_ context.Context, destDir, alias string, cfg config.DatabaseConfig) (*DumpResult, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("database file not found: %s", cfg.Path)
		}
		return nil, errs.Resource("stat database file", err)
	}
	name := filepath.Base(cfg.Path)
	dst := filepath.Join(destDir, name)
	if err := util.CopyFile(cfg.Path, dst); err != nil {
		return nil, errs.Resource("copy database file", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, errs.Resource("stat database copy", err)
	}
	sum, err := checksum.File(dst)
	if err != nil {
		return nil, errs.Resource("checksum database copy", err)
	}
	f.deps.Report.Printf(report.Verbose, "SQLite database backed up: %s", name)
	return &DumpResult{
		Component: &manifest.Database{Engine: TagSQLite, Alias: alias, File: name, Size: info.Size()},
		Checksums: map[string]string{manifest.DatabaseKey: sum},
	}, nil
}

// Restore replaces the database file. Live connections are closed, then the
// current file is copied to a .bak sidecar, which is copied back if the
// replacement fails.
func (f *FileCopy) Restore(_ context.Context, srcDir, alias string, component *manifest.Database, cfg config.DatabaseConfig) (*RestoreResult, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}
	if component == nil || component.File == "" {
		return nil, errs.Integrity("database component names no file")
	}
	src := filepath.Join(srcDir, component.File)
	if _, err := os.Stat(src); err != nil {
		return nil, errs.NotFound("Database file not found in backup: %s", component.File)
	}

	f.deps.Report.Printf(report.Normal, "Restoring SQLite database...")
	closeConnections(f.deps, alias)

	dst := cfg.Path
	sidecar := dst + backupSuffix
	hasSidecar := false
	if _, err := os.Stat(dst); err == nil {
		f.deps.Report.Printf(report.Verbose, "Creating backup of existing database: %s", sidecar)
		if err := util.CopyFile(dst, sidecar); err != nil {
			return nil, errs.Resource("back up existing database", err)
		}
		hasSidecar = true
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return nil, errs.Resource("create database directory", err)
	}
	f.deps.Report.Printf(report.Verbose, "Copying database file from backup...")
	if err := util.CopyFile(src, dst); err != nil {
		if hasSidecar {
			f.deps.Report.Printf(report.Verbose, "Restoration failed. Restoring from backup...")
			if rbErr := util.CopyFile(sidecar, dst); rbErr != nil {
				f.deps.Log.Error().Err(rbErr).Str("path", dst).Msg("rolling back database file failed")
			}
		}
		return nil, errs.Resource(fmt.Sprintf("SQLite restoration failed for %s", dst), err)
	}
	f.deps.Report.Printf(report.Verbose, "SQLite database restored successfully")
	res := &RestoreResult{}
	res.Loaded.Succeed(component.File)
	return res, nil
}
