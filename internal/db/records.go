package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
)

// RecordFormat is the serialisation used for record group files.
const RecordFormat = "json"

// DefaultSkipGroups are bookkeeping tables that carry no business data.
var DefaultSkipGroups = []string{
	"auth_permission",
	"auth_group_permissions",
	"django_session",
	"django_admin_log",
	"django_content_type",
	"sessions",
}

// Records exports every record group of a database to its own JSON file and
// loads them back. One group failing does not stop the others.
type Records struct {
	deps Deps
}

func NewRecords(deps Deps) *Records { return &Records{deps: deps} }

func (r *Records) Name() string { return TagRecords }

func (r *Records) Capabilities() Capabilities { return Capabilities{} }

func (r *Records) TargetDir(config.DatabaseConfig) string { return "" }

func (r *Records) Validate(config.DatabaseConfig) error {
	if r.deps.Records == nil {
		return errs.Configuration("no record store is available for the %s engine", TagRecords)
	}
	return nil
}

func skipSet(cfg config.DatabaseConfig) map[string]bool {
	skip := make(map[string]bool, len(DefaultSkipGroups)+len(cfg.SkipGroups))
	for _, g := range DefaultSkipGroups {
		skip[g] = true
	}
	for _, g := range cfg.SkipGroups {
		skip[strings.ToLower(g)] = true
	}
	return skip
}

func (r *Records) Dump(ctx context.Context, destDir, alias string, cfg config.DatabaseConfig) (*DumpResult, error) {
	if err := r.Validate(cfg); err != nil {
		return nil, err
	}
	groups, err := r.deps.Records.Groups(ctx, alias)
	if err != nil {
		return nil, errs.Resource("list record groups", err)
	}
	skip := skipSet(cfg)
	res := &DumpResult{
		Component: &manifest.Database{Engine: TagRecords, Alias: alias, Format: RecordFormat, Files: []string{}},
		Checksums: map[string]string{},
	}
	for _, group := range groups {
		if skip[strings.ToLower(group)] {
			continue
		}
		name := group + "." + RecordFormat
		size, sum, err := r.exportGroup(ctx, filepath.Join(destDir, name), alias, group)
		if err != nil {
			r.deps.Log.Error().Err(err).Str("group", group).Msg("record export failed")
			r.deps.Report.Printf(report.Verbose, "Warning: Failed to export %s: %v", group, err)
			res.Groups.Fail(group, err)
			res.Component.FailedGroups = append(res.Component.FailedGroups, group)
			continue
		}
		res.Groups.Succeed(group)
		res.Component.Files = append(res.Component.Files, name)
		res.Component.Size += size
		res.Checksums[manifest.DatabaseFileKey(name)] = sum
	}
	sort.Strings(res.Component.Files)
	r.deps.Report.Printf(report.Verbose, "Database exported as records: %d groups", len(res.Groups.Succeeded))
	return res, nil
}

func (r *Records) exportGroup(ctx context.Context, path, alias, group string) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, "", err
	}
	err = r.deps.Records.Export(ctx, alias, group, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", err
	}
	sum, err := checksum.File(path)
	if err != nil {
		return 0, "", err
	}
	return info.Size(), sum, nil
}

// Restore loads every listed file. All files must be present before any is
// loaded; a file that fails to load is reported and the rest continue.
func (r *Records) Restore(ctx context.Context, srcDir, alias string, component *manifest.Database, cfg config.DatabaseConfig) (*RestoreResult, error) {
	if err := r.Validate(cfg); err != nil {
		return nil, err
	}
	if component == nil || len(component.Files) == 0 {
		return nil, errs.NotFound("No record files found in backup manifest")
	}
	for _, name := range component.Files {
		if _, err := os.Stat(filepath.Join(srcDir, name)); err != nil {
			return nil, errs.NotFound("Database file not found in backup: %s", name)
		}
	}

	r.deps.Report.Printf(report.Normal, "Restoring database from record files...")
	res := &RestoreResult{}
	for _, name := range component.Files {
		group := strings.TrimSuffix(name, filepath.Ext(name))
		r.deps.Report.Printf(report.Verbose, "Loading data for %s...", group)
		n, err := r.loadFile(ctx, filepath.Join(srcDir, name), alias)
		if err != nil {
			r.deps.Log.Error().Err(err).Str("group", group).Msg("record load failed")
			r.deps.Report.Printf(report.Verbose, "Warning: Failed to load data for %s: %v", group, err)
			res.Loaded.Fail(name, err)
			continue
		}
		r.deps.Report.Printf(report.Debug, "%s: %d records", group, n)
		res.Loaded.Succeed(name)
	}
	r.deps.Report.Printf(report.Verbose, "Database restoration from record files completed: %d/%d loaded",
		len(res.Loaded.Succeeded), len(component.Files))
	return res, nil
}

func (r *Records) loadFile(ctx context.Context, path, alias string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := r.deps.Records.Load(ctx, alias, filepath.Base(path), f)
	if err != nil {
		return n, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
