package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/site-backup/internal/archive"
	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/compress"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/db"
	"github.com/rowjay/site-backup/internal/diskspace"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/lock"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/media"
	"github.com/rowjay/site-backup/internal/report"
)

const confirmQuestion = "This will overwrite your current database and media files. Are you sure you want to continue?"

type RestoreOptions struct {
	Path               string `validate:"required"`
	Database           string
	SkipDatabase       bool
	SkipMedia          bool
	SkipFixtures       bool
	SkipIntegrityCheck bool
	// Force skips the confirmation prompt.
	Force         bool
	MediaStrategy string `validate:"omitempty,oneof=replace merge keep-existing keep_existing"`
	// Passphrase unlocks encrypted artifacts; the configured one is used when empty.
	Passphrase string
}

type RestoreResult struct {
	// Cancelled is set when the operator declined the confirmation.
	Cancelled bool
	Manifest  *manifest.Manifest
	Database  *db.RestoreResult
	Media     *media.RestoreResult
	Fixtures  batch.Result[string]
	Duration  time.Duration
}

// Warnings counts the partial failures of the run.
func (r *RestoreResult) Warnings() int {
	if r == nil {
		return 0
	}
	n := len(r.Fixtures.Failed)
	if r.Database != nil {
		n += len(r.Database.Loaded.Failed)
	}
	if r.Media != nil {
		n += len(r.Media.Copied.Failed) + len(r.Media.Cleared.Failed)
	}
	return n
}

// restorePlan is everything checked before the first destructive step.
type restorePlan struct {
	opts     RestoreOptions
	alias    string
	strategy media.Strategy
	// root is the extracted archive tree inside the staging directory.
	root     string
	manifest *manifest.Manifest
	engine   db.Engine
	dbCfg    config.DatabaseConfig
	restDB   bool
	restMed  bool
}

// Restore unpacks the artifact at opts.Path and writes its components back
// into the live database and media root. Integrity, component presence and
// disk space are all checked before anything live is touched.
func (a *App) Restore(ctx context.Context, opts RestoreOptions) (res *RestoreResult, err error) {
	start := a.now()
	plan := &restorePlan{opts: opts, alias: a.alias(opts.Database)}
	defer func() {
		sum := summary{alias: plan.alias, artifact: opts.Path, warnings: res.Warnings()}
		if plan.engine != nil {
			sum.engine = plan.engine.Name()
		}
		if plan.manifest != nil {
			sum.bytes = plan.manifest.RestoreSize(plan.restDB, plan.restMed)
			if plan.restMed && plan.manifest.Components.Media != nil {
				sum.files = plan.manifest.Components.Media.TotalFiles
			}
		}
		a.complete("restore", start, sum, res != nil && res.Cancelled, err)
	}()

	if err := validate.Struct(opts); err != nil {
		return nil, invalidOptions("restore", err)
	}
	strategyName := opts.MediaStrategy
	if strategyName == "" {
		strategyName = a.Cfg.Restore.MediaStrategy
	}
	strategy, err := media.ParseStrategy(strategyName)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "invalid media strategy", err)
	}
	plan.strategy = strategy

	if _, err := os.Stat(opts.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("Backup file not found: %s", opts.Path)
		}
		return nil, errs.Resource("stat backup file", err)
	}

	if !opts.Force {
		if a.Confirm == nil {
			return nil, errs.Configuration("restore needs confirmation; run it interactively or force it")
		}
		ok, err := a.Confirm(confirmQuestion)
		if err != nil {
			return nil, errs.New(errs.KindConfiguration, "read confirmation", err)
		}
		if !ok {
			a.Report.Printf(report.Quiet, "Restoration cancelled.")
			return &RestoreResult{Cancelled: true}, nil
		}
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	stage, err := os.MkdirTemp(a.Cfg.Global.TempDir, "sbu-restore-*")
	if err != nil {
		return nil, errs.Resource("create staging directory", err)
	}
	defer os.RemoveAll(stage)

	root, err := a.unpack(ctx, stage, opts.Path, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	plan.root = root
	m, data, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}
	plan.manifest = m
	res = &RestoreResult{Manifest: m}

	if opts.SkipIntegrityCheck {
		a.Report.Printf(report.Normal, "Warning: Skipping backup integrity check.")
	} else if err := manifest.Validate(root, data, a.Report); err != nil {
		return res, err
	}

	if err := a.planRestore(plan); err != nil {
		return res, err
	}
	if err := a.checkRestoreSpace(plan); err != nil {
		return res, err
	}

	if plan.restDB {
		a.Report.Printf(report.Normal, "Restoring database...")
		loaded, err := plan.engine.Restore(ctx, filepath.Join(plan.root, manifest.DirDatabase), plan.alias, m.Components.Database, plan.dbCfg)
		if err != nil {
			return res, errs.Wrap(errs.KindResource, "Database restoration failed", err)
		}
		res.Database = loaded
		for _, f := range loaded.Loaded.Failed {
			a.Report.Printf(report.Normal, "Warning: Failed to restore %s: %v", f.Item, f.Err)
		}
		a.Report.Printf(report.Normal, "Database restoration completed")
	}

	if plan.restMed {
		restored, err := a.restoreMedia(plan)
		res.Media = restored
		if err != nil {
			return res, err
		}
	}

	if !opts.SkipFixtures {
		fixtures, err := a.restoreFixtures(ctx, plan)
		res.Fixtures = fixtures
		if err != nil {
			return res, err
		}
	}

	res.Duration = a.now().Sub(start)
	a.Report.Printf(report.Normal, "Restoration completed in %.2f seconds", res.Duration.Seconds())
	a.Report.Printf(report.Normal, "Restoration completed successfully")
	return res, nil
}

// unpack decrypts the artifact when its name carries an encryption suffix
// and extracts it below stage. It returns the extracted tree.
func (a *App) unpack(ctx context.Context, stage, path, passphrase string) (string, error) {
	archivePath := path
	if method, ok := cryptoutil.MethodFromName(path); ok {
		env, err := a.envelope(method, "", passphrase)
		if err != nil {
			return "", err
		}
		a.Report.Printf(report.Normal, "Decrypting backup...")
		archivePath = filepath.Join(stage, "decrypted_backup")
		// Without a known archive suffix the extractor sniffs the content.
		if kind, ok := compress.FromName(cryptoutil.StripSuffix(filepath.Base(path))); ok {
			archivePath += compress.Extension(kind)
		}
		if err := env.Decrypt(ctx, path, archivePath); err != nil {
			return "", errs.Wrap(errs.KindTool, "Decryption failed", err)
		}
	}

	a.Report.Printf(report.Normal, "Extracting backup...")
	root := filepath.Join(stage, "extracted")
	if _, err := archive.Extract(archivePath, root, archive.ExtractOptions{
		ProgressEvery: a.Cfg.Media.ProgressEvery,
		Report:        a.Report,
	}); err != nil {
		return "", err
	}
	if archivePath != path {
		_ = os.Remove(archivePath)
	}
	return root, nil
}

func (a *App) planRestore(plan *restorePlan) error {
	m := plan.manifest
	opts := plan.opts

	if !opts.SkipDatabase {
		if m.Components.Database == nil {
			return errs.NotFound("Database component not found in backup manifest")
		}
		dbCfg, err := a.databaseConfig(plan.alias)
		if err != nil {
			return err
		}
		engine := db.ForTag(m.Components.Database.Engine, a.engineDeps())
		if engine.Name() != db.TagRecords && engine.Name() != db.Tag(dbCfg.Engine) {
			return errs.Configuration("backup holds a %s database but alias %q is configured as %s",
				engine.Name(), plan.alias, dbCfg.Engine)
		}
		if err := engine.Validate(dbCfg); err != nil {
			return err
		}
		plan.engine = engine
		plan.dbCfg = dbCfg
		plan.restDB = true
	}

	if !opts.SkipMedia {
		if m.Components.Media == nil {
			return errs.NotFound("Media component not found in backup manifest")
		}
		if info, err := os.Stat(filepath.Join(plan.root, manifest.DirMedia)); err != nil || !info.IsDir() {
			return errs.NotFound("Media directory not found in backup")
		}
		if a.Cfg.Media.Root == "" {
			return errs.Configuration("media.root is not configured")
		}
		plan.restMed = true
	}
	return nil
}

func (a *App) checkRestoreSpace(plan *restorePlan) error {
	if !plan.restDB && !plan.restMed {
		return nil
	}
	a.Report.Printf(report.Normal, "Verifying disk space...")
	margin := a.Cfg.Restore.DiskMarginPercent
	if margin == 0 {
		margin = diskspace.DefaultMarginPercent
	}
	required := diskspace.Required(plan.manifest.RestoreSize(plan.restDB, plan.restMed), margin)

	if plan.restMed {
		if err := diskspace.Check(a.FreeSpace, a.Cfg.Media.Root, required, "media restore"); err != nil {
			return err
		}
	}
	if plan.restDB && plan.engine.Capabilities().LocalFile {
		if dir := plan.engine.TargetDir(plan.dbCfg); dir != "" {
			if err := diskspace.Check(a.FreeSpace, dir, required, "database restore"); err != nil {
				return err
			}
		}
	}
	a.Report.Printf(report.Verbose, "Disk space verification completed. Required: %s", humanize.IBytes(uint64(required)))
	return nil
}

func (a *App) restoreMedia(plan *restorePlan) (*media.RestoreResult, error) {
	a.Report.Printf(report.Normal, "Restoring media files...")
	if plan.strategy == media.Replace {
		a.Report.Printf(report.Verbose, "Removing existing media files...")
	}
	res, err := media.Restore(filepath.Join(plan.root, manifest.DirMedia), a.Cfg.Media.Root, plan.strategy, media.Options{
		ProgressEvery: a.Cfg.Media.ProgressEvery,
		Progress: func(n int) {
			a.Report.Printf(report.Verbose, "Copied %d files...", n)
		},
	})
	if err != nil {
		return res, errs.Resource("Media restoration failed", err)
	}
	for _, f := range res.Cleared.Failed {
		a.Report.Printf(report.Normal, "Warning: Failed to remove %s: %v", f.Item, f.Err)
	}
	for _, f := range res.Copied.Failed {
		a.Log.Warn().Err(f.Err).Str("file", f.Item).Msg("media restore failed")
		a.Report.Printf(report.Verbose, "Warning: Failed to restore %s: %v", f.Item, f.Err)
	}
	a.Report.Printf(report.Verbose, "Files copied: %d, skipped: %d", len(res.Copied.Succeeded), len(res.Copied.Skipped))
	a.Report.Printf(report.Normal, "Media files restoration completed")
	return res, nil
}

// restoreFixtures loads each fixture file listed in the manifest through the
// record store of the restored alias. A file that fails to load is reported
// and the rest continue.
func (a *App) restoreFixtures(ctx context.Context, plan *restorePlan) (batch.Result[string], error) {
	var res batch.Result[string]
	a.Report.Printf(report.Normal, "Restoring fixtures...")
	component := plan.manifest.Components.Fixtures
	if component == nil {
		a.Report.Printf(report.Verbose, "No fixtures found in backup manifest. Skipping.")
		return res, nil
	}
	dir := filepath.Join(plan.root, manifest.DirFixtures)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return res, errs.NotFound("Fixtures directory not found in backup")
	}
	if a.Records == nil {
		return res, errs.Configuration("no record store available to load fixtures")
	}

	for _, rel := range component.Files {
		err := a.loadFixture(ctx, filepath.Join(dir, filepath.FromSlash(rel)), plan.alias)
		if err != nil {
			a.Log.Warn().Err(err).Str("fixture", rel).Msg("fixture load failed")
			a.Report.Printf(report.Normal, "Warning: Failed to load fixture %s: %v", rel, err)
			res.Fail(rel, err)
			continue
		}
		res.Succeed(rel)
	}
	a.Report.Printf(report.Normal, "Fixtures restoration completed: %d/%d loaded", len(res.Succeeded), len(component.Files))
	return res, nil
}

func (a *App) loadFixture(ctx context.Context, path, alias string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = a.Records.Load(ctx, alias, filepath.Base(path), f)
	return err
}
