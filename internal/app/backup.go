package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rowjay/site-backup/internal/archive"
	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/compress"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/db"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/lock"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/media"
	"github.com/rowjay/site-backup/internal/report"
	"github.com/rowjay/site-backup/internal/storage"
	"github.com/rowjay/site-backup/internal/util"
	"github.com/rowjay/site-backup/internal/version"
)

type BackupOptions struct {
	OutputDir string
	// Filename is the archive stem; backup_<timestamp> when empty.
	Filename         string `validate:"omitempty,excludesall=/\\"`
	Compress         bool
	Compression      string `validate:"omitempty,oneof=gzip gz zstd zst lz4 none"`
	CompressionLevel int    `validate:"omitempty,min=1,max=9"`
	SkipDatabase     bool
	SkipMedia        bool
	IncludeFixtures  bool
	Database         string
	Encrypt          bool
	// EncryptionMethod overrides encryption.method.
	EncryptionMethod string `validate:"omitempty,oneof=gpg dare"`
	// Recipient selects public key encryption; without it gpg encrypts
	// symmetrically with Passphrase.
	Recipient  string
	Passphrase string
}

// DefaultBackupOptions returns options taken from the backup section of the
// configuration.
func (a *App) DefaultBackupOptions() BackupOptions {
	return BackupOptions{
		OutputDir:        a.Cfg.Backup.OutputDir,
		Compress:         a.Cfg.Backup.Compression != "" && a.Cfg.Backup.Compression != compress.TypeNone,
		Compression:      a.Cfg.Backup.Compression,
		CompressionLevel: a.Cfg.Backup.CompressionLevel,
		Database:         config.DefaultAlias,
		Encrypt:          a.Cfg.Backup.Encryption,
	}
}

type BackupResult struct {
	Path     string
	Size     int64
	Manifest *manifest.Manifest
	// Groups holds per-group outcomes of the records engine.
	Groups   batch.Result[string]
	Media    batch.Result[string]
	Fixtures batch.Result[string]
	Pruned   batch.Result[string]
	Duration time.Duration
}

// Warnings counts the partial failures of the run.
func (r *BackupResult) Warnings() int {
	if r == nil {
		return 0
	}
	return len(r.Groups.Failed) + len(r.Media.Failed) + len(r.Fixtures.Failed)
}

// backupPlan is the validated form of BackupOptions.
type backupPlan struct {
	opts        BackupOptions
	alias       string
	dbCfg       config.DatabaseConfig
	engine      db.Engine
	compression string
	level       int
	envelope    cryptoutil.Envelope
	outputDir   string
}

// Backup runs one backup and returns the path of the produced artifact. The
// whole run is retried up to backup.retry_count times on tool and resource
// failures; every attempt works in a fresh staging directory.
func (a *App) Backup(ctx context.Context, opts BackupOptions) (res *BackupResult, err error) {
	start := a.now()
	plan := &backupPlan{opts: opts, alias: a.alias(opts.Database)}
	defer func() {
		sum := summary{alias: plan.alias, warnings: res.Warnings()}
		if plan.engine != nil {
			sum.engine = plan.engine.Name()
		}
		if res != nil {
			sum.artifact = res.Path
			sum.bytes = res.Size
			if res.Manifest != nil && res.Manifest.Components.Media != nil {
				sum.files = res.Manifest.Components.Media.TotalFiles
			}
		}
		a.complete("backup", start, sum, false, err)
	}()

	if err := a.planBackup(plan); err != nil {
		return nil, err
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if err := os.MkdirAll(plan.outputDir, 0o750); err != nil {
		return nil, errs.Resource("create output directory", err)
	}

	attempt := 0
	err = util.RetryIf(ctx, a.Cfg.Backup.RetryCount, a.Cfg.Backup.RetryBackoff, retryable, func() error {
		attempt++
		if attempt > 1 {
			a.Report.Printf(report.Normal, "Retrying backup (attempt %d of %d)...", attempt, a.Cfg.Backup.RetryCount)
		}
		r, err := a.backupOnce(ctx, plan)
		if err != nil {
			a.Log.Warn().Err(err).Int("attempt", attempt).Msg("backup attempt failed")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	pruned, perr := a.applyRetention(ctx, plan.outputDir)
	if perr != nil {
		a.Log.Warn().Err(perr).Msg("retention pruning failed")
		a.Report.Printf(report.Verbose, "Warning: Retention pruning failed: %v", perr)
	}
	res.Pruned = pruned

	res.Duration = a.now().Sub(start)
	a.Report.Printf(report.Normal, "Backup completed in %.2f seconds", res.Duration.Seconds())
	a.Report.Printf(report.Normal, "Backup saved to: %s", res.Path)
	return res, nil
}

func (a *App) planBackup(plan *backupPlan) error {
	opts := plan.opts
	if err := validate.Struct(opts); err != nil {
		return invalidOptions("backup", err)
	}
	if opts.SkipDatabase && opts.SkipMedia && !opts.IncludeFixtures {
		return errs.Configuration("nothing to back up: database and media are skipped and fixtures are not included")
	}

	plan.compression = compress.TypeNone
	if opts.Compress {
		kind := opts.Compression
		if kind == "" || kind == compress.TypeNone {
			kind = compress.TypeGzip
		}
		normalized, err := compress.Normalize(kind)
		if err != nil {
			return errs.New(errs.KindConfiguration, "invalid compression", err)
		}
		plan.compression = normalized
	}
	plan.level = opts.CompressionLevel
	if plan.level == 0 {
		plan.level = a.Cfg.Backup.CompressionLevel
	}

	plan.outputDir = opts.OutputDir
	if plan.outputDir == "" {
		plan.outputDir = a.Cfg.Backup.OutputDir
	}
	if plan.outputDir == "" {
		plan.outputDir = "."
	}

	if !opts.SkipDatabase {
		dbCfg, err := a.databaseConfig(plan.alias)
		if err != nil {
			return err
		}
		engine := db.NewEngine(dbCfg.Engine, a.engineDeps())
		if err := engine.Validate(dbCfg); err != nil {
			return err
		}
		plan.dbCfg = dbCfg
		plan.engine = engine
	}

	if opts.Encrypt {
		env, err := a.envelope(opts.EncryptionMethod, opts.Recipient, opts.Passphrase)
		if err != nil {
			return err
		}
		if err := env.Preflight(); err != nil {
			return err
		}
		plan.envelope = env
	}
	return nil
}

func retryable(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindTool, errs.KindResource:
		return true
	default:
		return false
	}
}

func (a *App) backupOnce(ctx context.Context, plan *backupPlan) (*BackupResult, error) {
	stage, err := os.MkdirTemp(a.Cfg.Global.TempDir, "sbu-backup-*")
	if err != nil {
		return nil, errs.Resource("create staging directory", err)
	}
	defer os.RemoveAll(stage)

	now := a.now()
	m := manifest.New(uuid.NewString(), util.Timestamp(now), now.Format(time.RFC3339Nano), version.Version)
	res := &BackupResult{Manifest: m}

	if plan.engine != nil {
		if err := a.backupDatabase(ctx, stage, plan, m, res); err != nil {
			return nil, err
		}
	}
	if !plan.opts.SkipMedia {
		if err := a.backupMedia(stage, m, res); err != nil {
			return nil, err
		}
	}
	if plan.opts.IncludeFixtures {
		if err := a.backupFixtures(stage, m, res); err != nil {
			return nil, err
		}
	}

	if err := manifest.Seal(filepath.Join(stage, manifest.FileName), m); err != nil {
		return nil, err
	}

	stem := util.BuildArchiveStem(plan.opts.Filename, now)
	archivePath := util.BuildArchivePath(plan.outputDir, stem, compress.Extension(plan.compression))
	if plan.compression == compress.TypeNone {
		a.Report.Printf(report.Normal, "Creating uncompressed archive...")
	} else {
		a.Report.Printf(report.Normal, "Creating compressed archive...")
	}
	if err := archive.Pack(stage, archivePath, plan.compression, plan.level); err != nil {
		return nil, errs.Wrap(errs.KindResource, "Archive creation failed", err)
	}
	a.Report.Printf(report.Verbose, "Archive created: %s", filepath.Base(archivePath))

	res.Path = archivePath
	if plan.envelope != nil {
		a.Report.Printf(report.Normal, "Encrypting backup...")
		encrypted := archivePath + plan.envelope.Suffix()
		if err := plan.envelope.Encrypt(ctx, archivePath, encrypted); err != nil {
			// The plain archive stays behind so the run's output is not lost.
			return nil, errs.Wrap(errs.KindTool, "Encryption failed", err)
		}
		if err := os.Remove(archivePath); err != nil {
			a.Log.Warn().Err(err).Str("path", archivePath).Msg("removing unencrypted archive failed")
		}
		a.Report.Printf(report.Verbose, "Backup encrypted: %s", filepath.Base(encrypted))
		res.Path = encrypted
	}

	info, err := os.Stat(res.Path)
	if err != nil {
		return nil, errs.Resource("stat archive", err)
	}
	res.Size = info.Size()
	a.Report.Printf(report.Verbose, "Archive size: %s", humanize.IBytes(uint64(res.Size)))
	return res, nil
}

func (a *App) backupDatabase(ctx context.Context, stage string, plan *backupPlan, m *manifest.Manifest, res *BackupResult) error {
	a.Report.Printf(report.Normal, "Backing up database...")
	dir := filepath.Join(stage, manifest.DirDatabase)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errs.Resource("create staging directory", err)
	}
	dump, err := plan.engine.Dump(ctx, dir, plan.alias, plan.dbCfg)
	if err != nil {
		return errs.Wrap(errs.KindResource, "Database backup failed", err)
	}
	m.Components.Database = dump.Component
	for key, sum := range dump.Checksums {
		m.SetChecksum(key, sum)
	}
	res.Groups = dump.Groups
	return nil
}

func (a *App) backupMedia(stage string, m *manifest.Manifest, res *BackupResult) error {
	a.Report.Printf(report.Normal, "Backing up media files...")
	dst := filepath.Join(stage, manifest.DirMedia)
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return errs.Resource("create staging directory", err)
	}
	component := &manifest.Media{Path: manifest.DirMedia}
	m.Components.Media = component

	root := a.Cfg.Media.Root
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			a.Report.Printf(report.Verbose, "Media directory doesn't exist. Backing up an empty media tree.")
			return nil
		}
		return errs.Resource("read media root", err)
	}

	copied, err := media.CopyTree(root, dst, media.Options{
		Overwrite:     true,
		PruneDirs:     a.Cfg.Media.PruneDirs,
		SkipFile:      media.TempFile,
		ProgressEvery: a.Cfg.Media.ProgressEvery,
		Progress: func(n int) {
			a.Report.Printf(report.Verbose, "Copied %d files...", n)
		},
	})
	if err != nil {
		return errs.Resource("Media backup failed", err)
	}
	for _, f := range copied.Failed {
		a.Log.Warn().Err(f.Err).Str("file", f.Item).Msg("media copy failed")
		a.Report.Printf(report.Verbose, "Warning: Failed to copy %s: %v", f.Item, f.Err)
	}
	res.Media = copied
	component.TotalFiles = len(copied.Succeeded)
	component.TotalSize = media.TreeSize(dst, copied.Succeeded)
	component.FailedFiles = len(copied.Failed)
	a.Report.Printf(report.Verbose, "Media backup complete: %d files, %s",
		component.TotalFiles, humanize.IBytes(uint64(component.TotalSize)))
	return nil
}

// backupFixtures copies <app dir>/fixtures/*.<ext> of every configured app to
// fixtures/<label>/ and checksums each copy. The component is only recorded
// when at least one fixture was found.
func (a *App) backupFixtures(stage string, m *manifest.Manifest, res *BackupResult) error {
	a.Report.Printf(report.Normal, "Backing up fixtures...")
	exts := fixtureExtensions(a.Cfg.Fixtures.Extensions)
	labels := make([]string, 0, len(a.Cfg.Fixtures.AppDirs))
	for label := range a.Cfg.Fixtures.AppDirs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	component := &manifest.Fixtures{Path: manifest.DirFixtures, Files: []string{}}
	for _, label := range labels {
		if label == "" || label == "." || label == ".." || strings.ContainsAny(label, `/\`) {
			return errs.Configuration("invalid fixture app label %q", label)
		}
		src := filepath.Join(a.Cfg.Fixtures.AppDirs[label], "fixtures")
		entries, err := os.ReadDir(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errs.Resource(fmt.Sprintf("read fixtures of %s", label), err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !exts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			rel := label + "/" + e.Name()
			dst := filepath.Join(stage, manifest.DirFixtures, label, e.Name())
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return errs.Resource("create staging directory", err)
			}
			if err := util.CopyFile(filepath.Join(src, e.Name()), dst); err != nil {
				res.Fixtures.Fail(rel, err)
				a.Report.Printf(report.Verbose, "Warning: Failed to copy fixture %s: %v", rel, err)
				continue
			}
			sum, err := checksum.File(dst)
			if err != nil {
				return errs.Resource("checksum fixture", err)
			}
			info, err := os.Stat(dst)
			if err != nil {
				return errs.Resource("stat fixture", err)
			}
			m.SetChecksum(manifest.FixtureKey(rel), sum)
			component.Files = append(component.Files, rel)
			component.TotalFiles++
			component.TotalSize += info.Size()
			res.Fixtures.Succeed(rel)
		}
	}

	if component.TotalFiles == 0 {
		a.Report.Printf(report.Verbose, "No fixtures found")
		return nil
	}
	m.Components.Fixtures = component
	a.Report.Printf(report.Verbose, "Fixtures backup complete: %d files", component.TotalFiles)
	return nil
}

func fixtureExtensions(configured []string) map[string]bool {
	if len(configured) == 0 {
		configured = []string{".json", ".xml", ".yaml", ".yml"}
	}
	set := make(map[string]bool, len(configured))
	for _, e := range configured {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

func (a *App) applyRetention(ctx context.Context, dir string) (batch.Result[string], error) {
	policy := a.Cfg.Backup.RetentionPolicy
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return batch.Result[string]{}, nil
	}
	pruned, err := storage.NewLocal(dir).Prune(ctx, policy, a.now())
	for _, name := range pruned.Succeeded {
		a.Report.Printf(report.Verbose, "Removed expired backup: %s", name)
	}
	for _, f := range pruned.Failed {
		a.Report.Printf(report.Verbose, "Warning: Failed to remove expired backup %s: %v", f.Item, f.Err)
	}
	return pruned, err
}
