package app

import (
	"context"
	"os"
	"sort"

	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/db"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
	"github.com/rowjay/site-backup/internal/storage"
)

// Verify unpacks an artifact into a scratch directory and checks every
// checksum its manifest lists. Nothing live is touched.
func (a *App) Verify(ctx context.Context, path, passphrase string) (*manifest.Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("Backup file not found: %s", path)
		}
		return nil, errs.Resource("stat backup file", err)
	}
	stage, err := os.MkdirTemp(a.Cfg.Global.TempDir, "sbu-verify-*")
	if err != nil {
		return nil, errs.Resource("create staging directory", err)
	}
	defer os.RemoveAll(stage)

	root, err := a.unpack(ctx, stage, path, passphrase)
	if err != nil {
		return nil, err
	}
	m, data, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(root, data, a.Report); err != nil {
		return m, err
	}
	return m, nil
}

// List returns the artifacts in the configured output directory, newest first.
func (a *App) List(ctx context.Context) ([]storage.Archive, error) {
	archives, err := storage.NewLocal(a.outputDir()).List(ctx)
	if err != nil {
		return nil, errs.Resource("list backups", err)
	}
	return archives, nil
}

// Prune applies the configured retention policy to the output directory.
func (a *App) Prune(ctx context.Context) (batch.Result[string], error) {
	policy := a.Cfg.Backup.RetentionPolicy
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return batch.Result[string]{}, errs.Configuration("no retention policy configured (backup.retention.keep_last or keep_days)")
	}
	res, err := a.applyRetention(ctx, a.outputDir())
	if err != nil {
		return res, errs.Resource("prune backups", err)
	}
	return res, nil
}

func (a *App) outputDir() string {
	if a.Cfg.Backup.OutputDir == "" {
		return "."
	}
	return a.Cfg.Backup.OutputDir
}

// CheckResult is one line of the environment check.
type CheckResult struct {
	Name string
	Err  error
}

// Check probes what a backup would need: each configured database with its
// tools and connectivity, the media root and the encryption setup. It
// returns one entry per probe and never stops at the first failure.
func (a *App) Check(ctx context.Context) []CheckResult {
	var out []CheckResult
	aliases := make([]string, 0, len(a.Cfg.Databases))
	for alias := range a.Cfg.Databases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	deps := a.engineDeps()
	for _, alias := range aliases {
		cfg := a.Cfg.Databases[alias]
		engine := db.NewEngine(cfg.Engine, deps)
		err := engine.Validate(cfg)
		if err == nil {
			err = db.Ping(ctx, cfg)
		}
		out = append(out, CheckResult{Name: "database " + alias + " (" + engine.Name() + ")", Err: err})
	}

	if root := a.Cfg.Media.Root; root != "" {
		var err error
		if info, serr := os.Stat(root); serr != nil {
			err = errs.NotFound("media root not found: %s", root)
		} else if !info.IsDir() {
			err = errs.Configuration("media root is not a directory: %s", root)
		}
		out = append(out, CheckResult{Name: "media " + root, Err: err})
	}

	if a.Cfg.Backup.Encryption {
		env, err := a.envelope("", "", "")
		if err == nil {
			err = env.Preflight()
		}
		name := "encryption"
		if env != nil {
			name += " (" + env.Method() + ")"
		}
		out = append(out, CheckResult{Name: name, Err: err})
	}

	for _, r := range out {
		if r.Err != nil {
			a.Report.Printf(report.Normal, "%s: failed: %v", r.Name, r.Err)
		} else {
			a.Report.Printf(report.Verbose, "%s: ok", r.Name)
		}
	}
	return out
}
