// Package app sequences the backup and restore runs: it owns the staging
// directory of each run and drives the database, media, fixture, manifest,
// archive and encryption components in order.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/db"
	"github.com/rowjay/site-backup/internal/diskspace"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/metrics"
	"github.com/rowjay/site-backup/internal/notify"
	"github.com/rowjay/site-backup/internal/report"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(question string) (bool, error)

type App struct {
	Cfg    *config.Config
	Log    zerolog.Logger
	Report *report.Reporter

	// Conns is closed per alias before a restore replaces database contents.
	Conns db.ConnCloser
	// Records serves the records engine and fixture loading.
	Records db.RecordStore

	Notifier notify.Notifier
	Metrics  *metrics.Recorder

	// Confirm is consulted before a restore unless it is forced. A nil
	// Confirm makes unforced restores fail.
	Confirm ConfirmFunc
	// FreeSpace overrides the free space lookup of the restore preflight.
	FreeSpace diskspace.FreeFunc
	Now       func() time.Time

	pool *db.Pool
}

// New wires an App with a connection pool over the configured databases,
// the SQL record store and the configured notifiers and metrics.
func New(cfg *config.Config, log zerolog.Logger, rep *report.Reporter) *App {
	pool := db.NewPool(cfg.Databases)
	a := &App{
		Cfg:     cfg,
		Log:     log,
		Report:  rep,
		Conns:   pool,
		Records: db.NewSQLStore(pool),
		pool:    pool,
	}
	if targets := notify.FromConfig(cfg.Notifications); !targets.Empty() {
		a.Notifier = targets
	}
	if cfg.Metrics.TextfilePath != "" {
		a.Metrics = metrics.New()
	}
	return a
}

// Close releases the database handles the App opened.
func (a *App) Close() error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Close()
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) engineDeps() db.Deps {
	return db.Deps{
		Conns:             a.Conns,
		Records:           a.Records,
		Report:            a.Report,
		Log:               a.Log,
		AllowMissingTools: a.Cfg.Global.AllowMissingTools,
	}
}

// envelope builds the encryption envelope for method, filling unset
// credentials from the encryption config.
func (a *App) envelope(method, recipient, passphrase string) (cryptoutil.Envelope, error) {
	enc := a.Cfg.Encryption
	if method == "" {
		method = enc.Method
	}
	if passphrase == "" {
		passphrase = enc.Passphrase
	}
	switch strings.ToLower(method) {
	case "", cryptoutil.MethodGPG:
		if recipient == "" {
			recipient = enc.Recipient
		}
		return cryptoutil.GPG{Binary: enc.GPGBinary, Recipient: recipient, Passphrase: passphrase, Homedir: enc.GPGHomedir}, nil
	case cryptoutil.MethodDARE:
		var key []byte
		if enc.Key != "" {
			k, err := cryptoutil.ParseKey(enc.Key)
			if err != nil {
				return nil, errs.New(errs.KindConfiguration, "invalid encryption key", err)
			}
			key = k
		}
		return cryptoutil.DARE{Key: key, Passphrase: passphrase}, nil
	default:
		return nil, errs.Configuration("unsupported encryption method: %s", method)
	}
}

func (a *App) alias(alias string) string {
	if alias == "" {
		return config.DefaultAlias
	}
	return alias
}

func (a *App) databaseConfig(alias string) (config.DatabaseConfig, error) {
	cfg, ok := a.Cfg.Database(alias)
	if !ok {
		return config.DatabaseConfig{}, errs.Configuration("database alias %q is not configured", alias)
	}
	return cfg, nil
}

// summary is what a finished run reports to notifiers and metrics.
type summary struct {
	alias    string
	engine   string
	artifact string
	bytes    int64
	files    int
	warnings int
}

func (a *App) complete(op string, start time.Time, sum summary, cancelled bool, err error) {
	end := a.now()
	status := notify.StatusSuccess
	switch {
	case cancelled:
		status = notify.StatusCancelled
	case err != nil:
		status = notify.StatusFailed
		a.Log.Error().Err(err).Str("operation", op).Str("kind", string(errs.KindOf(err))).Msg(op + " failed")
	}

	if a.Notifier != nil {
		ev := notify.Event{
			Type:      op,
			Status:    status,
			Message:   sum.artifact,
			Alias:     sum.alias,
			Engine:    sum.engine,
			Artifact:  sum.artifact,
			Size:      sum.bytes,
			Warnings:  sum.warnings,
			StartedAt: start,
			EndedAt:   end,
			Duration:  end.Sub(start).Round(time.Millisecond).String(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if nerr := a.Notifier.Notify(ctx, ev); nerr != nil {
			a.Log.Warn().Err(nerr).Str("operation", op).Msg("notification failed")
		}
		cancel()
	}

	if a.Metrics != nil {
		a.Metrics.Observe(metrics.Run{
			Operation: op, Status: status, Started: start, Ended: end,
			Bytes: sum.bytes, Files: sum.files, Warnings: sum.warnings,
		})
		if path := a.Cfg.Metrics.TextfilePath; path != "" {
			if merr := a.Metrics.WriteTextfile(path); merr != nil {
				a.Log.Warn().Err(merr).Str("path", path).Msg("writing metrics textfile failed")
			}
		}
	}
}

func invalidOptions(what string, err error) error {
	return errs.New(errs.KindConfiguration, "invalid "+what+" options", err)
}
