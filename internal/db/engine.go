// Package db dumps and restores the application database. Each supported
// engine family has its own Engine implementation; unrecognised engines fall
// back to exporting records through a RecordStore.
package db

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rowjay/site-backup/internal/batch"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
)

// Engine tags as written into manifests.
const (
	TagSQLite   = "sqlite"
	TagPostgres = "postgresql"
	TagMySQL    = "mysql"
	TagRecords  = "records"
)

type Engine interface {
	// Name is the engine tag recorded in the manifest.
	Name() string
	Capabilities() Capabilities
	// Validate checks that the external tools the engine needs are present.
	Validate(cfg config.DatabaseConfig) error
	// Dump writes the database of alias into destDir.
	Dump(ctx context.Context, destDir, alias string, cfg config.DatabaseConfig) (*DumpResult, error)
	// Restore loads the dump described by component from srcDir into the
	// live database of alias.
	Restore(ctx context.Context, srcDir, alias string, component *manifest.Database, cfg config.DatabaseConfig) (*RestoreResult, error)
	// TargetDir is the directory restored data lands in, or "" when the data
	// lives on a database server.
	TargetDir(cfg config.DatabaseConfig) string
}

type Capabilities struct {
	// ExclusiveRestore engines overwrite the whole database on restore.
	ExclusiveRestore bool
	// LocalFile engines keep the database in a file on this host.
	LocalFile bool
}

// DumpResult is the manifest entry and checksums produced by a dump.
type DumpResult struct {
	Component *manifest.Database
	Checksums map[string]string
	// Groups records per-group outcomes of engines that dump in batches.
	Groups batch.Result[string]
}

type RestoreResult struct {
	Loaded batch.Result[string]
}

// ConnCloser closes the live connections an application holds for a
// database alias. Restores call it before replacing data underneath them.
type ConnCloser interface {
	CloseConnections(alias string) error
}

// Deps are the collaborators shared by all engines.
type Deps struct {
	Conns             ConnCloser
	Records           RecordStore
	Report            *report.Reporter
	Log               zerolog.Logger
	AllowMissingTools bool
}

// NewEngine selects the engine for a configured database. Engines that are
// not recognised use the records engine.
func NewEngine(engine string, deps Deps) Engine {
	return ForTag(Tag(engine), deps)
}

// ForTag returns the engine that handles a manifest engine tag.
func ForTag(tag string, deps Deps) Engine {
	switch Tag(tag) {
	case TagSQLite:
		return NewFileCopy(deps)
	case TagPostgres:
		return NewServerDump(postgresTools{}, deps)
	case TagMySQL:
		return NewServerDump(mysqlTools{}, deps)
	default:
		return NewRecords(deps)
	}
}

// Tag normalises a configured engine name or a manifest engine tag.
func Tag(engine string) string {
	e := strings.ToLower(strings.TrimSpace(engine))
	switch {
	case e == "sqlite" || e == "sqlite3" || strings.HasSuffix(e, ".sqlite3"):
		return TagSQLite
	case e == "postgres" || e == "postgresql" || e == "pgx" || strings.HasSuffix(e, ".postgresql"):
		return TagPostgres
	case e == "mysql" || e == "mariadb" || strings.HasSuffix(e, ".mysql"):
		return TagMySQL
	default:
		return TagRecords
	}
}

func closeConnections(deps Deps, alias string) {
	if deps.Conns == nil {
		return
	}
	if err := deps.Conns.CloseConnections(alias); err != nil {
		deps.Log.Warn().Err(err).Str("alias", alias).Msg("closing database connections failed")
	}
}
