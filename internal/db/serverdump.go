package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rowjay/site-backup/internal/checksum"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/manifest"
	"github.com/rowjay/site-backup/internal/report"
	"github.com/rowjay/site-backup/internal/util"
)

// toolset describes the command line clients of one database server family.
// Passwords travel only through the environment, never as arguments.
type toolset interface {
	tag() string
	label() string
	dumpTool() string
	loadTool() string
	dumpArgs(cfg config.DatabaseConfig, outFile string) []string
	loadArgs(cfg config.DatabaseConfig) []string
	env(cfg config.DatabaseConfig) map[string]string
}

// ServerDump dumps a database server to plain SQL with its dump client and
// restores by piping that SQL into the matching load client.
type ServerDump struct {
	tools toolset
	deps  Deps
}

func NewServerDump(tools toolset, deps Deps) *ServerDump {
	return &ServerDump{tools: tools, deps: deps}
}

func (s *ServerDump) Name() string { return s.tools.tag() }

func (s *ServerDump) Capabilities() Capabilities {
	return Capabilities{ExclusiveRestore: true}
}

func (s *ServerDump) TargetDir(config.DatabaseConfig) string { return "" }

func (s *ServerDump) Validate(cfg config.DatabaseConfig) error {
	if cfg.Name == "" {
		return errs.Configuration("database name is required for the %s engine", s.tools.tag())
	}
	if s.deps.AllowMissingTools {
		return nil
	}
	if err := util.RequireBinary(s.tools.dumpTool()); err != nil {
		return err
	}
	return util.RequireBinary(s.tools.loadTool())
}

// DumpFileName is the name of the SQL dump of alias inside the archive.
func DumpFileName(alias string) string {
	if alias == "" {
		alias = config.DefaultAlias
	}
	return alias + "_dump.sql"
}

func (s *ServerDump) Dump(ctx context.Context, destDir, alias string, cfg config.DatabaseConfig) (*DumpResult, error) {
	if cfg.Name == "" {
		return nil, errs.Configuration("database name is required for the %s engine", s.tools.tag())
	}
	name := DumpFileName(alias)
	out := filepath.Join(destDir, name)

	cmd := util.Command(ctx, s.tools.dumpTool(), s.tools.dumpArgs(cfg, out), s.tools.env(cfg))
	if err := util.Run(cmd, nil); err != nil {
		_ = os.Remove(out)
		s.deps.Log.Error().Err(err).Str("tool", s.tools.dumpTool()).Msg("database dump failed")
		return nil, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return nil, errs.Resource(fmt.Sprintf("%s produced no dump file", s.tools.dumpTool()), err)
	}
	sum, err := checksum.File(out)
	if err != nil {
		return nil, errs.Resource("checksum database dump", err)
	}
	s.deps.Report.Printf(report.Verbose, "%s database dumped to: %s", s.tools.label(), name)
	return &DumpResult{
		Component: &manifest.Database{Engine: s.tools.tag(), Alias: alias, File: name, Size: info.Size()},
		Checksums: map[string]string{manifest.DatabaseKey: sum},
	}, nil
}

func (s *ServerDump) Restore(ctx context.Context, srcDir, alias string, component *manifest.Database, cfg config.DatabaseConfig) (*RestoreResult, error) {
	if cfg.Name == "" {
		return nil, errs.Configuration("database name is required for the %s engine", s.tools.tag())
	}
	if component == nil || component.File == "" {
		return nil, errs.Integrity("database component names no file")
	}
	src := filepath.Join(srcDir, component.File)
	f, err := os.Open(src)
	if err != nil {
		return nil, errs.NotFound("Database dump file not found in backup: %s", component.File)
	}
	defer f.Close()

	s.deps.Report.Printf(report.Normal, "Restoring %s database...", s.tools.label())
	closeConnections(s.deps, alias)

	s.deps.Report.Printf(report.Verbose, "Executing SQL dump...")
	cmd := util.Command(ctx, s.tools.loadTool(), s.tools.loadArgs(cfg), s.tools.env(cfg))
	if err := util.Run(cmd, f); err != nil {
		s.deps.Log.Error().Err(err).Str("tool", s.tools.loadTool()).Msg("database restore failed")
		return nil, err
	}
	s.deps.Report.Printf(report.Verbose, "%s database restored successfully", s.tools.label())
	res := &RestoreResult{}
	res.Loaded.Succeed(component.File)
	return res, nil
}

func portOrDefault(port int, def int) string {
	if port == 0 {
		return strconv.Itoa(def)
	}
	return strconv.Itoa(port)
}

func hostOrDefault(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}
