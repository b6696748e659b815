package db

import (
	"strconv"

	"github.com/rowjay/site-backup/internal/config"
)

type postgresTools struct{}

func (postgresTools) tag() string      { return TagPostgres }
func (postgresTools) label() string    { return "PostgreSQL" }
func (postgresTools) dumpTool() string { return "pg_dump" }
func (postgresTools) loadTool() string { return "psql" }

func (postgresTools) dumpArgs(cfg config.DatabaseConfig, outFile string) []string {
	return []string{
		"--no-owner",
		"--no-acl",
		"--format=p",
		"--username=" + cfg.User,
		"--host=" + hostOrDefault(cfg.Host),
		"--port=" + portOrDefault(cfg.Port, 5432),
		"--file=" + outFile,
		cfg.Name,
	}
}

func (postgresTools) loadArgs(cfg config.DatabaseConfig) []string {
	return []string{
		"--username=" + cfg.User,
		"--host=" + hostOrDefault(cfg.Host),
		"--port=" + portOrDefault(cfg.Port, 5432),
		"--dbname=" + cfg.Name,
		"--quiet",
		"--single-transaction",
		"--no-password",
		"-v", "ON_ERROR_STOP=1",
	}
}

func (postgresTools) env(cfg config.DatabaseConfig) map[string]string {
	env := map[string]string{}
	if cfg.Password != "" {
		env["PGPASSWORD"] = cfg.Password
	}
	if mode := cfg.Params["sslmode"]; mode != "" {
		env["PGSSLMODE"] = mode
	}
	if cfg.ConnectTimeout > 0 {
		env["PGCONNECT_TIMEOUT"] = strconv.Itoa(int(cfg.ConnectTimeout.Seconds()))
	}
	return env
}
