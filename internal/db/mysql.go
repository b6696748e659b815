package db

import (
	"fmt"

	"github.com/rowjay/site-backup/internal/config"
)

type mysqlTools struct{}

func (mysqlTools) tag() string      { return TagMySQL }
func (mysqlTools) label() string    { return "MySQL" }
func (mysqlTools) dumpTool() string { return "mysqldump" }
func (mysqlTools) loadTool() string { return "mysql" }

func (mysqlTools) dumpArgs(cfg config.DatabaseConfig, outFile string) []string {
	args := []string{
		"--single-transaction",
		"--routines",
		"--events",
		"--triggers",
		"--user=" + cfg.User,
		"--host=" + hostOrDefault(cfg.Host),
		"--port=" + portOrDefault(cfg.Port, 3306),
		"--result-file=" + outFile,
	}
	args = append(args, connectTimeoutArg(cfg)...)
	return append(args, cfg.Name)
}

func (mysqlTools) loadArgs(cfg config.DatabaseConfig) []string {
	args := []string{
		"--user=" + cfg.User,
		"--host=" + hostOrDefault(cfg.Host),
		"--port=" + portOrDefault(cfg.Port, 3306),
	}
	args = append(args, connectTimeoutArg(cfg)...)
	return append(args, cfg.Name)
}

func (mysqlTools) env(cfg config.DatabaseConfig) map[string]string {
	env := map[string]string{}
	if cfg.Password != "" {
		env["MYSQL_PWD"] = cfg.Password
	}
	return env
}

func connectTimeoutArg(cfg config.DatabaseConfig) []string {
	if cfg.ConnectTimeout <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("--connect-timeout=%d", int(cfg.ConnectTimeout.Seconds()))}
}
