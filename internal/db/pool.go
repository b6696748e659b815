package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver

	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/errs"
)

// Pool opens one *sql.DB per database alias on first use. It implements
// ConnCloser so restores can drop its connections before replacing data.
type Pool struct {
	mu   sync.Mutex
	cfgs map[string]config.DatabaseConfig
	dbs  map[string]*pooled
}

type pooled struct {
	db      *sql.DB
	dialect dialect
}

func NewPool(cfgs map[string]config.DatabaseConfig) *Pool {
	return &Pool{cfgs: cfgs, dbs: map[string]*pooled{}}
}

// Attach registers an already open handle for alias, for hosts that manage
// their own connections.
func (p *Pool) Attach(alias, driver string, db *sql.DB) error {
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbs[alias] = &pooled{db: db, dialect: d}
	return nil
}

// DB returns the handle for alias, opening it when needed.
func (p *Pool) DB(alias string) (*sql.DB, error) {
	c, err := p.handle(alias)
	if err != nil {
		return nil, err
	}
	return c.db, nil
}

func (p *Pool) handle(alias string) (*pooled, error) {
	if alias == "" {
		alias = config.DefaultAlias
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.dbs[alias]; ok {
		return c, nil
	}
	cfg, ok := p.cfgs[alias]
	if !ok {
		return nil, errs.Configuration("database alias %q is not configured", alias)
	}
	driver, dsn, err := DriverDSN(cfg)
	if err != nil {
		return nil, err
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, errs.Configuration("%v", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errs.Resource("open database "+alias, err)
	}
	c := &pooled{db: db, dialect: d}
	p.dbs[alias] = c
	return c, nil
}

func (p *Pool) CloseConnections(alias string) error {
	if alias == "" {
		alias = config.DefaultAlias
	}
	p.mu.Lock()
	c, ok := p.dbs[alias]
	delete(p.dbs, alias)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return c.db.Close()
}

// Close closes every open handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	aliases := make([]string, 0, len(p.dbs))
	for a := range p.dbs {
		aliases = append(aliases, a)
	}
	p.mu.Unlock()
	sort.Strings(aliases)
	var firstErr error
	for _, a := range aliases {
		if err := p.CloseConnections(a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DriverDSN derives the database/sql driver name and DSN for cfg. Explicit
// driver and dsn settings win over derived ones.
func DriverDSN(cfg config.DatabaseConfig) (string, string, error) {
	driver := cfg.Driver
	if driver == "" {
		switch Tag(cfg.Engine) {
		case TagSQLite:
			driver = "sqlite3"
		case TagPostgres:
			driver = "pgx"
		case TagMySQL:
			driver = "mysql"
		default:
			return "", "", errs.Configuration("engine %q needs an explicit driver and dsn", cfg.Engine)
		}
	}
	if cfg.DSN != "" {
		return driver, cfg.DSN, nil
	}
	switch driver {
	case "sqlite3", "sqlite":
		if cfg.Path == "" {
			return "", "", errs.Configuration("database path is required for driver %s", driver)
		}
		return driver, cfg.Path + encodeParams(cfg.Params, "?"), nil
	case "pgx", "postgres", "postgresql":
		return driver, postgresDSN(cfg), nil
	case "mysql":
		return driver, mysqlDSN(cfg), nil
	default:
		return "", "", errs.Configuration("database dsn is required for driver %s", driver)
	}
}

func postgresDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(hostOrDefault(cfg.Host), portOrDefault(cfg.Port, 5432)),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func mysqlDSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(hostOrDefault(cfg.Host), portOrDefault(cfg.Port, 3306))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if len(cfg.Params) > 0 {
		mc.Params = map[string]string{}
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func encodeParams(params map[string]string, prefix string) string {
	if len(params) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return prefix + q.Encode()
}

// Ping opens a short-lived connection to cfg and checks it responds. File
// databases must already exist.
func Ping(ctx context.Context, cfg config.DatabaseConfig) error {
	driver, dsn, err := DriverDSN(cfg)
	if err != nil {
		return err
	}
	if Tag(cfg.Engine) == TagSQLite {
		if _, err := os.Stat(cfg.Path); err != nil {
			return errs.NotFound("database file not found: %s", cfg.Path)
		}
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return errs.Resource("open database", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return errs.Resource(fmt.Sprintf("cannot reach %s database %s", driver, cfg.Name), err)
	}
	return nil
}
