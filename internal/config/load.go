package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/errs"
)

const (
	envPrefix = "SBU"

	// PathEnv names the variable consulted when no config path is given.
	PathEnv = "SBU_CONFIG"
	// KeyEnv names the variable holding the key for encrypted config files.
	KeyEnv = "SBU_CONFIG_KEY"
)

var defaults = map[string]any{
	"global.log_level":            "info",
	"global.log_format":           "console",
	"global.operation_timeout":    "2h",
	"media.root":                  "./media",
	"media.prune_dirs":            []string{".thumbnails", "__pycache__"},
	"media.progress_every":        100,
	"fixtures.extensions":         []string{".json", ".xml", ".yaml", ".yml"},
	"backup.output_dir":           "./backups",
	"backup.compression":          "gzip",
	"backup.compression_level":    6,
	"backup.retry_count":          1,
	"backup.retry_backoff":        "10s",
	"restore.media_strategy":      "replace",
	"restore.disk_margin_percent": 20,
	"encryption.method":           "gpg",
	"encryption.gpg_binary":       "gpg",
}

// Load builds the configuration from defaults, the config file at path (or
// the first one found in the search locations) and SBU_* environment
// variables. Files ending in .enc or .encrypted are decrypted with the key in
// SBU_CONFIG_KEY.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	for key, value := range defaults {
		vp.SetDefault(key, value)
	}

	if path == "" {
		path = findConfig()
	}
	if path != "" {
		if err := readFile(vp, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, errs.New(errs.KindConfiguration, "decode config", err)
	}
	expandEnv(&cfg)
	fillDefaults(&cfg)
	return &cfg, nil
}

func readFile(vp *viper.Viper, path string) error {
	vp.SetConfigType(formatOf(path))
	if !isEncryptedPath(path) {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return errs.New(errs.KindConfiguration, "read config "+path, err)
		}
		return nil
	}

	sealed, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.KindConfiguration, "read config "+path, err)
	}
	key := os.Getenv(KeyEnv)
	if key == "" {
		key = vp.GetString("global.config_passphrase")
	}
	if key == "" {
		return errs.Configuration("config file %s is encrypted but %s is not set", path, KeyEnv)
	}
	raw, err := cryptoutil.ParseKey(key)
	if err != nil {
		return errs.New(errs.KindConfiguration, "invalid config key", err)
	}
	plain, err := cryptoutil.DecryptConfig(sealed, raw)
	if err != nil {
		return errs.New(errs.KindConfiguration, "decrypt config "+path, err)
	}
	if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
		return errs.New(errs.KindConfiguration, "parse config "+path, err)
	}
	return nil
}

// findConfig returns the first existing config file among $SBU_CONFIG, the
// working directory and the user config directory, or "".
func findConfig() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	names := []string{"sbu.yaml", "sbu.yml", "sbu.toml", "sbu.json"}
	dirs := []string{"."}
	if userDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(userDir, "sbu"))
	}
	for _, dir := range dirs {
		for _, name := range names {
			for _, suffix := range []string{"", ".enc"} {
				p := filepath.Join(dir, name+suffix)
				if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
					return p
				}
			}
		}
	}
	return ""
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

// formatOf maps a config file name, encrypted or not, to a viper config type.
func formatOf(path string) string {
	name := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch filepath.Ext(name) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func fillDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout <= 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Backup.RetryCount < 1 {
		cfg.Backup.RetryCount = 1
	}
	if cfg.Backup.RetryBackoff <= 0 {
		cfg.Backup.RetryBackoff = 10 * time.Second
	}
	if cfg.Databases == nil {
		cfg.Databases = map[string]DatabaseConfig{}
	}
}

// expandEnv resolves ${VAR} references in credentials and endpoints so
// secrets can stay out of the config file.
func expandEnv(cfg *Config) {
	for alias, db := range cfg.Databases {
		db.User = os.ExpandEnv(db.User)
		db.Password = os.ExpandEnv(db.Password)
		db.DSN = os.ExpandEnv(db.DSN)
		cfg.Databases[alias] = db
	}
	enc := &cfg.Encryption
	enc.Passphrase = os.ExpandEnv(enc.Passphrase)
	enc.Key = os.ExpandEnv(enc.Key)

	n := &cfg.Notifications
	for i := range n.Webhooks {
		n.Webhooks[i].URL = os.ExpandEnv(n.Webhooks[i].URL)
		for k, v := range n.Webhooks[i].Headers {
			n.Webhooks[i].Headers[k] = os.ExpandEnv(v)
		}
	}
	for i := range n.Mattermost {
		n.Mattermost[i].URL = os.ExpandEnv(n.Mattermost[i].URL)
	}
	for i := range n.Matrix {
		m := &n.Matrix[i]
		m.ServerURL = os.ExpandEnv(m.ServerURL)
		m.AccessToken = os.ExpandEnv(m.AccessToken)
		m.RoomID = os.ExpandEnv(m.RoomID)
	}
}
