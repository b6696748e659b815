package config

import "time"

// DefaultAlias is the database alias used when none is given.
const DefaultAlias = "default"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig              `mapstructure:"global"`
	Databases     map[string]DatabaseConfig `mapstructure:"databases"`
	Media         MediaConfig               `mapstructure:"media"`
	Fixtures      FixturesConfig            `mapstructure:"fixtures"`
	Backup        BackupConfig              `mapstructure:"backup"`
	Restore       RestoreConfig             `mapstructure:"restore"`
	Encryption    EncryptionConfig          `mapstructure:"encryption"`
	Notifications NotificationsConfig       `mapstructure:"notifications"`
	Metrics       MetricsConfig             `mapstructure:"metrics"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockFile          string        `mapstructure:"lock_file"`
	TempDir           string        `mapstructure:"temp_dir"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
}

// DatabaseConfig describes one database alias. Engine selects the dump and
// restore implementation; unrecognised engines use the records engine.
type DatabaseConfig struct {
	Engine   string `mapstructure:"engine"` // sqlite, postgres, mysql, anything else
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"` // file-backed engines
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// Driver and DSN configure database/sql access for the records engine
	// and connectivity checks. Both are derived from the fields above when empty.
	Driver         string            `mapstructure:"driver"`
	DSN            string            `mapstructure:"dsn"`
	SkipGroups     []string          `mapstructure:"skip_groups"`
	Params         map[string]string `mapstructure:"params"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
}

type MediaConfig struct {
	Root          string   `mapstructure:"root"`
	PruneDirs     []string `mapstructure:"prune_dirs"`
	ProgressEvery int      `mapstructure:"progress_every"`
}

// FixturesConfig lists application directories whose fixtures/ subdirectory
// is bundled into a backup.
type FixturesConfig struct {
	AppDirs    map[string]string `mapstructure:"app_dirs"` // app label -> app directory
	Extensions []string          `mapstructure:"extensions"`
}

type BackupConfig struct {
	OutputDir        string        `mapstructure:"output_dir"`
	Compression      string        `mapstructure:"compression"` // none, gzip, zstd, lz4
	CompressionLevel int           `mapstructure:"compression_level"`
	Encryption       bool          `mapstructure:"encryption"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetentionPolicy  Retention     `mapstructure:"retention"`
}

type RestoreConfig struct {
	MediaStrategy     string `mapstructure:"media_strategy"` // replace, merge, keep-existing
	DiskMarginPercent int    `mapstructure:"disk_margin_percent"`
}

type Retention struct {
	KeepLast int `mapstructure:"keep_last"`
	KeepDays int `mapstructure:"keep_days"`
}

// EncryptionConfig selects the envelope wrapped around finished archives.
type EncryptionConfig struct {
	Method     string `mapstructure:"method"` // gpg or dare
	Recipient  string `mapstructure:"recipient"`
	Passphrase string `mapstructure:"passphrase"`
	Key        string `mapstructure:"key"` // 32-byte key, base64 or hex, dare only
	GPGBinary  string `mapstructure:"gpg_binary"`
	GPGHomedir string `mapstructure:"gpg_homedir"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type MetricsConfig struct {
	// TextfilePath, when set, receives Prometheus metrics of the last run in
	// node_exporter textfile format.
	TextfilePath string `mapstructure:"textfile_path"`
}

// Database returns the configuration for alias, falling back to DefaultAlias
// when alias is empty.
func (c *Config) Database(alias string) (DatabaseConfig, bool) {
	if alias == "" {
		alias = DefaultAlias
	}
	db, ok := c.Databases[alias]
	return db, ok
}
