package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/site-backup/internal/app"
	"github.com/rowjay/site-backup/internal/config"
	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/logging"
	"github.com/rowjay/site-backup/internal/prompt"
	"github.com/rowjay/site-backup/internal/report"
	"github.com/rowjay/site-backup/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Verbosity  int
	Quiet      bool
}

type overrideFlags struct {
	MediaRoot         string
	OutputDir         string
	TempDir           string
	AllowMissingTools bool
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "sbu",
		Short:         "Site database and media backup and restore utility",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().IntVarP(&root.Verbosity, "verbosity", "v", report.Normal, "Output verbosity (0-3)")
	rootCmd.PersistentFlags().BoolVar(&root.Quiet, "quiet", false, "Only print errors")

	rootCmd.PersistentFlags().StringVar(&overrides.MediaRoot, "media-root", "", "Media root directory")
	rootCmd.PersistentFlags().StringVar(&overrides.OutputDir, "backup-dir", "", "Directory backups are written to and listed from")
	rootCmd.PersistentFlags().StringVar(&overrides.TempDir, "temp-dir", "", "Directory for staging files")
	rootCmd.PersistentFlags().BoolVar(&overrides.AllowMissingTools, "allow-missing-tools", false, "Do not fail preflight when dump tools are missing")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newVerifyCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newPruneCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is the state shared by the commands that run against a config.
type session struct {
	cfg    *config.Config
	log    zerolog.Logger
	app    *app.App
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) Close() {
	s.cancel()
	if err := s.app.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing database handles failed")
	}
}

func newSession(root *rootFlags, overrides *overrideFlags) (*session, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat, os.Stderr)

	verbosity := root.Verbosity
	if root.Quiet {
		verbosity = report.Quiet
	}
	sinks := []report.Sink{report.WriterSink{W: os.Stdout, Color: prompt.Interactive(os.Stdout)}}
	if strings.EqualFold(cfg.Global.LogFormat, "json") {
		sinks = append(sinks, report.LogSink{Log: logger})
	}

	a := app.New(cfg, logger, report.New(verbosity, sinks...))
	if prompt.Interactive(os.Stdin) {
		a.Confirm = func(question string) (bool, error) {
			return prompt.Confirm(os.Stdin, os.Stdout, question)
		}
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if cfg.Global.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Global.OperationTimeout)
	}
	return &session{cfg: cfg, log: logger, app: a, ctx: ctx, cancel: cancel}, nil
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var (
		outputDir       string
		filename        string
		compressFlag    bool
		noCompress      bool
		compression     string
		level           int
		skipMedia       bool
		skipDatabase    bool
		includeFixtures bool
		database        string
		encrypt         bool
		encryptKey      string
		method          string
		passphrase      string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the database and media files",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := s.app.DefaultBackupOptions()
			if outputDir != "" {
				opts.OutputDir = outputDir
			}
			opts.Filename = filename
			if cmd.Flags().Changed("compress") {
				opts.Compress = compressFlag
			}
			if noCompress {
				opts.Compress = false
			}
			if compression != "" {
				opts.Compression = strings.ToLower(compression)
				opts.Compress = opts.Compression != "none"
			}
			if level != 0 {
				opts.CompressionLevel = level
			}
			opts.SkipMedia = skipMedia
			opts.SkipDatabase = skipDatabase
			opts.IncludeFixtures = includeFixtures
			if database != "" {
				opts.Database = database
			}
			if encrypt || encryptKey != "" {
				opts.Encrypt = true
			}
			opts.Recipient = encryptKey
			opts.EncryptionMethod = method
			opts.Passphrase = passphrase

			res, err := s.app.Backup(s.ctx, opts)
			if err != nil {
				return err
			}
			s.log.Info().Str("path", res.Path).Int64("size", res.Size).Int("warnings", res.Warnings()).Msg("backup completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory to write the backup to")
	cmd.Flags().StringVar(&filename, "filename", "", "Archive name without extension (default backup_<timestamp>)")
	cmd.Flags().BoolVar(&compressFlag, "compress", true, "Compress the archive")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "Write an uncompressed archive")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression (gzip, zstd, lz4, none)")
	cmd.Flags().IntVar(&level, "compression-level", 0, "Compression level (1-9)")
	cmd.Flags().BoolVar(&skipMedia, "skip-media", false, "Skip media files")
	cmd.Flags().BoolVar(&skipDatabase, "skip-database", false, "Skip the database")
	cmd.Flags().BoolVar(&includeFixtures, "include-fixtures", false, "Include application fixtures")
	cmd.Flags().StringVar(&database, "database", "", "Database alias to back up")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the archive")
	cmd.Flags().StringVar(&encryptKey, "encrypt-key", "", "GPG recipient to encrypt for (implies --encrypt)")
	cmd.Flags().StringVar(&method, "encryption-method", "", "Encryption method (gpg, dare)")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase for symmetric encryption")
	return cmd
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var opts app.RestoreOptions

	cmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Restore the database and media files from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			opts.Path = args[0]
			if opts.Passphrase == "" {
				pass, err := askPassphrase(s.cfg, opts.Path)
				if err != nil {
					return err
				}
				opts.Passphrase = pass
			}

			res, err := s.app.Restore(s.ctx, opts)
			if err != nil {
				return err
			}
			if !res.Cancelled {
				s.log.Info().Str("path", opts.Path).Int("warnings", res.Warnings()).Msg("restore completed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "Database alias to restore into")
	cmd.Flags().BoolVar(&opts.SkipMedia, "skip-media", false, "Do not restore media files")
	cmd.Flags().BoolVar(&opts.SkipDatabase, "skip-database", false, "Do not restore the database")
	cmd.Flags().BoolVar(&opts.SkipFixtures, "skip-fixtures", false, "Do not load fixtures")
	cmd.Flags().BoolVar(&opts.SkipIntegrityCheck, "no-backup-check", false, "Skip checksum verification (unsafe)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Do not ask for confirmation")
	cmd.Flags().StringVar(&opts.MediaStrategy, "media-strategy", "", "Media conflict strategy (replace, merge, keep-existing)")
	cmd.Flags().StringVar(&opts.Passphrase, "passphrase", "", "Passphrase for encrypted backups")
	return cmd
}

func newVerifyCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "verify <backup-file>",
		Short: "Check a backup's checksums without restoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			if passphrase == "" {
				if passphrase, err = askPassphrase(s.cfg, args[0]); err != nil {
					return err
				}
			}
			m, err := s.app.Verify(s.ctx, args[0], passphrase)
			if err != nil {
				return err
			}
			s.log.Info().Str("path", args[0]).Str("id", m.ID).Str("timestamp", m.Timestamp).Msg("backup verified")
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase for encrypted backups")
	return cmd
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, tools and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			failed := 0
			for _, r := range s.app.Check(s.ctx) {
				if r.Err != nil {
					failed++
					s.log.Error().Err(r.Err).Str("check", r.Name).Msg("check failed")
					continue
				}
				s.log.Info().Str("check", r.Name).Msg("ok")
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			s.log.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.app.List(s.ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, item := range items {
				enc := item.Encryption
				if enc == "" {
					enc = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", item.Name, humanize.IBytes(uint64(item.Size)),
					item.Compression, enc, item.Modified.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newPruneCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete backups outside the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.app.Prune(s.ctx)
			if err != nil {
				return err
			}
			s.log.Info().Int("removed", len(res.Succeeded)).Int("failed", len(res.Failed)).Msg("prune completed")
			if !res.OK() {
				return fmt.Errorf("%d backup(s) could not be removed", len(res.Failed))
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv(config.KeyEnv)
			}
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key (or %s) are required", config.KeyEnv)
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sbu %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// askPassphrase prompts for the passphrase of an encrypted artifact when none
// is configured and a terminal is attached. GPG archives for a recipient
// key decrypt through the agent, so an empty answer is passed on.
func askPassphrase(cfg *config.Config, path string) (string, error) {
	if _, encrypted := cryptoutil.MethodFromName(path); !encrypted {
		return "", nil
	}
	if cfg.Encryption.Passphrase != "" || cfg.Encryption.Key != "" || !prompt.Interactive(os.Stdin) {
		return "", nil
	}
	return prompt.Passphrase(os.Stdin, os.Stderr, "Passphrase")
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.MediaRoot != "" {
		cfg.Media.Root = overrides.MediaRoot
	}
	if overrides.OutputDir != "" {
		cfg.Backup.OutputDir = overrides.OutputDir
	}
	if overrides.TempDir != "" {
		cfg.Global.TempDir = overrides.TempDir
	}
	if overrides.AllowMissingTools {
		cfg.Global.AllowMissingTools = true
	}
	cfg.Backup.Compression = strings.ToLower(cfg.Backup.Compression)
	cfg.Restore.MediaStrategy = strings.ToLower(cfg.Restore.MediaStrategy)
}
