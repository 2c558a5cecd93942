package commands

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/entmap/internal/cli/config"
	"github.com/conduit-lang/entmap/internal/cli/ui"
	"github.com/conduit-lang/entmap/internal/logging"
	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Options carries the global flags and the collaborators commands depend on
type Options struct {
	ConfigPath string
	Verbose    bool
	NoColor    bool

	// OpenDB opens database connections; defaults to sql.Open
	OpenDB func(driver, dsn string) (*sql.DB, error)
	// Confirmer asks before destructive changes; defaults to a terminal prompt
	Confirmer ui.Confirmer
}

// session is the per-invocation state shared by subcommands
type session struct {
	opts     *Options
	cfg      *config.Config
	logger   *zap.Logger
	platform platform.Platform
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&Options{})
}

func newRootCommand(opts *Options) *cobra.Command {
	if opts.OpenDB == nil {
		opts.OpenDB = sql.Open
	}
	if opts.Confirmer == nil {
		opts.Confirmer = ui.SurveyConfirmer{}
	}

	rootCmd := &cobra.Command{
		Use:   "entmap",
		Short: "Entity metadata, schema synchronization and query compilation",
		Long: color.CyanString(`entmap - entity mapping toolkit

entmap reads entity descriptions, resolves their relations and keeps a
relational schema in sync with them.

Features:
  • PostgreSQL, MySQL and SQLite platforms
  • Schema create, update, drop and diff with rename detection
  • Dependency-ordered DDL
  • Condition documents compiled to parameterized SQL`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to entmap.yml (default: ./entmap.yml)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging and full error messages")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newSchemaCommand(opts))
	rootCmd.AddCommand(newQueryCommand(opts))

	return rootCmd
}

// newSession loads configuration and builds the logger and platform
func newSession(opts *Options) (*session, error) {
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	p, err := cfg.Platform()
	if err != nil {
		return nil, err
	}

	return &session{opts: opts, cfg: cfg, logger: logger, platform: p}, nil
}

// registry loads and resolves the configured entity descriptions
func (s *session) registry() (*schema.Registry, error) {
	entities, err := schema.LoadDescriptionFile(s.cfg.Schema.Entities)
	if err != nil {
		return nil, err
	}

	resolver := schema.NewResolver(s.cfg.NamingStrategy(), schema.WithLogger(s.logger))
	reg, err := resolver.Resolve(entities)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("entities resolved",
		zap.String("file", s.cfg.Schema.Entities),
		zap.Int("entities", reg.Len()))
	return reg, nil
}

// open connects to the configured database
func (s *session) open() (*sql.DB, error) {
	if s.cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is not set (use entmap.yml, ENTMAP_DATABASE_URL or DATABASE_URL)")
	}
	db, err := s.opts.OpenDB(s.cfg.SQLDriver(), s.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	titleColor := color.New(color.FgCyan, color.Bold)

	titleColor.Fprint(w, "entmap version: ")
	fmt.Fprintln(w, Version)
	titleColor.Fprint(w, "Git commit: ")
	fmt.Fprintln(w, GitCommit)
	titleColor.Fprint(w, "Build date: ")
	fmt.Fprintln(w, BuildDate)
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
