package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/entmap/internal/cli/ui"
	"github.com/conduit-lang/entmap/internal/orm/dbschema"
	"github.com/conduit-lang/entmap/internal/orm/migrate"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// schemaFlags are shared by the schema subcommands
type schemaFlags struct {
	dryRun bool
	yes    bool
	sql    bool
}

// newSchemaCommand creates the schema command
func newSchemaCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create, update, drop and compare the database schema",
		Long: `Synchronize the database schema with the entity descriptions.

Available subcommands:
  create   - Create every table from scratch
  update   - Apply the difference between the entities and the live database
  drop     - Drop every table of the entities
  diff     - Show the difference without applying it
  order    - Show the commit order and the dependency report
  validate - Load and resolve the entity descriptions`,
	}

	cmd.AddCommand(newSchemaCreateCommand(opts))
	cmd.AddCommand(newSchemaUpdateCommand(opts))
	cmd.AddCommand(newSchemaDropCommand(opts))
	cmd.AddCommand(newSchemaDiffCommand(opts))
	cmd.AddCommand(newSchemaOrderCommand(opts))
	cmd.AddCommand(newSchemaValidateCommand(opts))

	return cmd
}

func newSchemaCreateCommand(opts *Options) *cobra.Command {
	flags := &schemaFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create every table from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				g, err := s.generator()
				if err != nil {
					return err
				}
				stmts, err := g.CreateSchemaSQL()
				if err != nil {
					return err
				}
				return s.apply(cmd, flags, stmts, nil)
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the statements instead of executing them")
	return cmd
}

func newSchemaUpdateCommand(opts *Options) *cobra.Command {
	flags := &schemaFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply the difference between the entities and the live database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				g, err := s.generator()
				if err != nil {
					return err
				}
				db, err := s.open()
				if err != nil {
					return err
				}
				defer db.Close()

				diff, err := s.diff(cmd.Context(), g, db)
				if err != nil {
					return err
				}
				if diff.Empty() {
					ui.Success(cmd.OutOrStdout(), diff.Summary(), s.opts.NoColor)
					return nil
				}
				return s.applyTo(cmd, db, flags, g.SQL(diff), dataLoss(diff))
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the statements instead of executing them")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Apply changes that drop data without asking")
	return cmd
}

func newSchemaDropCommand(opts *Options) *cobra.Command {
	flags := &schemaFlags{}
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table of the entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				g, err := s.generator()
				if err != nil {
					return err
				}
				stmts, err := g.DropSchemaSQL()
				if err != nil {
					return err
				}
				return s.apply(cmd, flags, stmts, stmts)
			})
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the statements instead of executing them")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Drop without asking")
	return cmd
}

func newSchemaDiffCommand(opts *Options) *cobra.Command {
	flags := &schemaFlags{}
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the difference between the entities and the live database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				g, err := s.generator()
				if err != nil {
					return err
				}
				db, err := s.open()
				if err != nil {
					return err
				}
				defer db.Close()

				diff, err := s.diff(cmd.Context(), g, db)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if diff.Empty() {
					ui.Success(out, diff.Summary(), s.opts.NoColor)
					return nil
				}
				if flags.sql {
					printStatements(out, g.SQL(diff))
					return nil
				}

				table := ui.NewTable(out, s.opts.NoColor, "CHANGE", "TABLE", "NAME", "BREAKING", "DATA LOSS")
				for _, c := range diff.Changes() {
					name := c.Name
					if c.OldName != "" {
						name = c.OldName + " -> " + c.Name
					}
					table.AddRow(c.Type.String(), c.Table, name, yesNo(c.Breaking), yesNo(c.DataLoss))
				}
				table.Render()
				fmt.Fprintln(out)
				ui.Info(out, diff.Summary(), s.opts.NoColor)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&flags.sql, "sql", false, "Print the statements instead of the change table")
	return cmd
}

func newSchemaOrderCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Show the commit order of the entities and their dependency report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				reg, err := s.registry()
				if err != nil {
					return err
				}
				order, err := schema.CalculateCommitOrder(reg)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				table := ui.NewTable(out, s.opts.NoColor, "#", "ENTITY", "TABLE")
				for i, name := range order.Order {
					meta, _ := reg.Get(name)
					table.AddRow(fmt.Sprint(i+1), name, meta.TableName)
				}
				table.Render()
				fmt.Fprintln(out)
				fmt.Fprint(out, schema.BuildDependencyGraph(reg).Analyze().String())
				return nil
			})
		},
	}
}

func newSchemaValidateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and resolve the entity descriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				reg, err := s.registry()
				if err != nil {
					return err
				}
				if _, err := schema.CalculateCommitOrder(reg); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				ui.Success(out, fmt.Sprintf("%d entities resolved", reg.Len()), s.opts.NoColor)

				stats := reg.GetStats()
				table := ui.NewTable(out, s.opts.NoColor, "TABLES", "PROPERTIES", "RELATIONS", "PIVOTS", "EMBEDDABLES")
				table.AddRow(fmt.Sprint(stats.TotalTables), fmt.Sprint(stats.TotalProperties),
					fmt.Sprint(stats.TotalRelations), fmt.Sprint(stats.PivotEntities), fmt.Sprint(stats.EmbeddableEntities))
				table.Render()
				return nil
			})
		},
	}
}

// withSession runs fn with a loaded session and flushes the logger afterwards
func withSession(opts *Options, fn func(*session) error) error {
	s, err := newSession(opts)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

func (s *session) generator() (*migrate.Generator, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	return migrate.NewGenerator(reg, s.platform,
		migrate.WithSafeMode(s.cfg.Schema.Safe),
		migrate.WithDropTables(s.cfg.Schema.DropTables),
		migrate.WithLogger(s.logger)), nil
}

// diff introspects the live database and compares it with the entities
func (s *session) diff(ctx context.Context, g *migrate.Generator, db *sql.DB) (*migrate.SchemaDifference, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	introspector, err := dbschema.NewIntrospector(s.platform, db, s.cfg.Database.Schema, dbschema.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	live, err := introspector.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect database: %w", err)
	}
	return g.Differ().Diff(live)
}

// apply opens a connection and runs stmts, see applyTo
func (s *session) apply(cmd *cobra.Command, flags *schemaFlags, stmts, destructive []string) error {
	if flags.dryRun || len(stmts) == 0 {
		return s.applyTo(cmd, nil, flags, stmts, destructive)
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return s.applyTo(cmd, db, flags, stmts, destructive)
}

// applyTo prints stmts on a dry run, otherwise asks for confirmation when anything
// destructive is listed and executes them in one transaction
func (s *session) applyTo(cmd *cobra.Command, db *sql.DB, flags *schemaFlags, stmts, destructive []string) error {
	out := cmd.OutOrStdout()
	if len(stmts) == 0 {
		ui.Success(out, "nothing to do", s.opts.NoColor)
		return nil
	}
	if flags.dryRun {
		printStatements(out, stmts)
		return nil
	}

	if len(destructive) > 0 && !flags.yes {
		ui.Write(cmd.ErrOrStderr(), ui.DataLossWarning(destructive, s.opts.NoColor))
		ok, err := s.opts.Confirmer.Confirm("Apply these changes?")
		if err != nil {
			return err
		}
		if !ok {
			ui.Info(out, "aborted, nothing was changed", s.opts.NoColor)
			return nil
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := migrate.NewExecutor(db, migrate.WithExecutorLogger(s.logger)).Execute(ctx, stmts)
	if err != nil {
		return &friendlyError{msg: describeError(err, s.opts.Verbose), err: err}
	}
	ui.Success(out, fmt.Sprintf("%d statements applied in %s", result.Statements, result.Duration.Round(time.Millisecond)), s.opts.NoColor)
	s.logger.Debug("schema applied", zap.String("run_id", result.RunID))
	return nil
}

// dataLoss lists the changes of diff that drop data
func dataLoss(diff *migrate.SchemaDifference) []string {
	var out []string
	for _, c := range diff.Changes() {
		if c.DataLoss {
			out = append(out, c.String())
		}
	}
	return out
}

func printStatements(w io.Writer, stmts []string) {
	for _, stmt := range stmts {
		fmt.Fprintln(w, strings.TrimRight(stmt, ";")+";")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// friendlyError shows a short message but keeps the database error for errors.Is/As
type friendlyError struct {
	msg string
	err error
}

func (e *friendlyError) Error() string { return e.msg }

func (e *friendlyError) Unwrap() error { return e.err }

// describeError returns a user-friendly message for a database error.
// In verbose mode the full error is returned.
func describeError(err error, verbose bool) string {
	if verbose {
		return err.Error()
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "syntax"):
		return "SQL syntax error - use --verbose for details"
	case strings.Contains(errStr, "constraint") || strings.Contains(errStr, "violates"):
		return "constraint violation - use --verbose for details"
	case strings.Contains(errStr, "does not exist") || strings.Contains(errStr, "no such"):
		return "referenced object does not exist - use --verbose for details"
	case strings.Contains(errStr, "already exists"):
		return "object already exists - use --verbose for details"
	case strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied"):
		return "permission denied - check database user privileges"
	}
	return "schema change failed - use --verbose for details"
}
