package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/entmap/internal/cli/ui"
	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/query"
)

type queryFlags struct {
	entity    string
	alias     string
	fields    []string
	joins     []string
	leftJoins []string
	where     string
	groupBy   []string
	having    string
	orderBy   []string
	limit     int
	offset    int
	lock      string
	version   string
}

// newQueryCommand creates the query command
func newQueryCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Work with condition documents",
	}
	cmd.AddCommand(newQueryCompileCommand(opts))
	return cmd
}

func newQueryCompileCommand(opts *Options) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a select over an entity to SQL",
		Long: `Compile a select statement for the configured platform and print the SQL and its parameters.

Conditions are JSON or YAML documents:
  {"title": "Dune"}                      title = ?
  {"id": [1, 2]}                         id in (?, ?)
  {"price": {"$gte": 10, "$lt": 20}}     price >= ? and price < ?
  {"$or": [{"a": 1}, {"b": 2}]}          (a = ? or b = ?)
  {"title": {"$re": "^Du"}}              title like ?

Joins are given as property:alias, and orderings as field:asc or field:desc.`,
		Example: `  entmap query compile -e Book -a b --join author:a --where '{"a.name": "Herbert"}' --order title:desc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				reg, err := s.registry()
				if err != nil {
					return err
				}
				if !reg.Exists(flags.entity) {
					ui.Write(cmd.ErrOrStderr(), ui.UnknownEntity(flags.entity, reg.Names(), s.opts.NoColor))
					return fmt.Errorf("unknown entity %q", flags.entity)
				}

				sel, err := flags.selectStatement()
				if err != nil {
					return err
				}

				compiler := query.NewCompiler(reg, s.platform, query.WithLogger(s.logger))
				frag, err := compiler.CompileSelect(sel)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, frag.SQL)
				if len(frag.Params) > 0 {
					fmt.Fprintln(out)
					table := ui.NewTable(out, s.opts.NoColor, "PARAM", "VALUE", "TYPE")
					for i, p := range frag.Params {
						table.AddRow(s.platform.Placeholder(i+1), fmt.Sprintf("%v", p), fmt.Sprintf("%T", p))
					}
					table.Render()
				}

				if flags.version != "" && sel.Lock.Mode == platform.LockOptimistic {
					ui.Info(out, fmt.Sprintf("expect version %s when the row is read back", flags.version), s.opts.NoColor)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.entity, "entity", "e", "", "Entity to select from")
	f.StringVarP(&flags.alias, "alias", "a", "e0", "Alias of the root entity")
	f.StringSliceVar(&flags.fields, "select", nil, "Fields to select (default: every column)")
	f.StringArrayVarP(&flags.joins, "join", "j", nil, "Inner join as property:alias (repeatable)")
	f.StringArrayVar(&flags.leftJoins, "left-join", nil, "Left join as property:alias (repeatable)")
	f.StringVarP(&flags.where, "where", "w", "", "WHERE condition document")
	f.StringSliceVar(&flags.groupBy, "group-by", nil, "Fields to group by")
	f.StringVar(&flags.having, "having", "", "HAVING condition document")
	f.StringArrayVarP(&flags.orderBy, "order", "o", nil, "Ordering as field:direction (repeatable)")
	f.IntVar(&flags.limit, "limit", -1, "Maximum number of rows")
	f.IntVar(&flags.offset, "offset", 0, "Rows to skip")
	f.StringVar(&flags.lock, "lock", "", "Lock mode (optimistic, pessimistic_read, pessimistic_write, ...)")
	f.StringVar(&flags.version, "expect-version", "", "Expected version for an optimistic lock")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

// selectStatement builds the select described by the flags
func (f *queryFlags) selectStatement() (*query.Select, error) {
	sel := query.NewSelect(f.entity, f.alias).Columns(f.fields...).Group(f.groupBy...)

	for _, spec := range f.joins {
		property, alias, err := splitPair(spec, "join")
		if err != nil {
			return nil, err
		}
		sel.Join(property, alias)
	}
	for _, spec := range f.leftJoins {
		property, alias, err := splitPair(spec, "left-join")
		if err != nil {
			return nil, err
		}
		sel.LeftJoin(property, alias)
	}

	if f.where != "" {
		cond, err := parseConditionDocument(f.where)
		if err != nil {
			return nil, fmt.Errorf("invalid --where: %w", err)
		}
		sel.Filter(cond)
	}
	if f.having != "" {
		cond, err := parseConditionDocument(f.having)
		if err != nil {
			return nil, fmt.Errorf("invalid --having: %w", err)
		}
		sel.HavingCond(cond)
	}

	for _, spec := range f.orderBy {
		field, dir, ok := strings.Cut(spec, ":")
		if !ok {
			dir = "asc"
		}
		sel.Order(query.Order{Field: field, Direction: dir})
	}

	if f.limit >= 0 {
		sel.Paginate(f.limit, f.offset)
	}

	mode, err := platform.ParseLockMode(f.lock)
	if err != nil {
		return nil, err
	}
	sel.WithLock(query.LockOptions{Mode: mode, Version: f.version})
	return sel, nil
}

// parseConditionDocument decodes a JSON or YAML condition document
func parseConditionDocument(src string) (query.Condition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(src), &raw); err != nil {
		return nil, err
	}
	return query.ParseCondition(raw)
}

func splitPair(spec, flag string) (string, string, error) {
	left, right, ok := strings.Cut(spec, ":")
	if !ok || left == "" || right == "" {
		return "", "", fmt.Errorf("--%s expects property:alias, got %q", flag, spec)
	}
	return left, right, nil
}
