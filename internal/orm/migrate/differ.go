package migrate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/entmap/internal/orm/dbschema"
	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// ChangeType represents the type of schema change
type ChangeType int

const (
	ChangeCreateTable ChangeType = iota
	ChangeDropTable
	ChangeAddColumn
	ChangeDropColumn
	ChangeAlterColumn
	ChangeRenameColumn
	ChangeAddIndex
	ChangeDropIndex
	ChangeAddForeignKey
	ChangeDropForeignKey
)

// String returns the string representation of the change type
func (c ChangeType) String() string {
	switch c {
	case ChangeCreateTable:
		return "create_table"
	case ChangeDropTable:
		return "drop_table"
	case ChangeAddColumn:
		return "add_column"
	case ChangeDropColumn:
		return "drop_column"
	case ChangeAlterColumn:
		return "alter_column"
	case ChangeRenameColumn:
		return "rename_column"
	case ChangeAddIndex:
		return "add_index"
	case ChangeDropIndex:
		return "drop_index"
	case ChangeAddForeignKey:
		return "add_foreign_key"
	case ChangeDropForeignKey:
		return "drop_foreign_key"
	default:
		return "unknown"
	}
}

// SchemaChange is a flat, human-oriented view of one entry of a SchemaDifference
type SchemaChange struct {
	Type     ChangeType
	Table    string
	Name     string // column, index or constraint name
	OldName  string // renames only
	Breaking bool
	DataLoss bool
}

func (c SchemaChange) String() string {
	switch {
	case c.Type == ChangeCreateTable || c.Type == ChangeDropTable:
		return fmt.Sprintf("%s %s", c.Type, c.Table)
	case c.OldName != "":
		return fmt.Sprintf("%s %s.%s -> %s", c.Type, c.Table, c.OldName, c.Name)
	default:
		return fmt.Sprintf("%s %s.%s", c.Type, c.Table, c.Name)
	}
}

// ColumnChange is a column whose live definition differs from the desired one
type ColumnChange struct {
	Column *dbschema.Column // desired
	From   *dbschema.Column // live
	Diff   platform.ColumnComparison
}

// ColumnRename pairs a live column with the desired column it can be renamed into
type ColumnRename struct {
	From *dbschema.Column
	To   *dbschema.Column
}

// TableDifference holds the changes needed to turn a live table into the desired one
type TableDifference struct {
	Table *dbschema.Table // desired
	Live  *dbschema.Table

	Create         []*dbschema.Column
	Update         []*ColumnChange
	Remove         []*dbschema.Column
	Rename         []*ColumnRename
	AddIndex       []*dbschema.Index
	DropIndex      []*dbschema.Index
	AddForeignKey  []*dbschema.ForeignKey
	DropForeignKey []*dbschema.ForeignKey
}

// Empty reports whether the table needs no change
func (d *TableDifference) Empty() bool {
	return len(d.Create) == 0 &&
		len(d.Update) == 0 &&
		len(d.Remove) == 0 &&
		len(d.Rename) == 0 &&
		len(d.AddIndex) == 0 &&
		len(d.DropIndex) == 0 &&
		len(d.AddForeignKey) == 0 &&
		len(d.DropForeignKey) == 0
}

// SchemaDifference is the full set of changes between metadata and a live schema.
// New tables follow the commit order; removed tables are listed in drop order.
type SchemaDifference struct {
	NewTables     []*dbschema.Table
	RemovedTables []*dbschema.Table
	ChangedTables []*TableDifference
}

// Empty reports whether the live schema already matches
func (d *SchemaDifference) Empty() bool {
	return len(d.NewTables) == 0 && len(d.RemovedTables) == 0 && len(d.ChangedTables) == 0
}

// Changes flattens the difference into individual changes
func (d *SchemaDifference) Changes() []SchemaChange {
	var changes []SchemaChange

	for _, t := range d.NewTables {
		changes = append(changes, SchemaChange{Type: ChangeCreateTable, Table: t.Name})
	}

	for _, td := range d.ChangedTables {
		table := td.Table.Name
		for _, c := range td.Create {
			changes = append(changes, SchemaChange{
				Type:     ChangeAddColumn,
				Table:    table,
				Name:     c.Name,
				Breaking: !c.Nullable && c.Default == nil && !c.Autoincrement,
			})
		}
		for _, r := range td.Rename {
			changes = append(changes, SchemaChange{
				Type:     ChangeRenameColumn,
				Table:    table,
				Name:     r.To.Name,
				OldName:  r.From.Name,
				Breaking: true,
			})
		}
		for _, u := range td.Update {
			changes = append(changes, SchemaChange{
				Type:     ChangeAlterColumn,
				Table:    table,
				Name:     u.Column.Name,
				Breaking: !u.Diff.SameType || (!u.Diff.SameNullable && !u.Column.Nullable),
				DataLoss: !u.Diff.SameType,
			})
		}
		for _, c := range td.Remove {
			changes = append(changes, SchemaChange{Type: ChangeDropColumn, Table: table, Name: c.Name, Breaking: true, DataLoss: true})
		}
		for _, idx := range td.DropIndex {
			changes = append(changes, SchemaChange{Type: ChangeDropIndex, Table: table, Name: idx.Name})
		}
		for _, idx := range td.AddIndex {
			changes = append(changes, SchemaChange{Type: ChangeAddIndex, Table: table, Name: idx.Name, Breaking: idx.Unique})
		}
		for _, fk := range td.DropForeignKey {
			changes = append(changes, SchemaChange{Type: ChangeDropForeignKey, Table: table, Name: fk.Name})
		}
		for _, fk := range td.AddForeignKey {
			changes = append(changes, SchemaChange{Type: ChangeAddForeignKey, Table: table, Name: fk.Name, Breaking: true})
		}
	}

	for _, t := range d.RemovedTables {
		changes = append(changes, SchemaChange{Type: ChangeDropTable, Table: t.Name, Breaking: true, DataLoss: true})
	}

	return changes
}

// DataLoss reports whether applying the difference may lose data
func (d *SchemaDifference) DataLoss() bool {
	for _, c := range d.Changes() {
		if c.DataLoss {
			return true
		}
	}
	return false
}

// Summary describes the difference in one line
func (d *SchemaDifference) Summary() string {
	if d.Empty() {
		return "schema is up to date"
	}

	counts := map[ChangeType]int{}
	var order []ChangeType
	for _, c := range d.Changes() {
		if counts[c.Type] == 0 {
			order = append(order, c.Type)
		}
		counts[c.Type]++
	}

	parts := make([]string, 0, len(order))
	for _, t := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
	}
	return strings.Join(parts, ", ")
}

// Option configures a Differ or Generator
type Option func(*config)

type config struct {
	safe       bool
	dropTables bool
	logger     *zap.Logger
}

// WithSafeMode suppresses every drop: columns, indexes, foreign keys and tables
func WithSafeMode(safe bool) Option {
	return func(c *config) { c.safe = safe }
}

// WithDropTables allows dropping live tables that no entity maps onto
func WithDropTables(drop bool) Option {
	return func(c *config) { c.dropTables = drop }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []Option) config {
	c := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Differ compares the schema implied by a resolved registry with a live schema
type Differ struct {
	reg      *schema.Registry
	platform platform.Platform
	config
}

// NewDiffer creates a new schema differ
func NewDiffer(reg *schema.Registry, p platform.Platform, opts ...Option) *Differ {
	return &Differ{reg: reg, platform: p, config: newConfig(opts)}
}

// Desired returns the schema the registry implies, with tables in commit order
func (d *Differ) Desired() (*dbschema.DatabaseSchema, *schema.CommitOrderResult, error) {
	order, err := schema.CalculateCommitOrder(d.reg)
	if err != nil {
		return nil, nil, err
	}

	projected, err := dbschema.FromMetadata(d.reg, d.platform)
	if err != nil {
		return nil, nil, err
	}

	desired := &dbschema.DatabaseSchema{}
	for _, name := range order.Order {
		meta, ok := d.reg.Get(name)
		if !ok {
			continue
		}
		if t, ok := projected.Table(qualifiedName(meta.Schema, meta.TableName)); ok {
			desired.Tables = append(desired.Tables, t)
		}
	}
	return desired, order, nil
}

// Diff computes the difference between the registry and the live schema
func (d *Differ) Diff(live *dbschema.DatabaseSchema) (*SchemaDifference, error) {
	desired, _, err := d.Desired()
	if err != nil {
		return nil, err
	}
	if live == nil {
		live = &dbschema.DatabaseSchema{}
	}

	diff := &SchemaDifference{}
	for _, t := range desired.Tables {
		liveTable, ok := live.Table(t.QualifiedName())
		if !ok {
			diff.NewTables = append(diff.NewTables, t)
			continue
		}
		if td := d.DiffTable(t, liveTable); !td.Empty() {
			diff.ChangedTables = append(diff.ChangedTables, td)
		}
	}

	if d.dropTables && !d.safe {
		for i := len(live.Tables) - 1; i >= 0; i-- {
			if _, ok := desired.Table(live.Tables[i].QualifiedName()); !ok {
				diff.RemovedTables = append(diff.RemovedTables, live.Tables[i])
			}
		}
	}

	d.logger.Debug("schema difference computed",
		zap.String("platform", d.platform.Name()),
		zap.Int("new_tables", len(diff.NewTables)),
		zap.Int("changed_tables", len(diff.ChangedTables)),
		zap.Int("removed_tables", len(diff.RemovedTables)))
	return diff, nil
}

// DiffTable computes the changes that turn the live table into the desired one
func (d *Differ) DiffTable(desired, live *dbschema.Table) *TableDifference {
	diff := &TableDifference{Table: desired, Live: live}

	for _, col := range desired.Columns {
		liveCol, ok := live.Column(col.Name)
		if !ok {
			diff.Create = append(diff.Create, col)
			continue
		}
		cmp := d.platform.CompareColumns(col.Info(), liveCol.Info())
		if cmp.Changed() && d.platform.SupportsColumnAlter() {
			diff.Update = append(diff.Update, &ColumnChange{Column: col, From: liveCol, Diff: cmp})
		}
	}

	var remove []*dbschema.Column
	for _, col := range live.Columns {
		if _, ok := desired.Column(col.Name); !ok {
			remove = append(remove, col)
		}
	}

	diff.Create, remove, diff.Rename = d.detectRenames(diff.Create, remove)
	if !d.safe {
		diff.Remove = remove
	}

	d.diffIndexes(diff, remove)
	d.diffForeignKeys(diff)
	return diff
}

// detectRenames reclassifies a create/remove pair as a rename when the live column, once renamed,
// would be structurally identical to the desired one
func (d *Differ) detectRenames(create, remove []*dbschema.Column) ([]*dbschema.Column, []*dbschema.Column, []*ColumnRename) {
	var (
		renames []*ColumnRename
		kept    []*dbschema.Column
		used    = make(map[*dbschema.Column]bool)
	)

	for _, col := range create {
		var match *dbschema.Column
		for _, candidate := range remove {
			if used[candidate] {
				continue
			}
			if !d.platform.CompareColumns(col.Info(), candidate.Info()).Changed() {
				match = candidate
				break
			}
		}
		if match == nil {
			kept = append(kept, col)
			continue
		}
		used[match] = true
		renames = append(renames, &ColumnRename{From: match, To: col})
	}

	var left []*dbschema.Column
	for _, col := range remove {
		if !used[col] {
			left = append(left, col)
		}
	}
	return kept, left, renames
}

func (d *Differ) diffIndexes(diff *TableDifference, removed []*dbschema.Column) {
	desired, live := diff.Table, diff.Live

	for _, idx := range desired.Indexes {
		if idx.Primary {
			continue
		}
		if _, ok := live.Index(idx.Name); !ok {
			diff.AddIndex = append(diff.AddIndex, idx)
		}
	}

	if d.safe {
		return
	}

	gone := make(map[string]bool, len(removed))
	for _, c := range removed {
		gone[c.Name] = true
	}

	for _, idx := range live.Indexes {
		if idx.Primary {
			continue
		}
		if _, ok := desired.Index(idx.Name); ok {
			continue
		}
		// backing index of a foreign key
		if _, ok := live.ForeignKey(idx.Name); ok {
			continue
		}
		if coversAny(idx.Columns, gone) {
			continue
		}
		diff.DropIndex = append(diff.DropIndex, idx)
	}
}

func (d *Differ) diffForeignKeys(diff *TableDifference) {
	if !d.platform.SupportsSchemaConstraints() {
		return
	}
	desired, live := diff.Table, diff.Live

	for _, fk := range desired.ForeignKeys {
		liveFK, ok := live.ForeignKey(fk.Name)
		switch {
		case !ok:
			diff.AddForeignKey = append(diff.AddForeignKey, fk)
		case !sameReference(fk, liveFK) && !d.safe:
			diff.DropForeignKey = append(diff.DropForeignKey, liveFK)
			diff.AddForeignKey = append(diff.AddForeignKey, fk)
		}
	}

	if d.safe {
		return
	}
	for _, fk := range live.ForeignKeys {
		if _, ok := desired.ForeignKey(fk.Name); !ok {
			diff.DropForeignKey = append(diff.DropForeignKey, fk)
		}
	}
}

func sameReference(a, b *dbschema.ForeignKey) bool {
	return unqualified(a.ReferencedTable) == unqualified(b.ReferencedTable) &&
		equalStrings(a.Columns, b.Columns) &&
		equalStrings(a.ReferencedColumns, b.ReferencedColumns)
}

func unqualified(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[i+1:]
	}
	return table
}

func coversAny(columns []string, set map[string]bool) bool {
	for _, c := range columns {
		if set[c] {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
