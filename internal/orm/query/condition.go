// Package query compiles declarative conditions, joins and orderings over the entity metadata
// into parameterized SQL.
package query

// Operator is a comparison operator of a condition leaf
type Operator string

const (
	OpEq       Operator = "$eq"
	OpNe       Operator = "$ne"
	OpIn       Operator = "$in"
	OpNin      Operator = "$nin"
	OpGt       Operator = "$gt"
	OpGte      Operator = "$gte"
	OpLt       Operator = "$lt"
	OpLte      Operator = "$lte"
	OpLike     Operator = "$like"
	OpRe       Operator = "$re"
	OpFullText Operator = "$fulltext"
)

// String returns the operator key
func (o Operator) String() string {
	return string(o)
}

// Valid reports whether o is a known comparison operator
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpIn, OpNin, OpGt, OpGte, OpLt, OpLte, OpLike, OpRe, OpFullText:
		return true
	default:
		return false
	}
}

var comparisonSQL = map[Operator]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// Logical combines the members of a group
type Logical string

const (
	LogicalAnd Logical = "$and"
	LogicalOr  Logical = "$or"
)

// Condition is a node of a condition tree: *Leaf, *Group, *Not or *Raw
type Condition interface {
	isCondition()
}

// Leaf compares a field with a value
type Leaf struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Group joins its members with AND or OR
type Group struct {
	Logical Logical
	Members []Condition
}

// Not negates a nested condition
type Not struct {
	Inner Condition
}

// Raw is a SQL fragment with "?" markers for its parameters
type Raw struct {
	SQL    string
	Params []interface{}
}

func (*Leaf) isCondition()  {}
func (*Group) isCondition() {}
func (*Not) isCondition()   {}
func (*Raw) isCondition()   {}

// Where creates a leaf
func Where(field string, op Operator, value interface{}) *Leaf {
	return &Leaf{Field: field, Operator: op, Value: value}
}

// Eq creates an equality leaf
func Eq(field string, value interface{}) *Leaf {
	return Where(field, OpEq, value)
}

// In creates a membership leaf
func In(field string, values ...interface{}) *Leaf {
	return Where(field, OpIn, values)
}

// And groups conditions with AND
func And(members ...Condition) *Group {
	return &Group{Logical: LogicalAnd, Members: members}
}

// Or groups conditions with OR
func Or(members ...Condition) *Group {
	return &Group{Logical: LogicalOr, Members: members}
}

// Negate wraps a condition in NOT
func Negate(inner Condition) *Not {
	return &Not{Inner: inner}
}

// Expr creates a raw SQL condition
func Expr(sql string, params ...interface{}) *Raw {
	return &Raw{SQL: sql, Params: params}
}

// isEmpty reports whether a condition compiles to nothing
func isEmpty(c Condition) bool {
	switch n := c.(type) {
	case nil:
		return true
	case *Group:
		if n == nil {
			return true
		}
		for _, m := range n.Members {
			if !isEmpty(m) {
				return false
			}
		}
		return true
	case *Not:
		return n == nil || isEmpty(n.Inner)
	case *Raw:
		return n == nil || n.SQL == ""
	case *Leaf:
		return n == nil
	default:
		return false
	}
}

func nonEmptyMembers(members []Condition) []Condition {
	out := make([]Condition, 0, len(members))
	for _, m := range members {
		if !isEmpty(m) {
			out = append(out, m)
		}
	}
	return out
}
