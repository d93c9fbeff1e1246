package planner

import (
	"context"
	"fmt"
	"strings"

	"omnifetch/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the few SQL differences between supported stores.
type Dialect struct {
	Name string
	// NullSafeEqual renders IS/IS_NOT comparisons with the <=> operator,
	// since MySQL does not accept a bound parameter after IS.
	NullSafeEqual bool
}

var (
	// DialectSQLite renders IS comparisons as "IS ?".
	DialectSQLite = Dialect{Name: "sqlite"}
	// DialectMySQL covers MySQL and TiDB.
	DialectMySQL = Dialect{Name: "mysql", NullSafeEqual: true}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql", "tidb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect %q", driver)
	}
}

// Predicate is a node of a WHERE tree built from filters. Trees are
// dialect-neutral; use Sqlizer to render one for a specific store.
type Predicate interface {
	sq.Sqlizer
	render(d Dialect) (string, []any, error)
	writeNamed(b *strings.Builder, params map[string]any)
}

// Comparison is a single comparison against one bound parameter. List values
// bind as one parameter set and render as IN / NOT IN.
type Comparison struct {
	Qualifier  string
	Column     string
	Comparator Comparator
	Param      string
	Value      Value
}

// Junction combines the tree built so far (Left) with the next comparison.
type Junction struct {
	Op    Condition
	Left  Predicate
	Right Predicate
}

// ToSql renders the comparison with DialectSQLite.
func (c *Comparison) ToSql() (string, []any, error) {
	return c.render(DialectSQLite)
}

func (c *Comparison) render(d Dialect) (string, []any, error) {
	column := sqlutil.QuoteQualified(c.Qualifier, c.Column)
	if c.Value.IsList() {
		if c.Comparator == CmpNot {
			return sq.NotEq{column: c.Value.List()}.ToSql()
		}
		return sq.Eq{column: c.Value.List()}.ToSql()
	}

	arg := []any{c.Value.Scalar()}
	switch c.Comparator {
	case CmpIs:
		if d.NullSafeEqual {
			return column + " <=> ?", arg, nil
		}
		return column + " IS ?", arg, nil
	case CmpIsNot:
		if d.NullSafeEqual {
			return "NOT " + column + " <=> ?", arg, nil
		}
		return "NOT " + column + " IS ?", arg, nil
	case CmpLike:
		return column + " LIKE ?", arg, nil
	case CmpGT, CmpLT, CmpEq, CmpGTE, CmpLTE, CmpNot:
		return fmt.Sprintf("%s %s ?", column, c.Comparator), arg, nil
	default:
		return "", nil, fmt.Errorf("unsupported comparator %q", c.Comparator)
	}
}

func (c *Comparison) field() string {
	if c.Qualifier == "" {
		return c.Column
	}
	return c.Qualifier + "." + c.Column
}

func (c *Comparison) writeNamed(b *strings.Builder, params map[string]any) {
	params[c.Param] = c.Value.Arg()
	field := c.field()
	if c.Value.IsList() {
		op := "IN"
		if c.Comparator == CmpNot {
			op = "NOT IN"
		}
		fmt.Fprintf(b, "%s %s (:%s)", field, op, c.Param)
		return
	}
	switch c.Comparator {
	case CmpIsNot:
		fmt.Fprintf(b, "NOT %s IS :%s", field, c.Param)
	default:
		fmt.Fprintf(b, "%s %s :%s", field, c.Comparator, c.Param)
	}
}

// ToSql renders the junction with DialectSQLite.
func (j *Junction) ToSql() (string, []any, error) {
	return j.render(DialectSQLite)
}

func (j *Junction) render(d Dialect) (string, []any, error) {
	leftSQL, leftArgs, err := j.Left.render(d)
	if err != nil {
		return "", nil, err
	}
	rightSQL, rightArgs, err := j.Right.render(d)
	if err != nil {
		return "", nil, err
	}
	args := append(append([]any{}, leftArgs...), rightArgs...)
	return fmt.Sprintf("(%s) %s (%s)", leftSQL, j.Op, rightSQL), args, nil
}

func (j *Junction) writeNamed(b *strings.Builder, params map[string]any) {
	b.WriteString("(")
	j.Left.writeNamed(b, params)
	fmt.Fprintf(b, ") %s (", j.Op)
	j.Right.writeNamed(b, params)
	b.WriteString(")")
}

// Sqlizer adapts p for squirrel using the given dialect.
func Sqlizer(p Predicate, d Dialect) sq.Sqlizer {
	return dialectSqlizer{pred: p, dialect: d}
}

type dialectSqlizer struct {
	pred    Predicate
	dialect Dialect
}

func (s dialectSqlizer) ToSql() (string, []any, error) {
	return s.pred.render(s.dialect)
}

// Named renders p with named parameters (":p_0") and returns the bindings.
// A nil predicate renders as the empty string.
func Named(p Predicate) (string, map[string]any) {
	params := make(map[string]any)
	if p == nil {
		return "", params
	}
	var b strings.Builder
	p.writeNamed(&b, params)
	return b.String(), params
}

// Params returns the named parameter bindings of p. A list value is bound as a
// single parameter holding the whole list.
func Params(p Predicate) map[string]any {
	_, params := Named(p)
	return params
}

// Comparisons lists the leaves of p from left to right.
func Comparisons(p Predicate) []*Comparison {
	var out []*Comparison
	var walk func(Predicate)
	walk = func(node Predicate) {
		switch n := node.(type) {
		case *Comparison:
			out = append(out, n)
		case *Junction:
			walk(n.Left)
			walk(n.Right)
		}
	}
	if p != nil {
		walk(p)
	}
	return out
}

// BuildPredicate builds the WHERE tree for filters on the root entity. The
// first valid filter seeds the tree and every later one is ANDed or ORed onto
// everything before it, left to right. Parameters are numbered p_0, p_1, ...
// in filter order. Returns nil when no filter is usable.
func BuildPredicate(root string, filters []Filter) Predicate {
	return newBuildState(context.Background(), nil, root).predicate(filters)
}

func (s *buildState) predicate(filters []Filter) Predicate {
	var tree Predicate
	for _, f := range filters {
		if !f.Valid() {
			continue
		}
		qualifier, column := qualifyField(s.root, f.Field)
		cmp := &Comparison{
			Qualifier:  qualifier,
			Column:     column,
			Comparator: ParseComparator(string(f.Comparator)),
			Param:      s.nextParam(),
			Value:      f.Value,
		}
		if tree == nil {
			tree = cmp
			continue
		}
		tree = &Junction{Op: ParseCondition(string(f.Condition)), Left: tree, Right: cmp}
	}
	return tree
}

// qualifyField splits a filter field into alias and column. Plain fields
// belong to the root entity; dotted fields keep only their last two segments
// because earlier hops only establish the join path.
func qualifyField(root, field string) (string, string) {
	parts := strings.Split(strings.TrimSpace(field), ".")
	if len(parts) == 1 {
		return root, parts[0]
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
