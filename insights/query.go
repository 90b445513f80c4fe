// Package insights composes query fields into report queries, runs them and
// persists their definitions.
package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
	"github.com/preceeder/go.insights/queryfield"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

type JoinType string

const (
	LeftJoin  JoinType = "left"
	InnerJoin JoinType = "inner"
	RightJoin JoinType = "right"
)

type Operator string

const (
	OpEq        Operator = "="
	OpNotEq     Operator = "!="
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpLike      Operator = "like"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not in"
	OpIsNull    Operator = "is null"
	OpIsNotNull Operator = "is not null"
)

// Query is a saved report definition.
type Query struct {
	Name       string            `json:"name" yaml:"name"`
	DataSource string            `json:"dataSource" yaml:"dataSource"`
	Table      string            `json:"table" yaml:"table"`
	Fields     []queryfield.Spec `json:"fields" yaml:"fields"`
	Joins      []Join            `json:"joins,omitempty" yaml:"joins,omitempty"`
	Filters    []Filter          `json:"filters,omitempty" yaml:"filters,omitempty"`
	OrderBy    []Order           `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Limit      int               `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Join adds Table to the query on Left = Right, both "table.field".
type Join struct {
	Type  JoinType `json:"type" yaml:"type"`
	Table string   `json:"table" yaml:"table"`
	Left  string   `json:"left" yaml:"left"`
	Right string   `json:"right" yaml:"right"`
}

type Filter struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Order sorts by a field alias or a "table.field" reference.
type Order struct {
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// Compiled is a query rendered for its data source.
type Compiled struct {
	SQL     string
	Params  map[string]any
	Fields  []*queryfield.QueryField
	Columns []string
}

// Compile validates q against resolver and renders it. Every field is built
// with queryfield.Build; fields with the same canonical name are rejected.
// When any field aggregates, the others are grouped by.
func Compile(ctx context.Context, resolver queryfield.Resolver, q Query) (*Compiled, error) {
	if q.Table == "" {
		return nil, errors.Wrap(ErrInvalidQuery, "table is required")
	}
	if len(q.Fields) == 0 {
		return nil, errors.Wrap(ErrInvalidQuery, "at least one field is required")
	}

	set := queryfield.NewSet()
	for _, spec := range q.Fields {
		qf, err := queryfield.Build(ctx, resolver, spec)
		if err != nil {
			return nil, err
		}
		if err := set.Add(qf); err != nil {
			return nil, err
		}
	}
	fields := set.Fields()
	labels, err := resultLabels(fields)
	if err != nil {
		return nil, err
	}

	b := builder.Table(q.Table)
	for i, qf := range fields {
		if labels[i] != qf.Label() {
			b.Select(qf.Expr().As(labels[i]))
			continue
		}
		b.Select(qf.Expr())
	}

	for _, j := range q.Joins {
		if err := addJoin(ctx, resolver, b, j); err != nil {
			return nil, err
		}
	}

	for i, f := range q.Filters {
		expr, err := filterExpr(ctx, resolver, f, fmt.Sprintf("f%d", i))
		if err != nil {
			return nil, err
		}
		b.Where(expr)
	}

	if slice.Some(fields, func(_ int, qf *queryfield.QueryField) bool { return qf.IsAggregate() }) {
		for _, qf := range slice.Filter(fields, func(_ int, qf *queryfield.QueryField) bool { return !qf.IsAggregate() }) {
			b.Group(qf.GroupExpr())
		}
	}

	for _, o := range q.OrderBy {
		fd, err := orderExpr(ctx, resolver, fields, o)
		if err != nil {
			return nil, err
		}
		b.Order(fd)
	}

	b.Limit(clampLimit(q.Limit))
	if q.Offset > 0 {
		b.Offset(q.Offset)
	}

	sql, params := b.Query()
	return &Compiled{
		SQL:     sql,
		Params:  params,
		Fields:  fields,
		Columns: labels,
	}, nil
}

// resultLabels names the result columns. An unaliased field whose label is
// shared with another field falls back to "table.field", or to its
// qualified SQL when it aggregates.
func resultLabels(fields []*queryfield.QueryField) ([]string, error) {
	counts := make(map[string]int, len(fields))
	for _, qf := range fields {
		counts[qf.Label()]++
	}
	labels := make([]string, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for i, qf := range fields {
		label := qf.Label()
		if counts[label] > 1 && qf.Spec().Alias == "" {
			if qf.IsAggregate() {
				label = qf.SQL(true)
			} else {
				label = qf.Column().Ref()
			}
		}
		if _, ok := seen[label]; ok {
			return nil, errors.Wrapf(queryfield.ErrDuplicateName, "result column %q", label)
		}
		seen[label] = struct{}{}
		labels[i] = label
	}
	return labels, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// resolveRef resolves a "table.field" reference that is not a query field.
func resolveRef(ctx context.Context, resolver queryfield.Resolver, ref string) (builder.Column, error) {
	table, field, ok := strings.Cut(ref, ".")
	if !ok || table == "" || field == "" {
		return builder.Column{}, errors.WithStack(&queryfield.FormatError{Spec: ref})
	}
	column, err := resolver.ResolveColumn(ctx, table, field)
	if err != nil {
		return builder.Column{}, errors.Wrapf(err, "resolve %s", ref)
	}
	return column, nil
}

func addJoin(ctx context.Context, resolver queryfield.Resolver, b *builder.SqlBuilder, j Join) error {
	if j.Table == "" {
		return errors.Wrap(ErrInvalidQuery, "join table is required")
	}
	left, err := resolveRef(ctx, resolver, j.Left)
	if err != nil {
		return err
	}
	right, err := resolveRef(ctx, resolver, j.Right)
	if err != nil {
		return err
	}
	if left.Table != j.Table && right.Table != j.Table {
		return errors.Wrapf(ErrInvalidQuery, "join on %s = %s does not reference %s", j.Left, j.Right, j.Table)
	}

	on := left.Qualified().Eq(right.Qualified())
	table := builder.Table(j.Table)
	switch JoinType(strings.ToLower(string(j.Type))) {
	case LeftJoin, "":
		b.LeftJoin(table, on)
	case InnerJoin:
		b.InnerJoin(table, on)
	case RightJoin:
		b.RightJoin(table, on)
	default:
		return errors.Wrapf(ErrUnsupportedJoin, "%q", j.Type)
	}
	return nil
}

func filterExpr(ctx context.Context, resolver queryfield.Resolver, f Filter, key string) (builder.Expr, error) {
	column, err := resolveRef(ctx, resolver, f.Field)
	if err != nil {
		return nil, err
	}
	col := column.Qualified()

	op := Operator(strings.ToLower(strings.Join(strings.Fields(string(f.Operator)), " ")))
	switch op {
	case OpIsNull:
		return col.IsNull(), nil
	case OpIsNotNull:
		return col.IsNotNull(), nil
	case OpIn, OpNotIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return nil, errors.Wrapf(ErrInvalidQuery, "filter %s %s needs a non-empty list", f.Field, op)
		}
		values = slice.Map(values, func(_ int, v any) any { return queryfield.Normalize(v) })
		if op == OpIn {
			return col.In(values, key), nil
		}
		return col.NotIn(values, key), nil
	}

	if f.Value == nil {
		return nil, errors.Wrapf(ErrInvalidQuery, "filter %s %s needs a value", f.Field, op)
	}
	value := queryfield.Normalize(f.Value)
	switch op {
	case OpEq:
		return col.Eq(value, key), nil
	case OpNotEq:
		return col.NotEq(value, key), nil
	case OpGt:
		return col.Gt(value, key), nil
	case OpGte:
		return col.Gte(value, key), nil
	case OpLt:
		return col.Lt(value, key), nil
	case OpLte:
		return col.Lte(value, key), nil
	case OpLike:
		return col.Like(value, key), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedOperator, "%q", f.Operator)
}

func orderExpr(ctx context.Context, resolver queryfield.Resolver, fields []*queryfield.QueryField, o Order) (builder.Fd, error) {
	var fd builder.Fd
	if qf, ok := slice.FindBy(fields, func(_ int, qf *queryfield.QueryField) bool {
		return qf.Spec().Alias != "" && qf.Spec().Alias == o.Field
	}); ok {
		fd = builder.NewField(builder.QuoteIdent(qf.Spec().Alias))
	} else {
		column, err := resolveRef(ctx, resolver, o.Field)
		if err != nil {
			return fd, err
		}
		fd = column.Qualified()
	}
	if o.Desc {
		return fd.Desc(), nil
	}
	return fd, nil
}
