// Package queryfield turns "table.field" references with an optional
// coalesce default, aggregation and alias into SQL expressions.
//
// The rendered, table-qualified SQL of a field (alias included) is its
// canonical name. Two specs that render the same SQL are the same field.
package queryfield

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
)

// Resolver validates a table/field pair against a data source schema and
// returns a renderable column handle.
type Resolver interface {
	ResolveColumn(ctx context.Context, table, field string) (builder.Column, error)
}

// Spec is the stored description of a query field.
type Spec struct {
	Field       string      `json:"field" yaml:"field"`
	Aggregation Aggregation `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	Coalesce    *Coalesce   `json:"coalesce,omitempty" yaml:"coalesce,omitempty"`
	Alias       string      `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// Coalesce holds the value substituted for NULL.
type Coalesce struct {
	Value any `json:"value" yaml:"value"`
}

// QueryField is a built Spec. It is not modified after Build.
type QueryField struct {
	// Name is the canonical identifier: the qualified SQL including alias.
	Name string

	spec      Spec
	column    builder.Column
	qualified builder.Fd
	plain     builder.Fd
}

// Build resolves spec and composes its expression. Coalesce is applied
// first, then the aggregation, then the alias, so aggregation always wraps
// the coalesced column.
func Build(ctx context.Context, resolver Resolver, spec Spec) (*QueryField, error) {
	table, field, ok := strings.Cut(spec.Field, ".")
	if !ok || table == "" || field == "" {
		return nil, errors.WithStack(&FormatError{Spec: spec.Field})
	}

	column, err := resolver.ResolveColumn(ctx, table, field)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", spec.Field)
	}

	qualified, plain := column.Qualified(), column.Plain()

	if spec.Coalesce != nil {
		spec.Coalesce = &Coalesce{Value: Normalize(spec.Coalesce.Value)}
		if !compatible(column.Type, spec.Coalesce.Value) {
			slog.WarnContext(ctx, "coalesce default does not match column type",
				"field", spec.Field, "type", column.Type, "default", spec.Coalesce.Value)
		}
		fallback := column.Dialect.Value(spec.Coalesce.Value)
		qualified = builder.Coalesce(qualified, fallback)
		plain = builder.Coalesce(plain, fallback)
	}

	if spec.Aggregation != None {
		agg, err := ParseAggregation(string(spec.Aggregation))
		if err != nil {
			return nil, err
		}
		spec.Aggregation = agg
		if qualified, err = agg.Apply(qualified); err != nil {
			return nil, err
		}
		if plain, err = agg.Apply(plain); err != nil {
			return nil, err
		}
	}

	if spec.Alias != "" {
		qualified = qualified.As(spec.Alias)
		plain = plain.As(spec.Alias)
	}

	return &QueryField{
		Name:      qualified.String(),
		spec:      spec,
		column:    column,
		qualified: qualified,
		plain:     plain,
	}, nil
}

// SQL renders the expression with or without table-qualified column names.
func (q *QueryField) SQL(qualified bool) string {
	if qualified {
		return q.qualified.String()
	}
	return q.plain.String()
}

// Expr is the qualified expression, ready for builder.SqlBuilder.Select.
func (q *QueryField) Expr() builder.Fd {
	return q.qualified
}

// GroupExpr is the qualified expression without the alias, for GROUP BY.
func (q *QueryField) GroupExpr() builder.Fd {
	expr := q.column.Qualified()
	if q.spec.Coalesce != nil {
		expr = builder.Coalesce(expr, q.column.Dialect.Value(q.spec.Coalesce.Value))
	}
	return expr
}

func (q *QueryField) Spec() Spec {
	return q.spec
}

func (q *QueryField) Column() builder.Column {
	return q.column
}

func (q *QueryField) IsAggregate() bool {
	return q.spec.Aggregation != None
}

// Label is the name of the result column: the alias, or the field name
// when there is none.
func (q *QueryField) Label() string {
	if q.spec.Alias != "" {
		return q.spec.Alias
	}
	if q.IsAggregate() {
		return q.SQL(false)
	}
	return q.column.Name
}
