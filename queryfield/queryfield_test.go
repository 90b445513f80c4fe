package queryfield

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preceeder/go.insights/builder"
)

var sales = Static{
	"Sales": {"amount": "decimal(10,2)", "region": "varchar(32)", "qty": "int"},
	"Users": {"name": "text"},
}

func build(t *testing.T, spec Spec) *QueryField {
	t.Helper()
	qf, err := Build(context.Background(), sales, spec)
	require.NoError(t, err)
	return qf
}

func TestBuildPlainField(t *testing.T) {
	qf := build(t, Spec{Field: "Sales.amount"})

	col, err := sales.ResolveColumn(context.Background(), "Sales", "amount")
	require.NoError(t, err)
	assert.Equal(t, col.Qualified().String(), qf.SQL(true))
	assert.Equal(t, "`Sales`.`amount`", qf.Name)
	assert.Equal(t, "`amount`", qf.SQL(false))
	assert.False(t, qf.IsAggregate())
	assert.Equal(t, "amount", qf.Label())
}

func TestBuildExamples(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want string
	}{
		{
			name: "sum with alias",
			spec: Spec{Field: "Sales.amount", Aggregation: Sum, Alias: "total"},
			want: "SUM(`Sales`.`amount`) AS `total`",
		},
		{
			name: "coalesce",
			spec: Spec{Field: "Sales.amount", Coalesce: &Coalesce{Value: 0}},
			want: "COALESCE(`Sales`.`amount`, 0)",
		},
		{
			name: "aggregation wraps coalesce",
			spec: Spec{Field: "Sales.amount", Aggregation: Sum, Coalesce: &Coalesce{Value: 0}},
			want: "SUM(COALESCE(`Sales`.`amount`, 0))",
		},
		{
			name: "all steps",
			spec: Spec{Field: "Sales.qty", Aggregation: Avg, Coalesce: &Coalesce{Value: 1.5}, Alias: "avg_qty"},
			want: "AVG(COALESCE(`Sales`.`qty`, 1.5)) AS `avg_qty`",
		},
		{
			name: "count distinct",
			spec: Spec{Field: "Sales.region", Aggregation: CountDistinct},
			want: "COUNT(DISTINCT `Sales`.`region`)",
		},
		{
			name: "string default",
			spec: Spec{Field: "Sales.region", Coalesce: &Coalesce{Value: "n/a"}},
			want: "COALESCE(`Sales`.`region`, 'n/a')",
		},
		{
			name: "legacy aggregation spelling",
			spec: Spec{Field: "Sales.amount", Aggregation: "sum"},
			want: "SUM(`Sales`.`amount`)",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			qf := build(t, c.spec)
			assert.Equal(t, c.want, qf.SQL(true))
			assert.Equal(t, c.want, qf.Name)
		})
	}
}

func TestBuildUnqualified(t *testing.T) {
	qf := build(t, Spec{Field: "Sales.amount", Aggregation: Max, Coalesce: &Coalesce{Value: 0}, Alias: "m"})
	assert.Equal(t, "MAX(COALESCE(`amount`, 0)) AS `m`", qf.SQL(false))
	assert.Equal(t, "COALESCE(`Sales`.`amount`, 0)", qf.GroupExpr().String())
}

func TestBuildFormatError(t *testing.T) {
	for _, field := range []string{"amount", "", ".amount", "Sales."} {
		_, err := Build(context.Background(), sales, Spec{Field: field})
		var fe *FormatError
		require.Error(t, err)
		assert.True(t, errors.As(err, &fe), "field %q: %v", field, err)
		assert.True(t, IsUserError(err))
	}
}

func TestBuildUnsupportedAggregation(t *testing.T) {
	for _, kind := range []Aggregation{"median", "Sum()", "stddev"} {
		_, err := Build(context.Background(), sales, Spec{Field: "Sales.amount", Aggregation: kind})
		var ae *UnsupportedAggregationError
		require.Error(t, err)
		assert.True(t, errors.As(err, &ae), "kind %q: %v", kind, err)
		assert.Equal(t, string(kind), ae.Kind)
	}
}

func TestApplyRejectsUnknownKind(t *testing.T) {
	col := build(t, Spec{Field: "Sales.amount"}).Expr()
	_, err := Aggregation("Median").Apply(col)
	var ae *UnsupportedAggregationError
	require.True(t, errors.As(err, &ae))

	for _, kind := range Aggregations {
		_, err := kind.Apply(col)
		assert.NoError(t, err, "kind %s", kind)
	}
}

func TestBuildUnknownColumn(t *testing.T) {
	_, err := Build(context.Background(), sales, Spec{Field: "Sales.missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = Build(context.Background(), sales, Spec{Field: "Nope.amount"})
	assert.True(t, errors.Is(err, ErrUnknownColumn))
}

func TestBuildIsIdempotent(t *testing.T) {
	spec := Spec{Field: "Sales.amount", Aggregation: Sum, Coalesce: &Coalesce{Value: 0}, Alias: "total"}
	a := build(t, spec)
	b := build(t, spec)
	assert.Equal(t, a.SQL(true), b.SQL(true))
	assert.Equal(t, a.Name, b.Name)
}

func TestBuildStoredNumbers(t *testing.T) {
	fresh := build(t, Spec{Field: "Sales.qty", Coalesce: &Coalesce{Value: int64(9007199254740993)}})
	stored := build(t, Spec{Field: "Sales.qty", Coalesce: &Coalesce{Value: json.Number("9007199254740993")}})
	assert.Equal(t, "COALESCE(`Sales`.`qty`, 9007199254740993)", stored.Name)
	assert.Equal(t, fresh.Name, stored.Name)
	assert.Equal(t, int64(9007199254740993), stored.Spec().Coalesce.Value)

	stored = build(t, Spec{Field: "Sales.amount", Coalesce: &Coalesce{Value: json.Number("1e+21")}})
	assert.Equal(t, build(t, Spec{Field: "Sales.amount", Coalesce: &Coalesce{Value: 1e21}}).Name, stored.Name)

	assert.Equal(t, "x", Normalize("x"))
	assert.Equal(t, 1.5, Normalize(json.Number("1.5")))
}

type sqliteSales struct{ Static }

func (r sqliteSales) ResolveColumn(ctx context.Context, table, field string) (builder.Column, error) {
	c, err := r.Static.ResolveColumn(ctx, table, field)
	c.Dialect = builder.SQLite
	return c, err
}

func TestBuildDialectLiteral(t *testing.T) {
	spec := Spec{Field: "Sales.region", Coalesce: &Coalesce{Value: `a\b'c`}}
	assert.Equal(t, "COALESCE(`Sales`.`region`, 'a\\\\b''c')", build(t, spec).Name)

	qf, err := Build(context.Background(), sqliteSales{sales}, spec)
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(`Sales`.`region`, 'a\\b''c')", qf.Name)
	assert.Equal(t, qf.SQL(true), qf.GroupExpr().String())
}

func TestCanonicalNameCollision(t *testing.T) {
	set := NewSet()
	require.NoError(t, set.Add(build(t, Spec{Field: "Sales.amount", Aggregation: Sum})))
	require.NoError(t, set.Add(build(t, Spec{Field: "Sales.amount", Aggregation: Sum, Alias: "total"})))

	// different spelling, same SQL
	err := set.Add(build(t, Spec{Field: "Sales.amount", Aggregation: "SUM"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.Equal(t, 2, set.Len())

	qf, ok := set.Get("SUM(`Sales`.`amount`) AS `total`")
	require.True(t, ok)
	assert.Equal(t, "total", qf.Label())
}

func TestParseAggregation(t *testing.T) {
	cases := map[string]Aggregation{
		"":               None,
		"Sum":            Sum,
		"COUNT":          Count,
		"count_distinct": CountDistinct,
		"distinct_count": CountDistinct,
		"average":        Avg,
		" min ":          Min,
		"Max":            Max,
	}
	for in, want := range cases {
		got, err := ParseAggregation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAggregation("p95")
	assert.Error(t, err)
}

func TestCompatible(t *testing.T) {
	assert.True(t, compatible("int", 0))
	assert.True(t, compatible("decimal(10,2)", "0"))
	assert.True(t, compatible("varchar(10)", "x"))
	assert.True(t, compatible("", "x"))
	assert.True(t, compatible("int", nil))
	assert.False(t, compatible("int", "none"))
	assert.False(t, compatible("text", 3))
}
