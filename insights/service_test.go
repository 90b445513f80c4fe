package insights

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preceeder/go.insights/datasource"
	"github.com/preceeder/go.insights/embed"
	"github.com/preceeder/go.insights/queryfield"
	"github.com/preceeder/go.insights/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sources, err := datasource.OpenRegistry(ctx, []datasource.Config{
		{Name: "shop", Type: datasource.SQLite, Path: filepath.Join(dir, "shop.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sources.Close() })

	src, err := sources.Get("shop")
	require.NoError(t, err)
	for _, stmt := range []string{
		"CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, amount INTEGER)",
		"CREATE TABLE regions (code TEXT PRIMARY KEY, name TEXT)",
		"INSERT INTO regions VALUES ('e', 'East'), ('w', 'West')",
		"INSERT INTO sales (region, amount) VALUES ('e', 10), ('e', 20), ('w', 5), ('w', NULL)",
	} {
		_, err := src.Exec(ctx, stmt, nil)
		require.NoError(t, err)
	}

	meta, err := datasource.Open(ctx, datasource.Config{Name: "meta", Type: datasource.SQLite, Path: filepath.Join(dir, "meta.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	st := store.New(meta)
	require.NoError(t, st.Migrate(ctx))

	signer, err := embed.NewSigner(embed.Config{Secret: "test", TTL: time.Hour})
	require.NoError(t, err)
	return NewService(sources, st, signer)
}

func TestServiceSchema(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	assert.Equal(t, []string{"shop"}, s.Sources())
	require.NoError(t, s.TestConnection(ctx, "shop"))

	tables, err := s.Tables(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"regions", "sales"}, tables)

	columns, err := s.Columns(ctx, "shop", "sales")
	require.NoError(t, err)
	assert.Len(t, columns, 3)

	_, err = s.Tables(ctx, "nope")
	assert.True(t, errors.Is(err, datasource.ErrUnknownSource))
}

func TestServiceQueryFields(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	rendered, err := s.RenderField(ctx, "shop", queryfield.Spec{Field: "sales.amount", Aggregation: queryfield.Sum, Alias: "total"})
	require.NoError(t, err)
	assert.Equal(t, "SUM(`sales`.`amount`) AS `total`", rendered.SQL)
	assert.Equal(t, rendered.SQL, rendered.Name)

	_, err = s.RenderField(ctx, "shop", queryfield.Spec{Field: "sales.nope"})
	assert.True(t, errors.Is(err, queryfield.ErrUnknownColumn))

	saved, err := s.SaveQueryField(ctx, "shop", queryfield.Spec{Field: "sales.amount", Aggregation: queryfield.Sum})
	require.NoError(t, err)
	_, err = s.SaveQueryField(ctx, "shop", queryfield.Spec{Field: "sales.amount", Coalesce: &queryfield.Coalesce{Value: 0}})
	require.NoError(t, err)

	// renders to the same SQL as the first
	_, err = s.SaveQueryField(ctx, "shop", queryfield.Spec{Field: "sales.amount", Aggregation: "SUM"})
	assert.True(t, errors.Is(err, queryfield.ErrDuplicateName), "%v", err)

	records, err := s.ListQueryFields(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "COALESCE(`sales`.`amount`, 0)", records[0].Name)
	assert.Equal(t, saved.Name, records[1].Name)
	assert.Equal(t, queryfield.Sum, records[1].Spec.Aggregation)

	require.NoError(t, s.DeleteQueryField(ctx, saved.Name))
	assert.True(t, errors.Is(s.DeleteQueryField(ctx, saved.Name), store.ErrNotFound))
}

func TestServiceQueries(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	q := Query{
		Name:       "by region",
		DataSource: "shop",
		Table:      "sales",
		Fields: []queryfield.Spec{
			{Field: "regions.name", Alias: "region"},
			{Field: "sales.amount", Aggregation: queryfield.Sum, Coalesce: &queryfield.Coalesce{Value: 0}, Alias: "total"},
			{Field: "sales.id", Aggregation: queryfield.Count, Alias: "orders"},
		},
		Joins:   []Join{{Type: LeftJoin, Table: "regions", Left: "sales.region", Right: "regions.code"}},
		OrderBy: []Order{{Field: "total", Desc: true}},
	}
	require.NoError(t, s.SaveQuery(ctx, q))

	got, err := s.GetQuery(ctx, "by region")
	require.NoError(t, err)
	assert.Equal(t, q.Table, got.Table)
	assert.Len(t, got.Fields, 3)

	result, err := s.RunSavedQuery(ctx, "by region")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "total", "orders"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "East", result.Rows[0]["region"])
	assert.EqualValues(t, 30, result.Rows[0]["total"])
	assert.EqualValues(t, 5, result.Rows[1]["total"])
	assert.EqualValues(t, 2, result.Rows[1]["orders"])

	filtered := q
	filtered.Filters = []Filter{{Field: "sales.region", Operator: "in", Value: []any{"w"}}}
	result, err = s.RunQuery(ctx, filtered)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "West", result.Rows[0]["region"])

	assert.True(t, errors.Is(s.SaveQuery(ctx, Query{DataSource: "shop"}), ErrInvalidQuery))
	bad := q
	bad.Fields = []queryfield.Spec{{Field: "sales"}}
	assert.True(t, IsUserError(s.SaveQuery(ctx, bad)))

	require.NoError(t, s.DeleteQuery(ctx, "by region"))
	_, err = s.GetQuery(ctx, "by region")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestServiceRunSameColumnNames(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	src, err := s.sources.Get("shop")
	require.NoError(t, err)
	for _, stmt := range []string{
		"CREATE TABLE targets (region TEXT PRIMARY KEY, amount INTEGER)",
		"INSERT INTO targets VALUES ('e', 100), ('w', 50)",
	} {
		_, err := src.Exec(ctx, stmt, nil)
		require.NoError(t, err)
	}

	result, err := s.RunQuery(ctx, Query{
		DataSource: "shop",
		Table:      "sales",
		Fields: []queryfield.Spec{
			{Field: "sales.region"},
			{Field: "targets.region"},
			{Field: "sales.amount"},
			{Field: "targets.amount"},
		},
		Joins:   []Join{{Type: InnerJoin, Table: "targets", Left: "sales.region", Right: "targets.region"}},
		OrderBy: []Order{{Field: "sales.id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.region", "targets.region", "sales.amount", "targets.amount"}, result.Columns)
	require.Len(t, result.Rows, 4)
	first := result.Rows[0]
	assert.Len(t, first, 4)
	assert.Equal(t, "e", first["sales.region"])
	assert.Equal(t, "e", first["targets.region"])
	assert.EqualValues(t, 10, first["sales.amount"])
	assert.EqualValues(t, 100, first["targets.amount"])
	assert.Nil(t, result.Rows[3]["sales.amount"])
	assert.EqualValues(t, 50, result.Rows[3]["targets.amount"])
}

func TestServiceRunQuotedMarks(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	result, err := s.RunQuery(ctx, Query{
		DataSource: "shop",
		Table:      "sales",
		Fields: []queryfield.Spec{
			{Field: "sales.id"},
			{Field: "sales.amount", Coalesce: &queryfield.Coalesce{Value: "n/a ?:x"}, Alias: "amount"},
			{Field: "sales.amount", Coalesce: &queryfield.Coalesce{Value: `?:\`}, Alias: "path"},
		},
		Filters: []Filter{
			{Field: "sales.region", Operator: "in", Value: []any{"w"}},
			{Field: "sales.id", Operator: ">", Value: 0},
		},
		OrderBy: []Order{{Field: "sales.id"}},
	})
	require.NoError(t, err)
	assert.Contains(t, result.SQL, `COALESCE(`+"`sales`.`amount`"+`, '?:\') AS `+"`path`")
	require.Len(t, result.Rows, 2)
	assert.EqualValues(t, 5, result.Rows[0]["amount"])
	assert.Equal(t, "n/a ?:x", result.Rows[1]["amount"])
	assert.Equal(t, `?:\`, result.Rows[1]["path"])
}

func TestServiceShare(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	_, err := s.ShareQuery(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.SaveQuery(ctx, Query{
		Name:       "regions",
		DataSource: "shop",
		Table:      "regions",
		Fields:     []queryfield.Spec{{Field: "regions.name"}},
		OrderBy:    []Order{{Field: "regions.name"}},
	}))
	share, err := s.ShareQuery(ctx, "regions")
	require.NoError(t, err)
	assert.NotEmpty(t, share.Token)

	result, err := s.RunShared(ctx, share.Token)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "East", result.Rows[0]["name"])

	_, err = s.RunShared(ctx, share.Token+"x")
	assert.True(t, errors.Is(err, embed.ErrInvalidToken))
}
