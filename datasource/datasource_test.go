package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preceeder/go.insights/builder"
	"github.com/preceeder/go.insights/queryfield"
)

func openSQLite(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	client, err := Open(ctx, Config{Name: "local", Type: SQLite, Path: filepath.Join(t.TempDir(), "insights.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Exec(ctx, "CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, amount DECIMAL(10,2), qty INT)", nil)
	require.NoError(t, err)
	for _, row := range []map[string]any{
		{"id": 1, "region": "east", "amount": 10, "qty": 1},
		{"id": 2, "region": "east", "amount": 20, "qty": 2},
		{"id": 3, "region": "west", "amount": 5, "qty": nil},
	} {
		q, params := builder.Table("sales").InsertMap(row)
		_, err := client.Exec(ctx, q, params)
		require.NoError(t, err)
	}
	return client
}

func TestEscapeQuotedColons(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                                   "SELECT 1",
		"WHERE a = :a":                               "WHERE a = :a",
		"SELECT '12:00' AS `a:b` WHERE x = :x":       "SELECT '12::00' AS `a::b` WHERE x = :x",
		"SELECT 'it''s:x', :y":                       "SELECT 'it''s::x', :y",
		`SELECT 'c:\\' , :z`:                         `SELECT 'c::\\' , :z`,
		`SELECT COALESCE(t.a, 'n:a') FROM t WHERE :k`: `SELECT COALESCE(t.a, 'n::a') FROM t WHERE :k`,
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeQuotedColons(in, true), in)
	}

	assert.Equal(t, `SELECT 'a\', ':b', ::c`, escapeQuotedColons(`SELECT 'a\', ':b', :c`, true))
	// SQLite: backslash is an ordinary character
	assert.Equal(t, `SELECT 'a\', '::b', :c`, escapeQuotedColons(`SELECT 'a\', ':b', :c`, false))
}

func TestMaskQuotedQuestions(t *testing.T) {
	q, ok := maskQuotedQuestions("SELECT COALESCE(a, '?'), `b?` FROM t WHERE c IN (?) AND d = ?", true)
	require.True(t, ok)
	assert.Equal(t, "SELECT COALESCE(a, '\x00'), `b\x00` FROM t WHERE c IN (?) AND d = ?", q)
	assert.Equal(t, "SELECT COALESCE(a, '?'), `b?` FROM t WHERE c IN (?) AND d = ?", unmaskQuestions(q))

	q, ok = maskQuotedQuestions(`SELECT 'x\'?', ?`, true)
	require.True(t, ok)
	assert.Equal(t, "SELECT 'x\\'\x00', ?", q)

	_, ok = maskQuotedQuestions("SELECT '\x00?'", true)
	assert.False(t, ok)
}

func TestConfigDSN(t *testing.T) {
	driver, dsn, err := Config{Name: "m", Host: "db", User: "u", Password: "p", Database: "shop", Params: "parseTime=true"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/shop")
	assert.Contains(t, dsn, "parseTime=true")

	driver, dsn, err = Config{Name: "s", Type: SQLite, Path: "/tmp/x.db"}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, "file:/tmp/x.db", dsn)

	_, _, err = Config{Name: "s", Type: SQLite}.DSN()
	assert.Error(t, err)
	_, _, err = Config{Name: "x", Type: "oracle"}.DSN()
	assert.Error(t, err)

	assert.Equal(t, "******", Config{Password: "secret"}.Redacted().Password)
}

func TestClientSchema(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)

	require.NoError(t, client.TestConnection(ctx))

	tables, err := client.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, tables)

	columns, err := client.Columns(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, columns, 4)
	assert.Equal(t, builder.Column{Table: "sales", Name: "amount", Type: "DECIMAL(10,2)", Dialect: builder.SQLite}, columns[2])

	columns, err = client.Columns(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestSchemaResolveColumn(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)
	schema := NewSchema(client, time.Minute)

	col, err := schema.ResolveColumn(ctx, "sales", "region")
	require.NoError(t, err)
	assert.Equal(t, "`sales`.`region`", col.Qualified().String())

	_, err = schema.ResolveColumn(ctx, "sales", "nope")
	assert.True(t, errors.Is(err, queryfield.ErrUnknownColumn))
	_, err = schema.ResolveColumn(ctx, "nope", "region")
	assert.True(t, errors.Is(err, queryfield.ErrUnknownColumn))

	// cached until invalidated
	_, err = client.Exec(ctx, "ALTER TABLE sales ADD COLUMN note TEXT", nil)
	require.NoError(t, err)
	_, err = schema.ResolveColumn(ctx, "sales", "note")
	assert.True(t, errors.Is(err, queryfield.ErrUnknownColumn))

	schema.Invalidate("sales")
	_, err = schema.ResolveColumn(ctx, "sales", "note")
	assert.NoError(t, err)
}

func TestBuildAgainstSchema(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)
	schema := NewSchema(client, 0)

	qf, err := queryfield.Build(ctx, schema, queryfield.Spec{Field: "sales.amount", Aggregation: queryfield.Sum, Alias: "total"})
	require.NoError(t, err)
	region, err := queryfield.Build(ctx, schema, queryfield.Spec{Field: "sales.region"})
	require.NoError(t, err)

	b := builder.Table("sales").
		Select(region.Expr(), qf.Expr()).
		Group(region.GroupExpr()).
		Order(region.GroupExpr())
	result, err := client.FetchRowsByBuilder(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "total"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "east", result.Rows[0]["region"])
	assert.EqualValues(t, 30, result.Rows[0]["total"])
	assert.EqualValues(t, 5, result.Rows[1]["total"])
}

func TestFetchRowsLiteralColon(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)

	result, err := client.FetchRows(ctx, "SELECT '12:30' AS at, region FROM sales WHERE id = :id", map[string]any{"id": 1})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "12:30", result.Rows[0]["at"])
	assert.Equal(t, "east", result.Rows[0]["region"])
}

func TestFetchRowsQuotedMarksWithIn(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)

	b := builder.Table("sales").
		Select(builder.Coalesce(builder.NewField("sales.qty"), "?:").As("qty"), builder.NewField("sales.region")).
		Where(builder.NewField("sales.region").In([]any{"east", "west"}, "regions"), builder.NewField("sales.id").Gt(1, "id")).
		Order(builder.NewField("sales.id"))
	result, err := client.FetchRowsByBuilder(ctx, b)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.EqualValues(t, 2, result.Rows[0]["qty"])
	assert.Equal(t, "?:", result.Rows[1]["qty"])
	assert.Equal(t, "west", result.Rows[1]["region"])
}

func TestFetchRowsDuplicateColumns(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)
	query := "SELECT a.region, b.region FROM sales a JOIN sales b ON a.id = b.id - 2 WHERE a.id = :id"

	_, err := client.FetchRows(ctx, query, map[string]any{"id": 1})
	assert.ErrorContains(t, err, `duplicate result column "region"`)

	result, err := client.FetchRowsAs(ctx, query, map[string]any{"id": 1}, []string{"a.region", "b.region"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.region", "b.region"}, result.Columns)
	assert.Equal(t, []Row{{"a.region": "east", "b.region": "west"}}, result.Rows)

	_, err = client.FetchRowsAs(ctx, query, map[string]any{"id": 1}, []string{"region"})
	assert.Error(t, err)
}

func TestGetAndSelect(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)

	var region string
	ok, err := client.QueryByBuilder(ctx, builder.Table("sales").Select("region").Where(builder.NewField("id").Eq(2, "id")), &region)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "east", region)

	ok, err = client.Get(ctx, "SELECT region FROM sales WHERE id = :id", map[string]any{"id": 99}, &region)
	require.NoError(t, err)
	assert.False(t, ok)

	var ids []int
	err = client.FetchByBuilder(ctx, builder.Table("sales").Select("id").Where(builder.NewField("id").In([]int{1, 3}, "ids")).Order(builder.NewField("id")), &ids)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids)

	n, err := client.DeleteByBuilder(ctx, builder.Table("sales").Where(builder.NewField("region").Eq("west", "region")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = client.Exec(ctx, "", nil)
	assert.Error(t, err)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)
	count := func() int {
		var n int
		_, err := client.Get(ctx, "SELECT COUNT(*) FROM sales", nil, &n)
		require.NoError(t, err)
		return n
	}

	err := client.Transaction(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		q, params := builder.Table("sales").InsertMap(map[string]any{"id": 4, "region": "north"})
		if _, err := client.Exec(ctx, q, params, tx); err != nil {
			return err
		}
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.Equal(t, 3, count())

	assert.Panics(t, func() {
		_ = client.Transaction(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
			_, _ = client.Exec(ctx, "DELETE FROM sales", nil, tx)
			panic("boom")
		})
	})
	assert.Equal(t, 3, count())

	err = client.Transaction(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := client.Exec(ctx, "DELETE FROM sales WHERE id = :id", map[string]any{"id": 1}, tx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := OpenRegistry(ctx, []Config{
		{Name: "b", Type: SQLite, Path: filepath.Join(dir, "b.db")},
		{Name: "a", Type: SQLite, Path: filepath.Join(dir, "a.db")},
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"a", "b"}, r.Names())
	src, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, SQLite, src.Dialect())
	assert.NotNil(t, src.Schema)

	_, err = r.Get("c")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	assert.Error(t, r.Add(ctx, src.Client))

	_, err = OpenRegistry(ctx, []Config{{Name: "bad", Type: SQLite}})
	assert.Error(t, err)
}

func TestWatcherInvalidatesSchema(t *testing.T) {
	ctx := context.Background()
	client := openSQLite(t)
	schema := NewSchema(client, time.Minute)
	w, err := NewWatcher(BinlogConfig{Tables: []string{"sales"}, Position: filepath.Join(t.TempDir(), "pos.json")}, "shop", schema)
	require.NoError(t, err)
	defer w.Close()

	_, err = schema.ResolveColumn(ctx, "sales", "region")
	require.NoError(t, err)
	_, err = client.Exec(ctx, "ALTER TABLE sales ADD COLUMN note TEXT", nil)
	require.NoError(t, err)

	// other schema and unwatched tables are ignored
	require.NoError(t, w.OnTableChanged(nil, "other", "sales"))
	require.NoError(t, w.OnTableChanged(nil, "shop", "users"))
	_, err = schema.ResolveColumn(ctx, "sales", "note")
	assert.Error(t, err)

	require.NoError(t, w.OnTableChanged(nil, "shop", "sales"))
	assert.Eventually(t, func() bool {
		_, err := schema.ResolveColumn(ctx, "sales", "note")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWatcherIncludeTables(t *testing.T) {
	w, err := NewWatcher(BinlogConfig{}, "shop", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{`^shop\..*$`}, w.includeTables())
	assert.True(t, w.watches("shop", "anything"))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	w, err = NewWatcher(BinlogConfig{Tables: []string{"a", "b.c"}}, "shop", nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []string{`^shop\.a$`, `^shop\.b\.c$`}, w.includeTables())
	assert.Equal(t, "binlog_position.json", w.Config.Position)
}

func TestBinlogDefaults(t *testing.T) {
	bc := binlogDefaults(BinlogConfig{}, Config{Host: "db", User: "u", Password: "p"})
	assert.Equal(t, "db:3306", bc.Addr)
	assert.Equal(t, "u", bc.User)
	assert.Equal(t, "p", bc.Password)

	bc = binlogDefaults(BinlogConfig{Addr: "x:1", User: "repl"}, Config{Host: "db", User: "u", Password: "p"})
	assert.Equal(t, "x:1", bc.Addr)
	assert.Equal(t, "repl", bc.User)
	assert.Empty(t, bc.Password)
}

// Requires INSIGHTS_TEST_MYSQL_HOST; the database needs a t_user table.
func TestMySQLColumns(t *testing.T) {
	host := os.Getenv("INSIGHTS_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("INSIGHTS_TEST_MYSQL_HOST not set")
	}
	ctx := context.Background()
	client, err := Open(ctx, Config{
		Name:     "mysql",
		Type:     MySQL,
		Host:     host,
		Port:     os.Getenv("INSIGHTS_TEST_MYSQL_PORT"),
		User:     os.Getenv("INSIGHTS_TEST_MYSQL_USER"),
		Password: os.Getenv("INSIGHTS_TEST_MYSQL_PASSWORD"),
		Database: os.Getenv("INSIGHTS_TEST_MYSQL_DB"),
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.TestConnection(ctx))
	tables, err := client.Tables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "t_user")

	columns, err := client.Columns(ctx, "t_user")
	require.NoError(t, err)
	assert.NotEmpty(t, columns)
}
