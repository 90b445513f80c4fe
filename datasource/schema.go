package datasource

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
	"github.com/preceeder/go.insights/queryfield"
)

const defaultSchemaTTL = 5 * time.Minute

type columnRow struct {
	Name string `db:"name"`
	Type string `db:"type"`
}

// Tables lists the base tables of the data source.
func (s *Client) Tables(ctx context.Context) ([]string, error) {
	var query string
	switch s.Dialect() {
	case SQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	default:
		query, _ = builder.Table("information_schema.TABLES").
			Select("TABLE_NAME AS name").
			Where(builder.Raw("TABLE_SCHEMA = DATABASE()", nil), builder.Raw("TABLE_TYPE = 'BASE TABLE'", nil)).
			Order(builder.NewField("TABLE_NAME")).
			Query()
	}
	tables := []string{}
	if err := s.Select(ctx, query, nil, &tables); err != nil {
		return nil, errors.Wrapf(err, "list tables of %s", s.Config.Name)
	}
	return tables, nil
}

// Columns describes the columns of table in ordinal order. An unknown table
// yields no columns.
func (s *Client) Columns(ctx context.Context, table string) ([]builder.Column, error) {
	var query string
	params := map[string]any{"table": table}
	switch s.Dialect() {
	case SQLite:
		query = "SELECT name, type FROM pragma_table_info(:table) ORDER BY cid"
	default:
		query, params = builder.Table("information_schema.COLUMNS").
			Select("COLUMN_NAME AS name", "COLUMN_TYPE AS type").
			Where(builder.Raw("TABLE_SCHEMA = DATABASE()", nil), builder.NewField("TABLE_NAME").Eq(table, "table")).
			Order(builder.NewField("ORDINAL_POSITION")).
			Query()
	}
	var rows []columnRow
	if err := s.Select(ctx, query, params, &rows); err != nil {
		return nil, errors.Wrapf(err, "describe %s.%s", s.Config.Name, table)
	}
	columns := make([]builder.Column, 0, len(rows))
	for _, r := range rows {
		columns = append(columns, builder.Column{Table: table, Name: r.Name, Type: r.Type, Dialect: s.literals()})
	}
	return columns, nil
}

// Schema resolves query field references against a data source, caching
// table descriptions.
type Schema struct {
	client *Client
	cache  *gocache.Cache
}

func NewSchema(client *Client, ttl time.Duration) *Schema {
	if ttl <= 0 {
		ttl = defaultSchemaTTL
	}
	return &Schema{client: client, cache: gocache.New(ttl, 2*ttl)}
}

// Columns returns the cached description of table. A table without columns
// does not exist and is reported as queryfield.ErrUnknownColumn.
func (s *Schema) Columns(ctx context.Context, table string) ([]builder.Column, error) {
	if cached, ok := s.cache.Get(table); ok {
		return cached.([]builder.Column), nil
	}
	columns, err := s.client.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errors.Wrapf(queryfield.ErrUnknownColumn, "table %s", table)
	}
	s.cache.SetDefault(table, columns)
	return columns, nil
}

func (s *Schema) ResolveColumn(ctx context.Context, table, field string) (builder.Column, error) {
	columns, err := s.Columns(ctx, table)
	if err != nil {
		return builder.Column{}, err
	}
	for _, c := range columns {
		if c.Name == field {
			return c, nil
		}
	}
	return builder.Column{}, errors.Wrapf(queryfield.ErrUnknownColumn, "%s.%s", table, field)
}

// Invalidate drops the cached description of table.
func (s *Schema) Invalidate(table string) {
	slog.Debug("schema cache invalidated", "source", s.client.Config.Name, "table", table)
	s.cache.Delete(table)
}

func (s *Schema) Flush() {
	s.cache.Flush()
}
