package datasource

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Result is the output of a report query.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// FetchRows runs query and decodes every row into a Row. Text encoded
// numbers are converted using the column's database type. Result columns
// must have distinct names.
func (s *Client) FetchRows(ctx context.Context, query string, params map[string]any, tx ...*sqlx.Tx) (*Result, error) {
	return s.fetchRows(ctx, query, params, nil, tx)
}

// FetchRowsAs is FetchRows with the result columns named by labels, in
// select order, instead of the names the driver reports.
func (s *Client) FetchRowsAs(ctx context.Context, query string, params map[string]any, labels []string, tx ...*sqlx.Tx) (*Result, error) {
	return s.fetchRows(ctx, query, params, labels, tx)
}

func (s *Client) fetchRows(ctx context.Context, query string, params map[string]any, labels []string, tx []*sqlx.Tx) (*Result, error) {
	q, args, err := s.compile(ctx, query, params)
	if err != nil {
		return nil, err
	}
	rows, err := s.ext(tx).QueryxContext(ctx, q, args...)
	if err != nil {
		slog.ErrorContext(ctx, "fetch rows failed", "error", err, "sql", query, "data", params)
		return nil, errors.WithStack(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.WarnContext(ctx, "close rows failed", "error", err)
		}
	}()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if labels != nil && len(labels) != len(columnTypes) {
		return nil, errors.Errorf("query returned %d columns for %d labels", len(columnTypes), len(labels))
	}
	result := &Result{Columns: make([]string, len(columnTypes)), Rows: []Row{}}
	seen := make(map[string]struct{}, len(columnTypes))
	for i, ct := range columnTypes {
		name := ct.Name()
		if labels != nil {
			name = labels[i]
		}
		if _, ok := seen[name]; ok {
			return nil, errors.Errorf("duplicate result column %q", name)
		}
		seen[name] = struct{}{}
		result.Columns[i] = name
	}

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[result.Columns[i]] = decode(v, columnTypes[i].DatabaseTypeName())
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return result, nil
}

// FetchRowsByBuilder renders b and runs it with FetchRows.
func (s *Client) FetchRowsByBuilder(ctx context.Context, b *builder.SqlBuilder, tx ...*sqlx.Tx) (*Result, error) {
	query, params := b.Query()
	return s.FetchRows(ctx, query, params, tx...)
}

func decode(v any, dbType string) any {
	raw, ok := v.([]byte)
	if !ok {
		return v
	}
	text := string(raw)
	switch strings.ToUpper(dbType) {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "YEAR",
		"UNSIGNED INT", "UNSIGNED BIGINT", "UNSIGNED TINYINT", "UNSIGNED SMALLINT":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	}
	return text
}
