// Package datasource connects to the relational databases that reports run
// against and describes their schema.
package datasource

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
)

type Client struct {
	Config Config
	Db     *sqlx.DB
}

// Open connects and pings the data source.
func Open(ctx context.Context, config Config) (*Client, error) {
	driver, dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "connecting data source", "name", config.Name, "type", config.Type)

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connect data source %s", config.Name)
	}
	if config.MaxOpenCons > 0 {
		db.SetMaxOpenConns(config.MaxOpenCons)
	}
	if config.MaxIdleCons > 0 {
		db.SetMaxIdleConns(config.MaxIdleCons)
	}
	return &Client{Config: config, Db: db}, nil
}

func (s *Client) Close() error {
	if err := s.Db.Close(); err != nil {
		slog.Error("close data source failed", "name", s.Config.Name, "error", err)
		return errors.WithStack(err)
	}
	slog.Info("data source closed", "config", s.Config.Redacted())
	return nil
}

func (s *Client) Dialect() Type {
	if s.Config.Type == "" {
		return MySQL
	}
	return s.Config.Type
}

// literals is the builder escaping matching the data source.
func (s *Client) literals() builder.Dialect {
	if s.Dialect() == SQLite {
		return builder.SQLite
	}
	return builder.MySQL
}

// TestConnection pings the server and runs a trivial query.
func (s *Client) TestConnection(ctx context.Context) error {
	if err := s.Db.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "ping %s", s.Config.Name)
	}
	var one int
	if err := s.Db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return errors.Wrapf(err, "query %s", s.Config.Name)
	}
	return nil
}

func (s *Client) ext(tx []*sqlx.Tx) sqlx.ExtContext {
	if len(tx) > 0 && tx[0] != nil {
		return tx[0]
	}
	return s.Db
}

// compile binds :name placeholders and expands slices for IN (...).
func (s *Client) compile(ctx context.Context, query string, params map[string]any) (string, []any, error) {
	if len(params) == 0 {
		return query, nil, nil
	}
	backslash := s.Dialect() == MySQL
	q, args, err := sqlx.Named(escapeQuotedColons(query, backslash), params)
	if err != nil {
		slog.ErrorContext(ctx, "sqlx.Named", "error", err, "sql", query)
		return "", nil, errors.Wrap(err, "bind named parameters")
	}
	q, masked := maskQuotedQuestions(q, backslash)
	q, args, err = sqlx.In(q, args...)
	if err != nil {
		slog.ErrorContext(ctx, "sqlx.In", "error", err, "sql", query, "params", params)
		return "", nil, errors.Wrap(err, "expand IN parameters")
	}
	q = s.Db.Rebind(q)
	if masked {
		q = unmaskQuestions(q)
	}
	return q, args, nil
}

// Get scans one row into dest. It reports false when there is no row.
func (s *Client) Get(ctx context.Context, query string, params map[string]any, dest any, tx ...*sqlx.Tx) (bool, error) {
	q, args, err := s.compile(ctx, query, params)
	if err != nil {
		return false, err
	}
	err = sqlx.GetContext(ctx, s.ext(tx), dest, q, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		slog.ErrorContext(ctx, "query failed", "error", err, "sql", query, "data", params)
		return false, errors.WithStack(err)
	}
	return true, nil
}

// Select scans all rows into the slice pointed to by dest.
func (s *Client) Select(ctx context.Context, query string, params map[string]any, dest any, tx ...*sqlx.Tx) error {
	q, args, err := s.compile(ctx, query, params)
	if err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, s.ext(tx), dest, q, args...); err != nil {
		slog.ErrorContext(ctx, "fetch failed", "error", err, "sql", query, "data", params)
		return errors.WithStack(err)
	}
	return nil
}

func (s *Client) QueryByBuilder(ctx context.Context, b *builder.SqlBuilder, dest any, tx ...*sqlx.Tx) (bool, error) {
	query, params := b.Query()
	return s.Get(ctx, query, params, dest, tx...)
}

func (s *Client) FetchByBuilder(ctx context.Context, b *builder.SqlBuilder, dest any, tx ...*sqlx.Tx) error {
	query, params := b.Query()
	return s.Select(ctx, query, params, dest, tx...)
}

// DeleteByBuilder runs the DELETE form of b and reports the affected rows.
func (s *Client) DeleteByBuilder(ctx context.Context, b *builder.SqlBuilder, tx ...*sqlx.Tx) (int64, error) {
	query, params := b.Delete()
	rs, err := s.Exec(ctx, query, params, tx...)
	if err != nil {
		return 0, err
	}
	n, err := rs.RowsAffected()
	return n, errors.WithStack(err)
}

// Exec runs a statement that returns no rows.
func (s *Client) Exec(ctx context.Context, query string, params map[string]any, tx ...*sqlx.Tx) (sql.Result, error) {
	if query == "" {
		return nil, errors.New("empty statement")
	}
	q, args, err := s.compile(ctx, query, params)
	if err != nil {
		return nil, err
	}
	rs, err := s.ext(tx).ExecContext(ctx, q, args...)
	if err != nil {
		slog.ErrorContext(ctx, "execute failed", "error", err, "sql", query, "data", params)
		return nil, errors.WithStack(err)
	}
	return rs, nil
}

// Transaction runs fn in a transaction. It rolls back when fn returns an
// error or panics, and commits otherwise.
func (s *Client) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	tx, err := s.Db.BeginTxx(ctx, nil)
	if err != nil {
		slog.ErrorContext(ctx, "begin transaction failed", "error", err)
		return errors.WithStack(err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "rollback failed", "error", rbErr)
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "rollback failed", "error", rbErr)
			}
			return
		}
		if err = tx.Commit(); err != nil {
			slog.ErrorContext(ctx, "commit failed", "error", err)
			err = errors.WithStack(err)
		}
	}()
	return fn(ctx, tx)
}
