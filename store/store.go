// Package store persists kind/name keyed JSON documents on a data source.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
	"github.com/preceeder/go.insights/datasource"
)

const Table = "insights_document"

var (
	ErrDuplicate = errors.New("document already exists")
	ErrNotFound  = errors.New("document not found")
)

type Document struct {
	Kind     string `db:"kind" json:"kind"`
	Name     string `db:"name" json:"name"`
	Data     Json   `db:"data" json:"data"`
	Modified int64  `db:"modified" json:"modified"` // unix milliseconds
}

type Store struct {
	client *datasource.Client
	now    func() time.Time
}

func New(client *datasource.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) Client() *datasource.Client {
	return s.client
}

var ddl = map[datasource.Type]string{
	datasource.MySQL: "CREATE TABLE IF NOT EXISTS `" + Table + "` (" +
		"`kind` VARCHAR(64) NOT NULL, " +
		"`name` VARCHAR(512) NOT NULL, " +
		"`data` LONGTEXT NOT NULL, " +
		"`modified` BIGINT NOT NULL, " +
		"PRIMARY KEY (`kind`, `name`)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	datasource.SQLite: "CREATE TABLE IF NOT EXISTS `" + Table + "` (" +
		"`kind` TEXT NOT NULL, " +
		"`name` TEXT NOT NULL, " +
		"`data` TEXT NOT NULL, " +
		"`modified` INTEGER NOT NULL, " +
		"PRIMARY KEY (`kind`, `name`))",
}

// Migrate creates the document table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.client.Exec(ctx, ddl[s.client.Dialect()], nil); err != nil {
		return errors.Wrap(err, "migrate document table")
	}
	slog.InfoContext(ctx, "document table ready", "source", s.client.Config.Name)
	return nil
}

func (s *Store) key(kind, name string) *builder.SqlBuilder {
	tb := builder.Table(Table)
	return tb.Where(tb.Field("kind").Eq(kind, "kind"), tb.Field("name").Eq(name, "name"))
}

func (s *Store) row(kind, name string, data Json) map[string]any {
	if data == nil {
		data = Json{}
	}
	return map[string]any{"kind": kind, "name": name, "data": data, "modified": s.now().UnixMilli()}
}

// Insert adds a document. An existing kind/name pair yields ErrDuplicate.
func (s *Store) Insert(ctx context.Context, kind, name string, data Json, tx ...*sqlx.Tx) error {
	q, params := builder.Table(Table).InsertMap(s.row(kind, name, data))
	if _, err := s.client.Exec(ctx, q, params, tx...); err != nil {
		if isDuplicate(err) {
			return errors.Wrapf(ErrDuplicate, "%s %q", kind, name)
		}
		return err
	}
	return nil
}

// Put inserts or replaces a document.
func (s *Store) Put(ctx context.Context, kind, name string, data Json, tx ...*sqlx.Tx) error {
	row := s.row(kind, name, data)
	var (
		q      string
		params map[string]any
	)
	switch s.client.Dialect() {
	case datasource.SQLite:
		q, params = builder.Table(Table).InsertMap(row)
		q += " ON CONFLICT (`kind`, `name`) DO UPDATE SET `data` = excluded.`data`, `modified` = excluded.`modified`"
	default:
		q, params = builder.Table(Table).InsertOnDuplicateCols(row, []string{"data", "modified"})
	}
	_, err := s.client.Exec(ctx, q, params, tx...)
	return err
}

func (s *Store) Get(ctx context.Context, kind, name string, tx ...*sqlx.Tx) (*Document, error) {
	var doc Document
	b := s.key(kind, name).Select("kind", "name", "data", "modified")
	ok, err := s.client.QueryByBuilder(ctx, b, &doc, tx...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %q", kind, name)
	}
	return &doc, nil
}

// Load decodes the data of a document into dest.
func (s *Store) Load(ctx context.Context, kind, name string, dest any) error {
	doc, err := s.Get(ctx, kind, name)
	if err != nil {
		return err
	}
	return doc.Data.Decode(dest)
}

func (s *Store) Exists(ctx context.Context, kind, name string) (bool, error) {
	var n int
	_, err := s.client.QueryByBuilder(ctx, s.key(kind, name).Select(builder.Count("*")), &n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, kind, name string, tx ...*sqlx.Tx) error {
	n, err := s.client.DeleteByBuilder(ctx, s.key(kind, name), tx...)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %q", kind, name)
	}
	return nil
}

// List returns the documents of kind ordered by name.
func (s *Store) List(ctx context.Context, kind string, tx ...*sqlx.Tx) ([]Document, error) {
	tb := builder.Table(Table)
	b := tb.Select("kind", "name", "data", "modified").
		Where(tb.Field("kind").Eq(kind, "kind")).
		Order(tb.Field("name"))
	docs := []Document{}
	if err := s.client.FetchByBuilder(ctx, b, &docs, tx...); err != nil {
		return nil, err
	}
	return docs, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
