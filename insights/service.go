package insights

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
	"github.com/preceeder/go.insights/datasource"
	"github.com/preceeder/go.insights/embed"
	"github.com/preceeder/go.insights/queryfield"
	"github.com/preceeder/go.insights/store"
)

// Document kinds.
const (
	KindQueryField = "query_field"
	KindQuery      = "query"
)

// FieldRecord is a rendered query field.
type FieldRecord struct {
	Name       string          `json:"name"`
	DataSource string          `json:"dataSource"`
	Spec       queryfield.Spec `json:"spec"`
	SQL        string          `json:"sql"`
	Label      string          `json:"label"`
}

func newFieldRecord(source string, qf *queryfield.QueryField) FieldRecord {
	return FieldRecord{Name: qf.Name, DataSource: source, Spec: qf.Spec(), SQL: qf.SQL(true), Label: qf.Label()}
}

// RunResult is the output of a query run.
type RunResult struct {
	datasource.Result
	SQL string `json:"sql"`
}

// Share is an embed link for a saved query.
type Share struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	sources *datasource.Registry
	store   *store.Store
	signer  *embed.Signer
}

// NewService wires the registry and store. signer may be nil, which
// disables sharing.
func NewService(sources *datasource.Registry, st *store.Store, signer *embed.Signer) *Service {
	return &Service{sources: sources, store: st, signer: signer}
}

func (s *Service) Sources() []string {
	return s.sources.Names()
}

func (s *Service) TestConnection(ctx context.Context, source string) error {
	src, err := s.sources.Get(source)
	if err != nil {
		return err
	}
	return src.TestConnection(ctx)
}

func (s *Service) Tables(ctx context.Context, source string) ([]string, error) {
	src, err := s.sources.Get(source)
	if err != nil {
		return nil, err
	}
	return src.Tables(ctx)
}

func (s *Service) Columns(ctx context.Context, source, table string) ([]builder.Column, error) {
	src, err := s.sources.Get(source)
	if err != nil {
		return nil, err
	}
	return src.Schema.Columns(ctx, table)
}

// RenderField builds spec against the schema of source without saving it.
func (s *Service) RenderField(ctx context.Context, source string, spec queryfield.Spec) (*FieldRecord, error) {
	src, err := s.sources.Get(source)
	if err != nil {
		return nil, err
	}
	qf, err := queryfield.Build(ctx, src.Schema, spec)
	if err != nil {
		return nil, err
	}
	record := newFieldRecord(source, qf)
	return &record, nil
}

// SaveQueryField renders spec and stores it under its canonical name. A
// field rendering to an existing name yields queryfield.ErrDuplicateName.
func (s *Service) SaveQueryField(ctx context.Context, source string, spec queryfield.Spec) (*FieldRecord, error) {
	record, err := s.RenderField(ctx, source, spec)
	if err != nil {
		return nil, err
	}
	data, err := store.ToJson(record)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, KindQueryField, record.Name, data); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errors.Wrapf(queryfield.ErrDuplicateName, "%s", record.Name)
		}
		return nil, err
	}
	slog.InfoContext(ctx, "query field saved", "name", record.Name, "source", source)
	return record, nil
}

func (s *Service) ListQueryFields(ctx context.Context) ([]FieldRecord, error) {
	docs, err := s.store.List(ctx, KindQueryField)
	if err != nil {
		return nil, err
	}
	records := make([]FieldRecord, 0, len(docs))
	for _, doc := range docs {
		var r FieldRecord
		if err := doc.Data.Decode(&r); err != nil {
			return nil, errors.Wrapf(err, "decode query field %s", doc.Name)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Service) DeleteQueryField(ctx context.Context, name string) error {
	return s.store.Delete(ctx, KindQueryField, name)
}

// SaveQuery validates q by compiling it and stores it, replacing an
// existing query of the same name.
func (s *Service) SaveQuery(ctx context.Context, q Query) error {
	if q.Name == "" {
		return errors.Wrap(ErrInvalidQuery, "name is required")
	}
	if _, err := s.compile(ctx, q); err != nil {
		return err
	}
	data, err := store.ToJson(q)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, KindQuery, q.Name, data)
}

func (s *Service) GetQuery(ctx context.Context, name string) (*Query, error) {
	var q Query
	if err := s.store.Load(ctx, KindQuery, name, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) DeleteQuery(ctx context.Context, name string) error {
	return s.store.Delete(ctx, KindQuery, name)
}

func (s *Service) compile(ctx context.Context, q Query) (*Compiled, error) {
	src, err := s.sources.Get(q.DataSource)
	if err != nil {
		return nil, err
	}
	return Compile(ctx, src.Schema, q)
}

// RunQuery compiles q and fetches its rows.
func (s *Service) RunQuery(ctx context.Context, q Query) (*RunResult, error) {
	src, err := s.sources.Get(q.DataSource)
	if err != nil {
		return nil, err
	}
	compiled, err := Compile(ctx, src.Schema, q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := src.FetchRowsAs(ctx, compiled.SQL, compiled.Params, compiled.Columns)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "query executed", "source", q.DataSource, "sql", compiled.SQL,
		"rows", len(result.Rows), "elapsed", time.Since(start))
	return &RunResult{Result: *result, SQL: compiled.SQL}, nil
}

func (s *Service) RunSavedQuery(ctx context.Context, name string) (*RunResult, error) {
	q, err := s.GetQuery(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.RunQuery(ctx, *q)
}

// ShareQuery signs an embed link for a saved query.
func (s *Service) ShareQuery(ctx context.Context, name string) (*Share, error) {
	if s.signer == nil {
		return nil, errors.New("sharing is disabled")
	}
	ok, err := s.store.Exists(ctx, KindQuery, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "query %q", name)
	}
	token, expiresAt, err := s.signer.Sign(name)
	if err != nil {
		return nil, err
	}
	return &Share{Token: token, ExpiresAt: expiresAt}, nil
}

// RunShared runs the saved query named by an embed token.
func (s *Service) RunShared(ctx context.Context, token string) (*RunResult, error) {
	if s.signer == nil {
		return nil, errors.Wrap(embed.ErrInvalidToken, "sharing is disabled")
	}
	name, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	return s.RunSavedQuery(ctx, name)
}
