// Package patch applies ordered one-shot migrations to stored documents.
package patch

import (
	"context"
	"log/slog"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/store"
)

// KindLog is the document kind recording applied patches.
const KindLog = "patch_log"

// Patch rewrites documents of the given kinds. Apply reports whether it
// changed doc.
type Patch struct {
	ID    string
	Kinds []string
	Apply func(doc map[string]any) (bool, error)
}

type Runner struct {
	store   *store.Store
	patches []Patch
}

func NewRunner(st *store.Store, patches ...Patch) *Runner {
	return &Runner{store: st, patches: patches}
}

// Run applies every patch not yet logged, in order. Each patch runs in its
// own transaction together with its log entry. The first failure stops the
// run.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	logged, err := r.store.List(ctx, KindLog)
	if err != nil {
		return nil, err
	}
	done := slice.Map(logged, func(_ int, d store.Document) string { return d.Name })

	var applied []string
	for _, p := range r.patches {
		if slice.Contain(done, p.ID) {
			continue
		}
		start := time.Now()
		changed := 0
		err := r.store.Client().Transaction(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
			n, err := r.apply(ctx, p, tx)
			if err != nil {
				return err
			}
			changed = n
			return r.store.Insert(ctx, KindLog, p.ID, store.Json{"changed": n, "applied": time.Now().UnixMilli()}, tx)
		})
		if err != nil {
			slog.ErrorContext(ctx, "patch failed", "patch", p.ID, "error", err)
			return applied, errors.Wrapf(err, "patch %s", p.ID)
		}
		slog.InfoContext(ctx, "patch applied", "patch", p.ID, "changed", changed, "elapsed", time.Since(start))
		applied = append(applied, p.ID)
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, p Patch, tx *sqlx.Tx) (int, error) {
	changed := 0
	for _, kind := range p.Kinds {
		docs, err := r.store.List(ctx, kind, tx)
		if err != nil {
			return changed, err
		}
		for _, doc := range docs {
			data := map[string]any(doc.Data)
			if data == nil {
				continue
			}
			ok, err := p.Apply(data)
			if err != nil {
				return changed, errors.Wrapf(err, "%s %q", kind, doc.Name)
			}
			if !ok {
				continue
			}
			if err := r.store.Put(ctx, kind, doc.Name, store.Json(data), tx); err != nil {
				return changed, err
			}
			changed++
		}
	}
	return changed, nil
}
