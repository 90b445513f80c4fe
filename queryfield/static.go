package queryfield

import (
	"context"

	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
)

// Static resolves columns from a fixed table -> field -> type map.
type Static map[string]map[string]string

func (s Static) ResolveColumn(_ context.Context, table, field string) (builder.Column, error) {
	fields, ok := s[table]
	if !ok {
		return builder.Column{}, errors.Wrapf(ErrUnknownColumn, "table %s", table)
	}
	typ, ok := fields[field]
	if !ok {
		return builder.Column{}, errors.Wrapf(ErrUnknownColumn, "%s.%s", table, field)
	}
	return builder.Column{Table: table, Name: field, Type: typ}, nil
}
