package insights

import (
	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/queryfield"
)

var (
	ErrInvalidQuery        = errors.New("invalid query")
	ErrUnsupportedOperator = errors.New("unsupported filter operator")
	ErrUnsupportedJoin     = errors.New("unsupported join type")
)

// IsUserError reports whether err was caused by the request rather than by
// a data source or the store.
func IsUserError(err error) bool {
	return queryfield.IsUserError(err) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrUnsupportedOperator) ||
		errors.Is(err, ErrUnsupportedJoin)
}
