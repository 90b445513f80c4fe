package queryfield

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownColumn is returned by resolvers for a table or field the
	// data source does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrDuplicateName means another query field already renders to the
	// same SQL text.
	ErrDuplicateName = errors.New("duplicate query field")
)

// FormatError reports a field reference that is not "table.field".
type FormatError struct {
	Spec string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid field reference %q: expected \"table.field\"", e.Spec)
}

// UnsupportedAggregationError reports an aggregation outside the known set.
type UnsupportedAggregationError struct {
	Kind string
}

func (e *UnsupportedAggregationError) Error() string {
	return fmt.Sprintf("unsupported aggregation %q", e.Kind)
}

// IsUserError reports whether err was caused by an invalid field spec
// rather than by the data source.
func IsUserError(err error) bool {
	var fe *FormatError
	var ae *UnsupportedAggregationError
	return errors.As(err, &fe) || errors.As(err, &ae) || errors.Is(err, ErrUnknownColumn)
}
