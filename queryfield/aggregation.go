package queryfield

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/builder"
)

// Aggregation selects the aggregate function wrapped around a field. The
// zero value means no aggregation.
type Aggregation string

const (
	None          Aggregation = ""
	Sum           Aggregation = "Sum"
	Count         Aggregation = "Count"
	CountDistinct Aggregation = "CountDistinct"
	Avg           Aggregation = "Avg"
	Min           Aggregation = "Min"
	Max           Aggregation = "Max"
)

// Aggregations lists every supported kind.
var Aggregations = []Aggregation{Sum, Count, CountDistinct, Avg, Min, Max}

var aggregationAliases = map[string]Aggregation{
	"sum":            Sum,
	"count":          Count,
	"countdistinct":  CountDistinct,
	"count_distinct": CountDistinct,
	"distinct_count": CountDistinct,
	"avg":            Avg,
	"average":        Avg,
	"min":            Min,
	"minimum":        Min,
	"max":            Max,
	"maximum":        Max,
}

// ParseAggregation normalizes a stored aggregation name. Matching is case
// insensitive and accepts the older snake_case spellings.
func ParseAggregation(s string) (Aggregation, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, nil
	}
	if a, ok := aggregationAliases[strings.ToLower(s)]; ok {
		return a, nil
	}
	return None, errors.WithStack(&UnsupportedAggregationError{Kind: s})
}

// Apply wraps expr in the aggregate function.
func (a Aggregation) Apply(expr builder.Fd) (builder.Fd, error) {
	switch a {
	case None:
		return expr, nil
	case Sum:
		return builder.Sum(expr), nil
	case Count:
		return builder.Count(expr), nil
	case CountDistinct:
		return builder.CountDistinct(expr), nil
	case Avg:
		return builder.Avg(expr), nil
	case Min:
		return builder.Min(expr), nil
	case Max:
		return builder.Max(expr), nil
	default:
		return builder.Fd{}, errors.WithStack(&UnsupportedAggregationError{Kind: string(a)})
	}
}
