package patch

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/preceeder/go.insights/queryfield"
)

// Kinds holding query field specs: queries keep a "fields" list, saved
// query fields a "spec" object.
var specKinds = []string{"query", "query_field"}

// Builtin returns the patches for stored query documents in apply order.
func Builtin() []Patch {
	return []Patch{
		{ID: "query_field_reference", Kinds: specKinds, Apply: eachSpec(fieldReference)},
		{ID: "query_field_aggregation_names", Kinds: specKinds, Apply: eachSpec(aggregationNames)},
		{ID: "query_field_coalesce", Kinds: specKinds, Apply: eachSpec(coalesceDefault)},
	}
}

func eachSpec(fn func(spec map[string]any) bool) func(doc map[string]any) (bool, error) {
	return func(doc map[string]any) (bool, error) {
		changed := false
		if spec, ok := doc["spec"].(map[string]any); ok {
			changed = fn(spec)
		}
		fields, ok := doc["fields"].([]any)
		if !ok {
			return changed, nil
		}
		for i, f := range fields {
			spec, ok := f.(map[string]any)
			if !ok {
				return changed, errors.Errorf("fields[%d] is %T, not an object", i, f)
			}
			if fn(spec) {
				changed = true
			}
		}
		return changed, nil
	}
}

// fieldReference turns {table, column} into field "table.column".
func fieldReference(spec map[string]any) bool {
	if _, ok := spec["field"]; ok {
		return false
	}
	table, _ := spec["table"].(string)
	column, _ := spec["column"].(string)
	if table == "" || column == "" {
		return false
	}
	spec["field"] = table + "." + column
	delete(spec, "table")
	delete(spec, "column")
	return true
}

func aggregationNames(spec map[string]any) bool {
	raw, ok := spec["aggregation"].(string)
	if !ok {
		return false
	}
	agg, err := queryfield.ParseAggregation(raw)
	if err != nil {
		slog.Warn("leaving unknown aggregation", "aggregation", raw, "field", spec["field"])
		return false
	}
	if agg == queryfield.None {
		delete(spec, "aggregation")
		return true
	}
	if string(agg) == raw {
		return false
	}
	spec["aggregation"] = string(agg)
	return true
}

// coalesceDefault moves a "default" or "ifnull" value into coalesce.
func coalesceDefault(spec map[string]any) bool {
	changed := false
	for _, key := range []string{"ifnull", "default"} {
		v, ok := spec[key]
		if !ok {
			continue
		}
		delete(spec, key)
		changed = true
		if _, exists := spec["coalesce"]; !exists {
			spec["coalesce"] = map[string]any{"value": v}
		}
	}
	return changed
}
