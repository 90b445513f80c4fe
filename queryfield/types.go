package queryfield

import (
	"encoding/json"
	"strconv"
	"strings"
)

type family int

const (
	unknownFamily family = iota
	numericFamily
	textFamily
	boolFamily
)

func columnFamily(dbType string) family {
	t := strings.ToLower(dbType)
	switch {
	case t == "":
		return unknownFamily
	case strings.Contains(t, "char"), strings.Contains(t, "text"), strings.Contains(t, "clob"),
		strings.Contains(t, "enum"):
		return textFamily
	case strings.Contains(t, "int"), strings.Contains(t, "dec"), strings.Contains(t, "num"),
		strings.Contains(t, "float"), strings.Contains(t, "double"), strings.Contains(t, "real"):
		return numericFamily
	case strings.Contains(t, "bool"), t == "bit":
		return boolFamily
	}
	return unknownFamily
}

func valueFamily(v any) family {
	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return numericFamily
	case string:
		if _, err := strconv.ParseFloat(val, 64); err == nil {
			return unknownFamily
		}
		return textFamily
	case bool:
		return boolFamily
	}
	return unknownFamily
}

// compatible reports whether a coalesce default plausibly fits the column.
// Unknown types and NULL always pass.
func compatible(dbType string, v any) bool {
	cf, vf := columnFamily(dbType), valueFamily(v)
	if cf == unknownFamily || vf == unknownFamily {
		return true
	}
	if cf == boolFamily && vf == numericFamily {
		return true
	}
	return cf == vf
}

// Normalize turns a json.Number into an int64, or a float64 when it is not
// an integer. Other values are returned unchanged.
func Normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
