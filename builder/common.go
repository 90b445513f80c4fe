package builder

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	IgnoreColumnHandlerRe = regexp.MustCompile("^([^.,]+\\.)?(\\d+|'[^']+'|\"[^\"]+\"|`[^`]+`(\\.`[^`]+`.*)?|\\*)$|(\\b[\\w]+\\.\\`[^`]+\\`)")

	literalReplacer = strings.NewReplacer(
		"\\", "\\\\",
		"'", "''",
	)
	standardReplacer = strings.NewReplacer("'", "''")
)

// Dialect selects how string literals are escaped. The zero value is MySQL,
// where backslash starts an escape sequence.
type Dialect int

const (
	MySQL Dialect = iota
	// SQLite only doubles quotes, backslash is an ordinary character.
	SQLite
)

// Literal renders v as an inline literal for d.
func (d Dialect) Literal(v any) string {
	if s, ok := v.(string); ok && d == SQLite {
		return "'" + standardReplacer.Replace(s) + "'"
	}
	return Literal(v)
}

// Value is Value for d.
func (d Dialect) Value(v any) Fd {
	return Fd{s: d.Literal(v)}
}

// QuoteIdent wraps a single identifier in backticks, doubling embedded ones.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnNameHandler backtick-quotes the last segment of a column reference.
// Numbers, quoted strings, already quoted names, expressions and * are
// returned unchanged.
func ColumnNameHandler(field string) string {
	if field == "" {
		return ""
	}
	if strings.ContainsAny(field, "( ") || IgnoreColumnHandlerRe.MatchString(field) {
		return field
	}
	fields := strings.Split(field, ".")
	lastIndex := len(fields) - 1
	if fields[lastIndex] == "" {
		return field
	}
	fields[lastIndex] = QuoteIdent(fields[lastIndex])
	return strings.Join(fields, ".")
}

func escapeSQLString(s string) string {
	return literalReplacer.Replace(s)
}

// Literal renders a Go value as an inline MySQL literal.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + literalReplacer.Replace(val) + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case Field:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// stringSliceToString renders strings for an inline IN list.
// []string{"233", "sdf"} -> "'233','sdf'"
func stringSliceToString(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, "'"+escapeSQLString(s)+"'")
	}
	return strings.Join(parts, ",")
}

// numberSliceToString renders a numeric slice for an inline IN list.
func numberSliceToString(ss any) (string, error) {
	if ss == nil {
		return "", fmt.Errorf("input cannot be nil")
	}

	value := reflect.ValueOf(ss)
	if value.Kind() != reflect.Slice {
		return "", fmt.Errorf("input must be a slice, got %T", ss)
	}
	if value.Len() == 0 {
		return "", nil
	}

	parts := make([]string, 0, value.Len())
	for i := 0; i < value.Len(); i++ {
		elem := value.Index(i)
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			parts = append(parts, fmt.Sprint(elem.Interface()))
		default:
			return "", fmt.Errorf("unsupported element type in slice: %T, element must be numeric type", elem.Interface())
		}
	}
	return strings.Join(parts, ","), nil
}
