package builder

import (
	"bytes"
	"fmt"
)

// handler renders "<field> <op> <value>". With a key the value is bound as
// the named parameter :key, otherwise it is inlined.
func handler(str, field string, d any, key ...string) Expr {
	field = ColumnNameHandler(field)
	value := make(map[string]any)

	if len(key) > 0 {
		value[key[0]] = d
		str = fmt.Sprintf(str, field, key[0])
		return Condition{Name: field, Value: &value, S: str}
	}

	switch v := d.(type) {
	case Expr:
		str = fmt.Sprintf(str, field, v.String())
		mergeValues(value, v.Values())
	case Field:
		str = fmt.Sprintf(str, field, v.String())
		mergeValues(value, v.Values())
	case string:
		str = fmt.Sprintf(str, field, "'"+escapeSQLString(v)+"'")
	case []string:
		str = fmt.Sprintf(str, field, stringSliceToString(v))
	case []int, []int32, []int64, []float32, []float64:
		if numStr, err := numberSliceToString(v); err == nil {
			str = fmt.Sprintf(str, field, numStr)
		} else {
			str = fmt.Sprintf(str, field, v)
		}
	default:
		str = fmt.Sprintf(str, field, Literal(d))
	}

	return Condition{Name: field, Value: &value, S: str}
}

func mergeValues(dst map[string]any, src *map[string]any) {
	if src == nil {
		return
	}
	for k, v := range *src {
		dst[k] = v
	}
}

func eq(field string, d any, key ...string) Expr {
	str := "%s = %v"
	if len(key) > 0 {
		str = "%s = :%s"
	}
	return handler(str, field, d, key...)
}

func notEq(field string, d any, key ...string) Expr {
	str := "%s != %v"
	if len(key) > 0 {
		str = "%s != :%s"
	}
	return handler(str, field, d, key...)
}

func gt(field string, d any, key ...string) Expr {
	str := "%s > %v"
	if len(key) > 0 {
		str = "%s > :%s"
	}
	return handler(str, field, d, key...)
}

func gte(field string, d any, key ...string) Expr {
	str := "%s >= %v"
	if len(key) > 0 {
		str = "%s >= :%s"
	}
	return handler(str, field, d, key...)
}

func lt(field string, d any, key ...string) Expr {
	str := "%s < %v"
	if len(key) > 0 {
		str = "%s < :%s"
	}
	return handler(str, field, d, key...)
}

func lte(field string, d any, key ...string) Expr {
	str := "%s <= %v"
	if len(key) > 0 {
		str = "%s <= :%s"
	}
	return handler(str, field, d, key...)
}

func like(field string, d any, key ...string) Expr {
	str := "%s LIKE %v"
	if len(key) > 0 {
		str = "%s LIKE :%s"
	}
	return handler(str, field, d, key...)
}

func isNotNull(field string) Expr {
	return Condition{Name: field, S: fmt.Sprintf("%s IS NOT NULL", field)}
}

func isNull(field string) Expr {
	return Condition{Name: field, S: fmt.Sprintf("%s IS NULL", field)}
}

// in renders "<field> IN (...)". A plain string is treated as a subquery.
func in(field string, d any, key ...string) Expr {
	return membership("IN", field, d, key...)
}

func notIn(field string, d any, key ...string) Expr {
	return membership("NOT IN", field, d, key...)
}

func membership(op, field string, d any, key ...string) Expr {
	str := "%s " + op + " (%s)"
	if len(key) > 0 {
		str = "%s " + op + " (:%s)"
		return handler(str, field, d, key...)
	}
	if sub, ok := d.(string); ok {
		field = ColumnNameHandler(field)
		value := make(map[string]any)
		return Condition{Name: field, Value: &value, S: fmt.Sprintf(str, field, sub)}
	}
	return handler(str, field, d)
}

// Or joins expressions with OR.
// Or(Eq("x1", 11), Gte("x2", 45)) -> (x1 = 11 OR x2 >= 45)
func Or(expr ...Expr) Expr {
	return joinExprs(" OR ", expr)
}

// And joins expressions with AND.
// And(Eq("x1", 11), Gte("x2", 45)) -> (x1 = 11 AND x2 >= 45)
func And(expr ...Expr) Expr {
	return joinExprs(" AND ", expr)
}

func joinExprs(sep string, expr []Expr) Expr {
	value := map[string]any{}
	if len(expr) == 0 {
		return Condition{Name: "", Value: &value, S: ""}
	}

	bf := bytes.Buffer{}
	bf.WriteString("(")
	for i, an := range expr {
		if i > 0 {
			bf.WriteString(sep)
		}
		mergeValues(value, an.Values())
		bf.WriteString(an.String())
	}
	bf.WriteString(")")

	return Condition{Name: "", Value: &value, S: bf.String()}
}
