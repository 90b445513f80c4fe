package builder

import (
	"bytes"
	"fmt"
	"strings"
)

// IfNull renders IFNULL(expr, v1). MySQL only, prefer Coalesce.
func IfNull(expr any, v1 any) Fd {
	return wrap("IFNULL(%s, %v)", expr, v1)
}

// Coalesce renders COALESCE(expr, d1, d2, ...). Plain Go values become literals.
func Coalesce(expr any, defaults ...any) Fd {
	args := make([]any, 0, len(defaults)+1)
	args = append(args, expr)
	marks := make([]string, 0, len(defaults)+1)
	marks = append(marks, "%v")
	for _, d := range defaults {
		marks = append(marks, "%v")
		if _, ok := d.(Field); !ok {
			d = Value(d)
		}
		args = append(args, d)
	}
	return wrap("COALESCE("+strings.Join(marks, ", ")+")", args...)
}

// Value renders v as an SQL literal without named-parameter escaping.
func Value(v any) Fd {
	s := Literal(v)
	return Fd{s: s}
}

func Sum(field any) Fd {
	return wrap("SUM(%v)", field)
}

func Count(field any) Fd {
	return wrap("COUNT(%v)", field)
}

func CountDistinct(field any) Fd {
	return wrap("COUNT(DISTINCT %v)", field)
}

func Avg(field any) Fd {
	return wrap("AVG(%v)", field)
}

// Min accepts a Field or a column name.
func Min(field any) Fd {
	return wrap("MIN(%v)", columnArg(field))
}

// Max accepts a Field or a column name.
func Max(field any) Fd {
	return wrap("MAX(%v)", columnArg(field))
}

// columnArg turns a bare column name into a quoted field so it is not
// rendered as a string literal.
func columnArg(field any) any {
	if s, ok := field.(string); ok {
		return NewField(s)
	}
	return field
}

func Round(expr any, num int) Fd {
	return wrap("ROUND(%v, %v)", expr, num)
}

// Concat accepts strings (rendered as literals) and fields.
func Concat(expr ...any) Fd {
	marks := make([]string, len(expr))
	for i := range expr {
		marks[i] = "%v"
	}
	return wrap("concat("+strings.Join(marks, ",")+")", expr...)
}

// Distinct renders DISTINCT a, b for a select list. Strings are column names.
func Distinct(field ...any) Fd {
	f := &Fd{values: make(map[string]any)}
	parts := make([]string, 0, len(field))
	for _, vv := range field {
		switch val := vv.(type) {
		case Expr:
			parts = append(parts, val.String())
			f.merge(val.Values())
		case Field:
			parts = append(parts, val.String())
			f.merge(val.Values())
		case string:
			parts = append(parts, ColumnNameHandler(val))
		default:
			panic(fmt.Sprintf("builder: Distinct does not accept %T", vv))
		}
	}
	f.s = "DISTINCT " + strings.Join(parts, ", ")
	return *f
}

// Case renders a CASE expression from When branches and an optional else.
func Case(when []Fd, els any) Fd {
	if len(when) == 0 {
		panic("builder: CASE needs at least one WHEN")
	}
	bf := bytes.Buffer{}
	bf.WriteString("CASE")
	args := make([]any, 0, len(when)+1)
	for _, item := range when {
		bf.WriteString(" %v")
		args = append(args, item)
	}
	if els != nil {
		bf.WriteString(" ELSE %v")
		args = append(args, els)
	}
	bf.WriteString(" END")
	return wrap(bf.String(), args...)
}

func When(condition any, value any) Fd {
	return wrap("WHEN %v THEN %v", condition, value)
}
