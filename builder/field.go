package builder

import (
	"bytes"
	"fmt"
)

// NewField quotes a column reference such as "t.name" into an Fd.
func NewField(field string) Fd {
	fd := &Fd{field: field}
	fd.ColumnNameHandler()
	fd.s = fd.field
	return *fd
}

// Fd is a rendered SQL fragment. Every method returns a new value.
type Fd struct {
	field  string
	values map[string]any
	v      []any
	s      string
}

func (f Fd) Field() string {
	return f.field
}

func (f Fd) String() string {
	return f.s
}

func (f Fd) Values() *map[string]any {
	return &f.values
}

// As appends an alias: <expr> AS `label`.
func (f Fd) As(label string) Fd {
	bf := bytes.Buffer{}
	bf.WriteString(f.s)
	bf.WriteString(" AS ")
	bf.WriteString(QuoteIdent(label))
	f.s = bf.String()
	return f
}

func (f *Fd) ColumnNameHandler() {
	if f.field != "" {
		f.field = ColumnNameHandler(f.field)
	}
}

// render formats f.s with the rendered arguments in f.v and collects
// their named parameters.
func (f *Fd) render() {
	value := make([]any, 0, len(f.v))
	if f.values == nil {
		f.values = make(map[string]any)
	}
	for _, vv := range f.v {
		switch val := vv.(type) {
		case nil:
			value = append(value, "NULL")
		case Expr:
			value = append(value, val.String())
			f.merge(val.Values())
		case Field:
			value = append(value, val.String())
			f.merge(val.Values())
		case string:
			value = append(value, "'"+escapeSQLString(val)+"'")
		default:
			value = append(value, Literal(val))
		}
	}
	f.s = fmt.Sprintf(f.s, value...)
}

func (f *Fd) merge(values *map[string]any) {
	if values == nil {
		return
	}
	for k, v := range *values {
		f.values[k] = v
	}
}

func wrap(format string, args ...any) Fd {
	f := &Fd{s: format, v: args}
	f.render()
	return *f
}

func (f Fd) Desc() Fd {
	if f.s != "" {
		f.s = f.s + " DESC"
	}
	return f
}

func (f Fd) Eq(value any, key ...string) Expr {
	return eq(f.String(), value, key...)
}

func (f Fd) NotEq(value any, key ...string) Expr {
	return notEq(f.String(), value, key...)
}

func (f Fd) Lte(value any, key ...string) Expr {
	return lte(f.String(), value, key...)
}

func (f Fd) Lt(value any, key ...string) Expr {
	return lt(f.String(), value, key...)
}

func (f Fd) Gte(value any, key ...string) Expr {
	return gte(f.String(), value, key...)
}

func (f Fd) Gt(value any, key ...string) Expr {
	return gt(f.String(), value, key...)
}

func (f Fd) IsNull() Expr {
	return isNull(f.String())
}

func (f Fd) IsNotNull() Expr {
	return isNotNull(f.String())
}

func (f Fd) In(d any, key ...string) Expr {
	return in(f.String(), d, key...)
}

func (f Fd) NotIn(d any, key ...string) Expr {
	return notIn(f.String(), d, key...)
}

func (f Fd) Like(value any, key ...string) Expr {
	return like(f.String(), value, key...)
}

func (f Fd) Distinct() Fd {
	return wrap("DISTINCT(%v)", f)
}

func (f Fd) Count() Fd {
	return Count(f)
}

func (f Fd) Sum() Fd {
	return Sum(f)
}

func (f Fd) Min() Fd {
	return Min(f)
}

func (f Fd) Max() Fd {
	return Max(f)
}

// Mul multiplies by a number.
func (f Fd) Mul(value any) Fd {
	return wrap(fmt.Sprintf("%%v * %v", value), f)
}

func (f Fd) Add(value any) Fd {
	return wrap(fmt.Sprintf("%%v + %v", value), f)
}
