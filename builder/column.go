package builder

import "bytes"

// Column is a resolved reference to a column of a table.
type Column struct {
	Table string
	Name  string
	// Type is the database type name reported by the data source, e.g. "int".
	Type string
	// Dialect of the data source, for literals compared with the column.
	Dialect Dialect `json:"-"`
}

// Qualified renders the column as `table`.`name`.
func (c Column) Qualified() Fd {
	bf := bytes.Buffer{}
	if c.Table != "" {
		bf.WriteString(QuoteIdent(c.Table))
		bf.WriteString(".")
	}
	bf.WriteString(QuoteIdent(c.Name))
	return Fd{field: bf.String(), s: bf.String()}
}

// Plain renders the column without its table, `name`.
func (c Column) Plain() Fd {
	s := QuoteIdent(c.Name)
	return Fd{field: s, s: s}
}

// Ref is the unquoted "table.name" form.
func (c Column) Ref() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}
