package builder

// Field is anything that renders to a SQL fragment and may carry named
// parameters.
type Field interface {
	String() string
	Values() *map[string]any
}

// Expr is a boolean expression used in WHERE, HAVING and JOIN ... ON.
type Expr interface {
	String() string
	GetName() string
	Values() *map[string]any
}

type Condition struct {
	Name  string
	S     string
	Value *map[string]any
}

func (f Condition) String() string {
	return f.S
}

func (f Condition) GetName() string {
	return f.Name
}

func (f Condition) Values() *map[string]any {
	return f.Value
}

// Raw wraps a trusted SQL fragment as a condition.
func Raw(sql string, params map[string]any) Expr {
	if params == nil {
		params = map[string]any{}
	}
	return Condition{S: sql, Value: &params}
}
