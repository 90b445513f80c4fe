package builder

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

type table struct {
	Db    string
	Name  string
	Label string
}

func (t table) GetName() string {
	bf := bytes.Buffer{}
	if t.Db != "" {
		bf.WriteString(t.Db)
		bf.WriteString(".")
	}
	bf.WriteString(t.Name)
	return bf.String()
}

type join struct {
	JoinType string // left | right | inner
	SubTable SqlBuilder
	On       Expr
}

type union struct {
	JoinType string
	Table    SqlBuilder
}

// SqlBuilder accumulates the clauses of one statement. Rendering methods
// return the SQL with :name placeholders plus the parameter map.
type SqlBuilder struct {
	Table      *table
	JoinTable  []join
	FieldParam []string

	WhereParam  []Expr
	LimitParam  int
	OffsetParam int

	OrderParam []Field

	GroupParam  []Field
	HavingParam Expr

	// label wraps the whole query in parentheses with this alias when it is
	// used as a subquery.
	label  string
	values map[string]any

	UnionBuilder []union

	FromSubQuery *SqlBuilder
}

// Table starts a statement on tbl.
func Table(tbl string) *SqlBuilder {
	return &SqlBuilder{
		Table: &table{Name: ColumnNameHandler(tbl)},
	}
}

// As sets the table alias.
func (s *SqlBuilder) As(label string) *SqlBuilder {
	s.Table.Label = label
	return s
}

// Label sets the subquery alias. Call it last, it takes precedence over As
// when fields are resolved.
func (s *SqlBuilder) Label(label string) *SqlBuilder {
	s.label = label
	return s
}

// FromSub selects from another builder instead of a table.
//
//	sub := Table("t").Select(...).Group(...).Label("sub")
//	q := Table("").FromSub(sub)
func (s *SqlBuilder) FromSub(sub *SqlBuilder) *SqlBuilder {
	s.FromSubQuery = sub
	if sub != nil && sub.label != "" {
		s.label = sub.label
	}
	return s
}

// Select appends columns. Each entry is a string or a Field.
func (s *SqlBuilder) Select(fields ...any) *SqlBuilder {
	for _, fd := range fields {
		switch val := fd.(type) {
		case string:
			s.FieldParam = append(s.FieldParam, val)
		case Field:
			s.FieldParam = append(s.FieldParam, val.String())
			s.addValues(val.Values())
		}
	}
	return s
}

func (s *SqlBuilder) addValues(values *map[string]any) {
	if values == nil || len(*values) == 0 {
		return
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	mergeValues(s.values, values)
}

// Field qualifies field with the subquery label, table alias or table name.
func (s *SqlBuilder) Field(field string) Fd {
	bf := bytes.Buffer{}
	switch {
	case s.label != "":
		bf.WriteString(s.label)
		bf.WriteString(".")
	case s.Table.Label != "":
		bf.WriteString(s.Table.Label)
		bf.WriteString(".")
	case s.Table.GetName() != "":
		bf.WriteString(s.Table.GetName())
		bf.WriteString(".")
	}
	bf.WriteString(field)
	return NewField(bf.String())
}

// Where appends conditions joined with AND.
func (s *SqlBuilder) Where(expr ...Expr) *SqlBuilder {
	s.WhereParam = append(s.WhereParam, expr...)
	return s
}

func (s *SqlBuilder) Group(group ...Field) *SqlBuilder {
	s.GroupParam = append(s.GroupParam, group...)
	return s
}

func (s *SqlBuilder) Having(ha Expr) *SqlBuilder {
	s.HavingParam = ha
	return s
}

func (s *SqlBuilder) Order(field ...Field) *SqlBuilder {
	s.OrderParam = append(s.OrderParam, field...)
	return s
}

func (s *SqlBuilder) Limit(limit int) *SqlBuilder {
	s.LimitParam = limit
	return s
}

func (s *SqlBuilder) Offset(offset int) *SqlBuilder {
	s.OffsetParam = offset
	return s
}

func (s *SqlBuilder) First() *SqlBuilder {
	s.LimitParam = 1
	return s
}

func (s *SqlBuilder) join(table SqlBuilder, on Expr, joinType string) *SqlBuilder {
	s.JoinTable = append(s.JoinTable, join{JoinType: joinType, SubTable: table, On: on})
	return s
}

func (s *SqlBuilder) LeftJoin(table *SqlBuilder, on Expr) *SqlBuilder {
	return s.join(*table, on, "LEFT")
}

func (s *SqlBuilder) RightJoin(table *SqlBuilder, on Expr) *SqlBuilder {
	return s.join(*table, on, "RIGHT")
}

func (s *SqlBuilder) InnerJoin(table *SqlBuilder, on Expr) *SqlBuilder {
	return s.join(*table, on, "INNER")
}

// Union adds a UNION branch; pass "UNION ALL " to keep duplicates.
//
//	SELECT ... FROM ((t1) UNION (t2) UNION (t3)) alias
func (s *SqlBuilder) Union(table *SqlBuilder, unionType ...string) *SqlBuilder {
	joinType := "UNION "
	if len(unionType) > 0 {
		joinType = unionType[0]
	}
	s.UnionBuilder = append(s.UnionBuilder, union{JoinType: joinType, Table: *table})
	return s
}

func (s *SqlBuilder) getDelete(t ...*SqlBuilder) string {
	bf := bytes.Buffer{}
	bf.WriteString("DELETE")
	if len(t) > 0 {
		bf.WriteString(" ")
		switch {
		case t[0].label != "":
			bf.WriteString(t[0].label)
		case t[0].Table.Label != "":
			bf.WriteString(t[0].Table.Label)
		default:
			bf.WriteString(t[0].Table.GetName())
		}
	}
	return bf.String()
}

func (s *SqlBuilder) getInsert() string {
	return "INSERT INTO " + s.Table.GetName()
}

func (s *SqlBuilder) empty() bool {
	return s.Table == nil || s.Table.GetName() == ""
}

// sortedKeys keeps column order stable across map iterations.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *SqlBuilder) insertHead(data map[string]any, params map[string]any) string {
	cols := make([]string, 0, len(data))
	phs := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		cols = append(cols, ColumnNameHandler(k))
		phs = append(phs, ":"+k)
		params[k] = data[k]
	}
	var bf bytes.Buffer
	bf.WriteString(s.getInsert())
	bf.WriteString(" (")
	bf.WriteString(strings.Join(cols, ", "))
	bf.WriteString(") VALUES (")
	bf.WriteString(strings.Join(phs, ", "))
	bf.WriteString(")")
	return bf.String()
}

// InsertMap builds INSERT INTO t (`a`, `b`) VALUES (:a, :b).
func (s *SqlBuilder) InsertMap(data map[string]any) (string, map[string]any) {
	if s.empty() || len(data) == 0 {
		return "", nil
	}
	params := make(map[string]any, len(data))
	return s.insertHead(data, params), params
}

// InsertMany builds a multi-row insert with :col_<row> placeholders. The
// first row decides the columns.
func (s *SqlBuilder) InsertMany(rows []map[string]any) (string, map[string]any) {
	if s.empty() || len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	cols := sortedKeys(rows[0])
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = ColumnNameHandler(c)
	}

	params := make(map[string]any, len(rows)*len(cols))
	tuples := make([]string, 0, len(rows))
	for i, row := range rows {
		placeholders := make([]string, 0, len(cols))
		for _, c := range cols {
			key := c + "_" + strconv.Itoa(i)
			placeholders = append(placeholders, ":"+key)
			params[key] = row[c]
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}

	var bf bytes.Buffer
	bf.WriteString(s.getInsert())
	bf.WriteString(" (")
	bf.WriteString(strings.Join(quotedCols, ", "))
	bf.WriteString(") VALUES ")
	bf.WriteString(strings.Join(tuples, ", "))
	return bf.String(), params
}

// UpdateMap builds UPDATE <table [JOIN ...]> SET `a` = :a WHERE ...
func (s *SqlBuilder) UpdateMap(set map[string]any) (string, map[string]any) {
	if s.empty() || len(set) == 0 {
		return "", nil
	}
	ordered := make([]map[string]any, 0, len(set))
	for _, k := range sortedKeys(set) {
		ordered = append(ordered, map[string]any{k: set[k]})
	}
	return s.update(ordered)
}

func (s *SqlBuilder) update(orderedSet []map[string]any) (string, map[string]any) {
	if s.empty() || len(orderedSet) == 0 {
		return "", nil
	}
	tbl, tblParams := s.getTable()
	setParts := make([]string, 0, len(orderedSet))
	params := make(map[string]any, len(orderedSet))
	for _, item := range orderedSet {
		for _, k := range sortedKeys(item) {
			setParts = append(setParts, ColumnNameHandler(k)+" = :"+k)
			params[k] = item[k]
		}
	}
	whereStr, whereParams := s.getWhere()
	for k, v := range tblParams {
		params[k] = v
	}
	for k, v := range whereParams {
		params[k] = v
	}

	var bf bytes.Buffer
	bf.WriteString("UPDATE ")
	bf.WriteString(tbl)
	bf.WriteString(" SET ")
	bf.WriteString(strings.Join(setParts, ", "))
	bf.WriteString(whereStr)
	return bf.String(), params
}

// InsertOnDuplicateCols builds an upsert updating updateCols from VALUES(col).
func (s *SqlBuilder) InsertOnDuplicateCols(set map[string]any, updateCols []string) (string, map[string]any) {
	if s.empty() || len(set) == 0 || len(updateCols) == 0 {
		return "", nil
	}
	params := make(map[string]any, len(set))
	var bf bytes.Buffer
	bf.WriteString(s.insertHead(set, params))
	bf.WriteString(" ON DUPLICATE KEY UPDATE ")

	upd := make([]string, 0, len(updateCols))
	for _, c := range updateCols {
		col := ColumnNameHandler(c)
		upd = append(upd, col+" = VALUES("+col+")")
	}
	bf.WriteString(strings.Join(upd, ", "))
	return bf.String(), params
}

// InsertOnDuplicateMap builds an upsert updating columns to :<col>_upd.
func (s *SqlBuilder) InsertOnDuplicateMap(set map[string]any, update map[string]any) (string, map[string]any) {
	if s.empty() || len(set) == 0 || len(update) == 0 {
		return "", nil
	}
	params := make(map[string]any, len(set)+len(update))
	var bf bytes.Buffer
	bf.WriteString(s.insertHead(set, params))
	bf.WriteString(" ON DUPLICATE KEY UPDATE ")

	upd := make([]string, 0, len(update))
	for _, k := range sortedKeys(update) {
		key := k + "_upd"
		upd = append(upd, ColumnNameHandler(k)+" = :"+key)
		params[key] = update[k]
	}
	bf.WriteString(strings.Join(upd, ", "))
	return bf.String(), params
}

// getSelect renders the select list; with noDefault an empty list renders
// nothing instead of SELECT *.
func (s *SqlBuilder) getSelect(noDefault bool) string {
	if len(s.FieldParam) > 0 {
		return "SELECT " + strings.Join(s.FieldParam, ", ")
	}
	if !noDefault {
		return "SELECT *"
	}
	return ""
}

func (s *SqlBuilder) getTable() (string, map[string]any) {
	value := map[string]any{}
	bf := bytes.Buffer{}

	if s.FromSubQuery != nil {
		tb, paramsData := s.FromSubQuery.subQuery()
		bf.WriteString("(")
		bf.WriteString(tb)
		bf.WriteString(") ")
		bf.WriteString(s.label)
		for k, v := range paramsData {
			value[k] = v
		}
	} else {
		bf.WriteString(s.Table.GetName())
	}

	if s.Table.Label != "" {
		bf.WriteString(" AS ")
		bf.WriteString(s.Table.Label)
	}

	for _, jt := range s.JoinTable {
		bf.WriteString(" ")
		bf.WriteString(jt.JoinType)
		bf.WriteString(" JOIN ")
		tb, paramsData := jt.SubTable.subQuery()
		if jt.SubTable.label != "" {
			bf.WriteString("(")
			bf.WriteString(tb)
			bf.WriteString(") ")
			bf.WriteString(jt.SubTable.label)
		} else {
			bf.WriteString(tb)
		}
		for k, v := range paramsData {
			value[k] = v
		}
		bf.WriteString(" ON ")
		bf.WriteString(jt.On.String())
		mergeValues(value, jt.On.Values())
	}

	if len(s.UnionBuilder) > 0 {
		bf.WriteString("( ")
		for i, tb := range s.UnionBuilder {
			tbt, paramsData := tb.Table.Query()
			if i > 0 {
				bf.WriteString(" ")
				bf.WriteString(s.UnionBuilder[i-1].JoinType)
			}
			bf.WriteString("(")
			bf.WriteString(tbt)
			bf.WriteString(")")
			for k, v := range paramsData {
				value[k] = v
			}
		}
		bf.WriteString(" ) ")
		bf.WriteString(s.label)
	}

	return bf.String(), value
}

func (s *SqlBuilder) getWhere() (string, map[string]any) {
	value := map[string]any{}
	if len(s.WhereParam) == 0 {
		return "", value
	}

	parts := make([]string, 0, len(s.WhereParam))
	for _, v := range s.WhereParam {
		mergeValues(value, v.Values())
		parts = append(parts, v.String())
	}
	return " WHERE " + strings.Join(parts, " AND "), value
}

func (s *SqlBuilder) getGroupBy() (string, map[string]any) {
	value := map[string]any{}
	if len(s.GroupParam) == 0 && s.HavingParam == nil {
		return "", value
	}

	var bf bytes.Buffer
	if len(s.GroupParam) > 0 {
		parts := make([]string, 0, len(s.GroupParam))
		for _, g := range s.GroupParam {
			mergeValues(value, g.Values())
			parts = append(parts, g.String())
		}
		bf.WriteString(" GROUP BY ")
		bf.WriteString(strings.Join(parts, ", "))
	}

	if s.HavingParam != nil {
		bf.WriteString(" HAVING ")
		bf.WriteString(s.HavingParam.String())
		mergeValues(value, s.HavingParam.Values())
	}

	return bf.String(), value
}

func (s *SqlBuilder) getOrderBy() string {
	if len(s.OrderParam) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.OrderParam))
	for _, op := range s.OrderParam {
		parts = append(parts, op.String())
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// getLimit uses the MySQL form LIMIT offset, limit. SQLite accepts it too.
func (s *SqlBuilder) getLimit() string {
	if s.LimitParam <= 0 {
		return ""
	}
	if s.OffsetParam <= 0 {
		return " LIMIT " + strconv.Itoa(s.LimitParam)
	}
	return " LIMIT " + strconv.Itoa(s.OffsetParam) + ", " + strconv.Itoa(s.LimitParam)
}

func (s *SqlBuilder) subQuery() (string, map[string]any) {
	bf := bytes.Buffer{}
	bf.WriteString(s.getSelect(true))
	return s.commonQuery(bf, s.selectValues())
}

func (s *SqlBuilder) selectValues() map[string]any {
	value := make(map[string]any, len(s.values))
	for k, v := range s.values {
		value[k] = v
	}
	return value
}

func (s *SqlBuilder) commonQuery(bf bytes.Buffer, value map[string]any) (string, map[string]any) {
	if bf.Len() > 0 {
		bf.WriteString(" FROM ")
	}

	sl, data := s.getTable()
	bf.WriteString(sl)
	for k, v := range data {
		value[k] = v
	}

	sl, data = s.getWhere()
	bf.WriteString(sl)
	for k, v := range data {
		value[k] = v
	}

	sl, data = s.getGroupBy()
	bf.WriteString(sl)
	for k, v := range data {
		value[k] = v
	}

	bf.WriteString(s.getOrderBy())
	bf.WriteString(s.getLimit())

	return bf.String(), value
}

// Query renders the SELECT statement.
func (s *SqlBuilder) Query() (string, map[string]any) {
	bf := bytes.Buffer{}
	bf.WriteString(s.getSelect(false))
	return s.commonQuery(bf, s.selectValues())
}

// Delete renders a DELETE statement. Pass the joined table to delete from
// in a multi-table delete:
//
//	Delete()   -> DELETE FROM t WHERE ...
//	Delete(&u) -> DELETE u FROM t AS u LEFT JOIN ... WHERE ...
func (s *SqlBuilder) Delete(t ...*SqlBuilder) (string, map[string]any) {
	bf := bytes.Buffer{}
	bf.WriteString(s.getDelete(t...))
	return s.commonQuery(bf, map[string]any{})
}
