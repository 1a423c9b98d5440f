package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
)

// alwaysTrue 空谓词的渲染结果
const alwaysTrue = "1=1"

const alwaysFalse = "1=0"

// Dialect 编译器依赖的方言能力
type Dialect interface {
	Quote(ident string) string
	NullSafeNotEqual(column string) string
}

// Compiler 把 Where 树编译为参数化的 SQL 条件
// 编译过程不访问数据库，也不修改输入
type Compiler struct {
	dialect Dialect
}

func NewCompiler(dialect Dialect) *Compiler {
	return &Compiler{dialect: dialect}
}

// Compile 返回条件片段和按出现顺序排列的参数
// table 非空时，未限定的字段会被限定为 table.field
func (c *Compiler) Compile(w Where, table string) (string, []any, error) {
	var args []any
	sql, err := c.compile(w, table, &args)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

func (c *Compiler) compile(w Where, table string, args *[]any) (string, error) {
	switch n := w.(type) {
	case nil:
		return alwaysTrue, nil
	case *Comparison:
		if n == nil {
			return alwaysTrue, nil
		}
		return c.compileComparison(n, table, args)
	case *And:
		if n == nil {
			return alwaysTrue, nil
		}
		return c.compileGroup(n.Children, " AND ", table, args)
	case *Or:
		if n == nil {
			return alwaysTrue, nil
		}
		return c.compileGroup(n.Children, " OR ", table, args)
	default:
		return "", &errs.InvalidWhereError{Node: w}
	}
}

func (c *Compiler) compileGroup(children []Where, sep string, table string, args *[]any) (string, error) {
	if len(children) == 0 {
		return alwaysTrue, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		sql, err := c.compile(child, table, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+sql+")")
	}
	return strings.Join(parts, sep), nil
}

func (c *Compiler) compileComparison(n *Comparison, table string, args *[]any) (string, error) {
	op, err := ParseOperator(string(n.Operator))
	if err != nil {
		return "", &errs.UnsupportedOperatorError{Field: n.Field, Operator: string(n.Operator)}
	}
	if n.Field == "" {
		return "", &errs.InvalidOperandError{Field: n.Field, Operator: string(op), Value: n.Value}
	}
	column := c.column(n.Field, table)

	switch op {
	case OpEq:
		if n.Value == nil {
			return column + " IS NULL", nil
		}
		*args = append(*args, n.Value)
		return column + " = ?", nil
	case OpNeq:
		if n.Value == nil {
			return column + " IS NOT NULL", nil
		}
		*args = append(*args, n.Value)
		return column + " <> ?", nil
	case OpGt, OpGte, OpLt, OpLte:
		if n.Value == nil {
			return "", &errs.InvalidOperandError{Field: n.Field, Operator: string(op), Value: n.Value}
		}
		*args = append(*args, n.Value)
		return column + " " + comparisonSymbols[op] + " ?", nil
	case OpLike, OpNotLike:
		if n.Value == nil {
			return "", &errs.InvalidOperandError{Field: n.Field, Operator: string(op), Value: n.Value}
		}
		*args = append(*args, fmt.Sprintf("%%%v%%", n.Value))
		if op == OpLike {
			return column + " LIKE ?", nil
		}
		return column + " NOT LIKE ?", nil
	case OpIn, OpNotIn:
		values, ok := listValues(n.Value)
		if !ok {
			return "", &errs.InvalidOperandError{Field: n.Field, Operator: string(op), Value: n.Value}
		}
		if len(values) == 0 {
			if op == OpIn {
				return alwaysFalse, nil
			}
			return alwaysTrue, nil
		}
		*args = append(*args, values...)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		if op == OpIn {
			return column + " IN (" + placeholders + ")", nil
		}
		return column + " NOT IN (" + placeholders + ")", nil
	case OpNot:
		*args = append(*args, n.Value)
		return c.dialect.NullSafeNotEqual(column), nil
	}
	return "", &errs.UnsupportedOperatorError{Field: n.Field, Operator: string(n.Operator)}
}

var comparisonSymbols = map[Operator]string{
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

func (c *Compiler) column(field string, table string) string {
	if table != "" && !strings.Contains(field, ".") {
		field = table + "." + field
	}
	return c.dialect.Quote(field)
}

// listValues 展开 slice 或 array，[]byte 视为标量
func listValues(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, true
}
