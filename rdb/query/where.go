package query

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
)

// WhereType 谓词节点类型
type WhereType string

const (
	WhereTypeComparison WhereType = "comparison"
	WhereTypeAnd        WhereType = "and"
	WhereTypeOr         WhereType = "or"
)

// Where 谓词树节点，构建后不再修改
type Where interface {
	Type() WhereType
}

// Operator 比较运算符
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpLike    Operator = "like"
	OpNotLike Operator = "not like"
	OpIn      Operator = "in"
	OpNotIn   Operator = "not in"
	// OpNot 空值安全的不等
	OpNot Operator = "not"
)

var operatorAliases = map[string]Operator{
	"eq":       OpEq,
	"=":        OpEq,
	"neq":      OpNeq,
	"!=":       OpNeq,
	"<>":       OpNeq,
	"gt":       OpGt,
	">":        OpGt,
	"gte":      OpGte,
	">=":       OpGte,
	"lt":       OpLt,
	"<":        OpLt,
	"lte":      OpLte,
	"<=":       OpLte,
	"like":     OpLike,
	"not like": OpNotLike,
	"not-like": OpNotLike,
	"not_like": OpNotLike,
	"notlike":  OpNotLike,
	"in":       OpIn,
	"not in":   OpNotIn,
	"not-in":   OpNotIn,
	"not_in":   OpNotIn,
	"notin":    OpNotIn,
	"not":      OpNot,
}

// ParseOperator 解析运算符，大小写不敏感，支持 not-like / not_in 等写法
func ParseOperator(s string) (Operator, error) {
	key := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	return "", &errs.UnsupportedOperatorError{Operator: s}
}

// Comparison 单个字段的比较
type Comparison struct {
	Field    string
	Operator Operator
	Value    any
}

func (c *Comparison) Type() WhereType {
	return WhereTypeComparison
}

// And 所有子节点都成立
type And struct {
	Children []Where
}

func (a *And) Type() WhereType {
	return WhereTypeAnd
}

// Or 任一子节点成立
type Or struct {
	Children []Where
}

func (o *Or) Type() WhereType {
	return WhereTypeOr
}

func Eq(field string, value any) Where      { return &Comparison{Field: field, Operator: OpEq, Value: value} }
func Neq(field string, value any) Where     { return &Comparison{Field: field, Operator: OpNeq, Value: value} }
func Gt(field string, value any) Where      { return &Comparison{Field: field, Operator: OpGt, Value: value} }
func Gte(field string, value any) Where     { return &Comparison{Field: field, Operator: OpGte, Value: value} }
func Lt(field string, value any) Where      { return &Comparison{Field: field, Operator: OpLt, Value: value} }
func Lte(field string, value any) Where     { return &Comparison{Field: field, Operator: OpLte, Value: value} }
func Like(field string, value any) Where    { return &Comparison{Field: field, Operator: OpLike, Value: value} }
func NotLike(field string, value any) Where { return &Comparison{Field: field, Operator: OpNotLike, Value: value} }
func In(field string, values any) Where     { return &Comparison{Field: field, Operator: OpIn, Value: values} }
func NotIn(field string, values any) Where  { return &Comparison{Field: field, Operator: OpNotIn, Value: values} }
func Not(field string, value any) Where     { return &Comparison{Field: field, Operator: OpNot, Value: value} }

// AndOf 组合多个谓词，nil 子节点会被忽略
func AndOf(children ...Where) Where {
	return &And{Children: compact(children)}
}

// OrOf 组合多个谓词，nil 子节点会被忽略
func OrOf(children ...Where) Where {
	return &Or{Children: compact(children)}
}

func compact(children []Where) []Where {
	result := make([]Where, 0, len(children))
	for _, c := range children {
		if c != nil {
			result = append(result, c)
		}
	}
	return result
}
