package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind 错误分类
type Kind int

const (
	KindValidation Kind = iota + 1
	KindSchemaState
	KindRelationship
	KindConstraintViolation
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSchemaState:
		return "schema_state"
	case KindRelationship:
		return "relationship"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Classified 所有分类错误都实现该接口
type Classified interface {
	error
	Kind() Kind
}

// UnsupportedTypeError 字段类型不在支持的枚举内
type UnsupportedTypeError struct {
	Table string
	Field string
	Type  string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported field type %q for %s.%s", e.Type, e.Table, e.Field)
}

func (e *UnsupportedTypeError) Kind() Kind { return KindValidation }

// InvalidOperandError 比较运算的操作数不合法，例如 in 的值不是列表
type InvalidOperandError struct {
	Field    string
	Operator string
	Value    any
}

func (e *InvalidOperandError) Error() string {
	return fmt.Sprintf("invalid operand %T for operator %q on field %q", e.Value, e.Operator, e.Field)
}

func (e *InvalidOperandError) Kind() Kind { return KindValidation }

// InvalidWhereError 无法识别的谓词节点
type InvalidWhereError struct {
	Node any
}

func (e *InvalidWhereError) Error() string {
	return fmt.Sprintf("unsupported where node %T", e.Node)
}

func (e *InvalidWhereError) Kind() Kind { return KindValidation }

// UnsupportedOperatorError 未知的比较运算符
type UnsupportedOperatorError struct {
	Field    string
	Operator string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %q on field %q", e.Operator, e.Field)
}

func (e *UnsupportedOperatorError) Kind() Kind { return KindValidation }

// InvalidDefinitionError 表定义或字段定义不合法
type InvalidDefinitionError struct {
	Table  string
	Field  string
	Reason string
}

func (e *InvalidDefinitionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid definition of table %q: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("invalid definition of %s.%s: %s", e.Table, e.Field, e.Reason)
}

func (e *InvalidDefinitionError) Kind() Kind { return KindValidation }

// EmptyChainError 关联查询链为空
type EmptyChainError struct{}

func (e *EmptyChainError) Error() string { return "join chain is empty" }

func (e *EmptyChainError) Kind() Kind { return KindValidation }

// TableNotFoundError 表不存在
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Table)
}

func (e *TableNotFoundError) Kind() Kind { return KindSchemaState }

// FieldNotFoundError 字段不存在
type FieldNotFoundError struct {
	Table string
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found in table %q", e.Field, e.Table)
}

func (e *FieldNotFoundError) Kind() Kind { return KindSchemaState }

// TableExistsError 需要创建的表已经存在
type TableExistsError struct {
	Table string
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Table)
}

func (e *TableExistsError) Kind() Kind { return KindSchemaState }

// RecordNotFoundError 按主键找不到记录
type RecordNotFoundError struct {
	Table string
	ID    any
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %v not found in table %q", e.ID, e.Table)
}

func (e *RecordNotFoundError) Kind() Kind { return KindSchemaState }

// MissingForeignKeyError 子表缺少按命名约定推导出的外键列
type MissingForeignKeyError struct {
	Parent string
	Child  string
	Column string
}

func (e *MissingForeignKeyError) Error() string {
	return fmt.Sprintf("table %q has no foreign key column %q referencing %q", e.Child, e.Column, e.Parent)
}

func (e *MissingForeignKeyError) Kind() Kind { return KindRelationship }

// Constraint 约束类型
type Constraint string

const (
	ConstraintUnique     Constraint = "unique"
	ConstraintForeignKey Constraint = "foreign_key"
	ConstraintNotNull    Constraint = "not_null"
	ConstraintCheck      Constraint = "check"
)

// ConstraintViolationError 后端报告的约束冲突，已从驱动错误中重新分类
type ConstraintViolationError struct {
	Op         string
	Table      string
	Constraint Constraint
	Cause      error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("%s on %q violates %s constraint: %v", e.Op, e.Table, e.Constraint, e.Cause)
}

func (e *ConstraintViolationError) Kind() Kind { return KindConstraintViolation }

func (e *ConstraintViolationError) Unwrap() error { return e.Cause }

// BackendError 存储驱动返回的其他错误
type BackendError struct {
	Op    string
	Table string
	Cause error
}

func (e *BackendError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s on %q failed: %v", e.Op, e.Table, e.Cause)
}

func (e *BackendError) Kind() Kind { return KindBackend }

func (e *BackendError) Unwrap() error { return e.Cause }

// KindOf 返回错误链上第一个分类错误的类别，未分类返回 0
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return 0
}

func IsValidation(err error) bool          { return KindOf(err) == KindValidation }
func IsSchemaState(err error) bool         { return KindOf(err) == KindSchemaState }
func IsRelationship(err error) bool        { return KindOf(err) == KindRelationship }
func IsConstraintViolation(err error) bool { return KindOf(err) == KindConstraintViolation }
func IsBackend(err error) bool             { return KindOf(err) == KindBackend }

// WithTable 为尚未标注表名的后端错误补充表名
func WithTable(err error, table string) error {
	var cv *ConstraintViolationError
	if errors.As(err, &cv) && cv.Table == "" {
		cv.Table = table
		return err
	}
	var be *BackendError
	if errors.As(err, &be) && be.Table == "" {
		be.Table = table
	}
	return err
}
