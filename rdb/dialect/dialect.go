// Package dialect 描述不同 SQL 引擎之间的差异：类型映射、标识符引用、占位符、默认值以及 DDL 语法
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/spf13/cast"
)

const (
	SQLite3  = "sqlite3"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// DefaultDecimalPrecision 未指定精度时 decimal 的总位数
const DefaultDecimalPrecision = 10

// decimalScale decimal 固定保留两位小数
const decimalScale = 2

// Dialect 单个 SQL 引擎的语法差异
type Dialect interface {
	Name() string

	// Quote 引用标识符，a.b 形式按段引用
	Quote(ident string) string
	// Rebind 把 ? 占位符转换为引擎的占位符格式，忽略字符串字面量中的 ?
	Rebind(query string) string

	// MapType 抽象字段类型到列类型的映射，枚举之外的类型返回 UnsupportedTypeError
	MapType(f schema.FieldDefinition) (string, error)
	// PrimaryKey 自增主键列的完整定义
	PrimaryKey() string
	// ReferenceType 外键列类型，与主键类型一致
	ReferenceType() string
	// NormalizeType 规范化列类型，用于和目录中读取的类型比较
	NormalizeType(t string) string
	// NormalizeDefault 规范化目录中读取的默认值表达式
	NormalizeDefault(raw string) string
	// BooleanLiteral 布尔默认值的字面量
	BooleanLiteral(v bool) string

	// SupportsAlterColumn 是否支持原地修改列，不支持时迁移引擎重建表
	SupportsAlterColumn() bool
	// SupportsLastInsertID 驱动是否能返回自增主键，否则插入语句使用 RETURNING
	SupportsLastInsertID() bool

	// NullSafeNotEqual 空值安全的不等比较，column 为已引用的列表达式，使用一个占位符
	NullSafeNotEqual(column string) string

	// AlterColumn 原地修改列类型、可空性和默认值
	AlterColumn(table string, col Column) []string
	// AddForeignKey 为已存在的列增加外键约束
	AddForeignKey(table, column, parent string) string
	// DropForeignKey 删除外键约束
	DropForeignKey(table, name string) string
	// DropIndex 删除索引
	DropIndex(table, name string) string
}

// Get 按驱动名称获取方言
func Get(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite3", "sqlite":
		return sqlite3Dialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
}

// MustGet 同 Get，失败时 panic
func MustGet(name string) Dialect {
	d, err := Get(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Column 物化后的列定义
type Column struct {
	Name    string
	Type    string
	NotNull bool
	// Default 已渲染的 SQL 字面量，nil 表示没有默认值
	Default *string
}

// BuildColumn 把字段定义映射为列定义
func BuildColumn(d Dialect, table string, f schema.FieldDefinition) (Column, error) {
	typ, err := d.MapType(f)
	if err != nil {
		if e, ok := err.(*errs.UnsupportedTypeError); ok {
			e.Table = table
		}
		return Column{}, err
	}
	col := Column{Name: f.Name, Type: typ, NotNull: f.Required}
	if f.Default != nil {
		lit, err := DefaultLiteral(d, f)
		if err != nil {
			return Column{}, &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: err.Error()}
		}
		col.Default = &lit
	}
	return col, nil
}

// ColumnSQL 渲染 CREATE TABLE / ADD COLUMN 中的列定义
func ColumnSQL(d Dialect, col Column) string {
	var sb strings.Builder
	sb.WriteString(d.Quote(col.Name))
	sb.WriteString(" ")
	sb.WriteString(col.Type)
	if col.NotNull {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(*col.Default)
	}
	return sb.String()
}

// ForeignKeyClause 表级外键约束，删除父记录时级联删除
func ForeignKeyClause(d Dialect, column, parent string) string {
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
		d.Quote(column), d.Quote(parent), d.Quote(schema.PrimaryKey))
}

// DefaultLiteral 按字段类型渲染默认值字面量
func DefaultLiteral(d Dialect, f schema.FieldDefinition) (string, error) {
	raw := *f.Default
	switch f.Type {
	case schema.FieldTypeInteger, schema.FieldTypeFloat, schema.FieldTypeDouble, schema.FieldTypeDecimal,
		schema.FieldTypeReferenceOneToOne, schema.FieldTypeReferenceManyToOne,
		schema.FieldTypeReferenceOneToMany, schema.FieldTypeReferenceManyToMany:
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
			return "", fmt.Errorf("default %q is not a number", raw)
		}
		return strings.TrimSpace(raw), nil
	case schema.FieldTypeBoolean:
		b, err := cast.ToBoolE(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("default %q is not a boolean", raw)
		}
		return d.BooleanLiteral(b), nil
	case schema.FieldTypeDate, schema.FieldTypeTime, schema.FieldTypeDateTime,
		schema.FieldTypeCreatedAt, schema.FieldTypeUpdatedAt:
		if strings.EqualFold(raw, "CURRENT_TIMESTAMP") || strings.EqualFold(raw, "now") {
			return "CURRENT_TIMESTAMP", nil
		}
	}
	return QuoteString(raw), nil
}

// QuoteString 渲染 SQL 字符串字面量
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// DefaultsEqual 比较期望的默认值字面量和目录中读取的默认值
func DefaultsEqual(d Dialect, want, got *string) bool {
	if want == nil || got == nil {
		return want == nil && (got == nil || strings.EqualFold(strings.TrimSpace(*got), "NULL"))
	}
	w := canonicalDefault(*want)
	g := canonicalDefault(d.NormalizeDefault(*got))
	if w == g {
		return true
	}
	if strings.EqualFold(w, g) && !strings.HasPrefix(*want, "'") {
		return true
	}
	wf, err1 := strconv.ParseFloat(w, 64)
	gf, err2 := strconv.ParseFloat(g, 64)
	return err1 == nil && err2 == nil && wf == gf
}

func canonicalDefault(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// SameType 比较期望的列类型和目录中的列类型
func SameType(d Dialect, want, got string) bool {
	return d.NormalizeType(want) == d.NormalizeType(got)
}

func quoteWith(ident string, open, close byte) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		escaped := strings.ReplaceAll(p, string(close), string([]byte{close, close}))
		parts[i] = string(open) + escaped + string(close)
	}
	return strings.Join(parts, ".")
}

func decimalType(name string, f schema.FieldDefinition) string {
	p := DefaultDecimalPrecision
	if f.Precision != nil {
		p = *f.Precision
	}
	scale := decimalScale
	if p < scale {
		scale = p
	}
	return fmt.Sprintf("%s(%d,%d)", name, p, scale)
}

func unsupported(f schema.FieldDefinition) error {
	return &errs.UnsupportedTypeError{Field: f.Name, Type: f.Type.String()}
}

func squashSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
