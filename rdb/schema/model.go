package schema

import (
	"fmt"
	"strings"

	"github.com/hatlonely/rdbx/rdb/errs"
)

// FieldType 抽象字段类型，封闭枚举
type FieldType int

const (
	FieldTypeText FieldType = iota + 1
	FieldTypeInteger
	FieldTypeFloat
	FieldTypeDouble
	FieldTypeDecimal
	FieldTypeBoolean
	FieldTypeDate
	FieldTypeTime
	FieldTypeDateTime
	FieldTypeCreatedAt
	FieldTypeUpdatedAt
	FieldTypeUUID
	FieldTypeBinary
	FieldTypeEnum
	FieldTypePassword
	FieldTypeReferenceOneToOne
	FieldTypeReferenceManyToOne
	FieldTypeReferenceOneToMany
	FieldTypeReferenceManyToMany
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeText:                "text",
	FieldTypeInteger:             "integer",
	FieldTypeFloat:               "float",
	FieldTypeDouble:              "double",
	FieldTypeDecimal:             "decimal",
	FieldTypeBoolean:             "boolean",
	FieldTypeDate:                "date",
	FieldTypeTime:                "time",
	FieldTypeDateTime:            "datetime",
	FieldTypeCreatedAt:           "createdAt",
	FieldTypeUpdatedAt:           "updatedAt",
	FieldTypeUUID:                "uuid",
	FieldTypeBinary:              "binary",
	FieldTypeEnum:                "enum",
	FieldTypePassword:            "password",
	FieldTypeReferenceOneToOne:   "oneToOne",
	FieldTypeReferenceManyToOne:  "manyToOne",
	FieldTypeReferenceOneToMany:  "oneToMany",
	FieldTypeReferenceManyToMany: "manyToMany",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Valid 是否为已声明的枚举值
func (t FieldType) Valid() bool {
	_, ok := fieldTypeNames[t]
	return ok
}

// IsReference 是否为关联类型
func (t FieldType) IsReference() bool {
	switch t {
	case FieldTypeReferenceOneToOne, FieldTypeReferenceManyToOne,
		FieldTypeReferenceOneToMany, FieldTypeReferenceManyToMany:
		return true
	}
	return false
}

// ParseFieldType 解析类型名称，大小写不敏感
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, &errs.UnsupportedTypeError{Type: name}
}

func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, &errs.UnsupportedTypeError{Type: t.String()}
	}
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(text []byte) error {
	v, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IndexKind 字段索引类型
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexDefault
	IndexUnique
	IndexForeign
)

var indexKindNames = map[IndexKind]string{
	IndexNone:    "none",
	IndexDefault: "default",
	IndexUnique:  "unique",
	IndexForeign: "foreign",
}

func (k IndexKind) String() string {
	if name, ok := indexKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

func (k IndexKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *IndexKind) UnmarshalText(text []byte) error {
	for kind, name := range indexKindNames {
		if strings.EqualFold(name, string(text)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown index kind %q", string(text))
}

// PrimaryKey 自动生成的自增主键列名
const PrimaryKey = "id"

// FieldDefinition 字段定义
type FieldDefinition struct {
	Name         string    `cfg:"name" json:"name" validate:"required"`
	Type         FieldType `cfg:"type" json:"type"`
	Required     bool      `cfg:"required" json:"required,omitempty"`
	Indexed      IndexKind `cfg:"indexed" json:"indexed,omitempty"`
	Default      *string   `cfg:"default" json:"default,omitempty"`
	Precision    *int      `cfg:"precision" json:"precision,omitempty"`
	Options      []string  `cfg:"options" json:"options,omitempty"`
	ForeignTable string    `cfg:"foreignTable" json:"foreignTable,omitempty"`
}

// CompoundIndex 复合索引
type CompoundIndex struct {
	Fields []string  `cfg:"fields" json:"fields" validate:"min=1"`
	Kind   IndexKind `cfg:"kind" json:"kind,omitempty"`
}

// TableDefinition 表定义
type TableDefinition struct {
	Name            string            `cfg:"name" json:"name" validate:"required"`
	Fields          []FieldDefinition `cfg:"fields" json:"fields" validate:"dive"`
	CompoundIndexes []CompoundIndex   `cfg:"compoundIndexes" json:"compoundIndexes,omitempty" validate:"dive"`
}

// Field 按名称查找字段定义
func (d *TableDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// IndexDefinition 物化后的索引
type IndexDefinition struct {
	Name   string
	Fields []string
	Unique bool
}

// Indexes 根据字段索引声明和复合索引生成需要存在的索引
func (d *TableDefinition) Indexes() []IndexDefinition {
	var indexes []IndexDefinition
	for _, f := range d.Fields {
		kind := f.Indexed
		// 一对一关联隐含唯一约束
		if f.Type == FieldTypeReferenceOneToOne && kind == IndexNone {
			kind = IndexUnique
		}
		switch kind {
		case IndexDefault, IndexForeign:
			indexes = append(indexes, IndexDefinition{Name: IndexName(d.Name, false, f.Name), Fields: []string{f.Name}})
		case IndexUnique:
			indexes = append(indexes, IndexDefinition{Name: IndexName(d.Name, true, f.Name), Fields: []string{f.Name}, Unique: true})
		}
	}
	for _, ci := range d.CompoundIndexes {
		unique := ci.Kind == IndexUnique
		indexes = append(indexes, IndexDefinition{
			Name:   IndexName(d.Name, unique, ci.Fields...),
			Fields: append([]string(nil), ci.Fields...),
			Unique: unique,
		})
	}
	return indexes
}
