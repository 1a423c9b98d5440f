package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FromStruct 从结构体构建 TableDefinition
// 支持的 tag 格式：
// - `rdb:"column_name,type=text,precision=2,default=x,options=a|b,ref=authors,required,index,unique"`
// - `table:"table_name"` 用于指定表名（放在任意字段上）
// 名为 id 的字段会被跳过，主键由迁移引擎自动生成
func FromStruct(v any) (*TableDefinition, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %T", v)
	}

	def := &TableDefinition{Name: strings.ToLower(rt.Name())}

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if tableTag := field.Tag.Get("table"); tableTag != "" {
			def.Name = tableTag
		}
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("rdb")
		if tag == "-" {
			continue
		}

		fieldDef, err := parseFieldTag(field, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to parse field %s: %v", field.Name, err)
		}
		if fieldDef.Name == PrimaryKey {
			continue
		}
		def.Fields = append(def.Fields, fieldDef)
	}

	return def, nil
}

// ColumnName 结构体字段对应的列名，rdb:"-" 或未导出的字段返回 false
func ColumnName(field reflect.StructField) (string, bool) {
	if !field.IsExported() {
		return "", false
	}
	tag := field.Tag.Get("rdb")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || strings.Contains(name, "=") {
		return CamelCase(field.Name), true
	}
	return name, true
}

// parseFieldTag 解析字段的 rdb tag
func parseFieldTag(field reflect.StructField, tag string) (FieldDefinition, error) {
	fieldDef := FieldDefinition{
		Name: CamelCase(field.Name),
		Type: inferFieldType(field.Type),
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		fieldDef.Name = parts[0]
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		if hasValue {
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "type":
				t, err := ParseFieldType(value)
				if err != nil {
					return fieldDef, err
				}
				fieldDef.Type = t
			case "precision":
				p, err := strconv.Atoi(value)
				if err != nil {
					return fieldDef, fmt.Errorf("invalid precision %q", value)
				}
				fieldDef.Precision = &p
			case "default":
				d := value
				fieldDef.Default = &d
			case "options":
				fieldDef.Options = strings.Split(value, "|")
			case "ref":
				fieldDef.ForeignTable = value
				if !fieldDef.Type.IsReference() {
					fieldDef.Type = FieldTypeReferenceManyToOne
				}
			default:
				return fieldDef, fmt.Errorf("unknown tag option %q", key)
			}
			continue
		}

		switch part {
		case "required", "not_null":
			fieldDef.Required = true
		case "index":
			fieldDef.Indexed = IndexDefault
		case "unique":
			fieldDef.Indexed = IndexUnique
		case "foreign":
			fieldDef.Indexed = IndexForeign
		default:
			return fieldDef, fmt.Errorf("unknown tag option %q", part)
		}
	}

	return fieldDef, nil
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	uuidType  = reflect.TypeOf(uuid.UUID{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// inferFieldType 从 Go 类型推断字段类型
func inferFieldType(t reflect.Type) FieldType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return FieldTypeDateTime
	case uuidType:
		return FieldTypeUUID
	case bytesType:
		return FieldTypeBinary
	}

	switch t.Kind() {
	case reflect.String:
		return FieldTypeText
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FieldTypeInteger
	case reflect.Float32:
		return FieldTypeFloat
	case reflect.Float64:
		return FieldTypeDouble
	case reflect.Bool:
		return FieldTypeBoolean
	default:
		return FieldTypeText
	}
}
