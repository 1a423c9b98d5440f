package schema

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/rdbx/rdb/errs"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var structValidator = validator.New()

// ValidIdentifier 表名、字段名只允许字母数字下划线
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Validate 校验表定义的结构，不访问存储后端
// 外表是否存在由迁移引擎在执行 DDL 前检查
func Validate(def *TableDefinition) error {
	if def == nil {
		return &errs.InvalidDefinitionError{Reason: "definition is nil"}
	}
	if err := structValidator.Struct(def); err != nil {
		return &errs.InvalidDefinitionError{Table: def.Name, Reason: err.Error()}
	}
	if !ValidIdentifier(def.Name) {
		return &errs.InvalidDefinitionError{Table: def.Name, Reason: "table name must be an identifier"}
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if err := validateField(def.Name, f); err != nil {
			return err
		}
		if seen[f.Name] {
			return &errs.InvalidDefinitionError{Table: def.Name, Field: f.Name, Reason: "duplicate field"}
		}
		seen[f.Name] = true
	}

	for i, ci := range def.CompoundIndexes {
		if ci.Kind == IndexForeign {
			return &errs.InvalidDefinitionError{Table: def.Name, Reason: fmt.Sprintf("compound index %d must be default or unique", i)}
		}
		for _, name := range ci.Fields {
			if name != PrimaryKey && !seen[name] {
				return &errs.InvalidDefinitionError{Table: def.Name, Field: name, Reason: fmt.Sprintf("compound index %d references unknown field", i)}
			}
		}
	}
	return nil
}

func validateField(table string, f FieldDefinition) error {
	if !f.Type.Valid() {
		return &errs.UnsupportedTypeError{Table: table, Field: f.Name, Type: f.Type.String()}
	}
	if !ValidIdentifier(f.Name) {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "field name must be an identifier"}
	}
	if f.Name == PrimaryKey {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "id is reserved for the primary key"}
	}
	if f.Type == FieldTypeEnum && len(f.Options) == 0 {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "enum field requires options"}
	}
	if f.Type == FieldTypeReferenceManyToOne && f.ForeignTable == "" {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "manyToOne field requires foreignTable"}
	}
	if f.ForeignTable != "" && !f.Type.IsReference() {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "foreignTable is only allowed on reference fields"}
	}
	if f.ForeignTable != "" && !ValidIdentifier(f.ForeignTable) {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "foreignTable must be an identifier"}
	}
	if f.Precision != nil && *f.Precision <= 0 {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "precision must be positive"}
	}
	if f.Type == FieldTypeEnum && f.Default != nil {
		found := false
		for _, o := range f.Options {
			if o == *f.Default {
				found = true
				break
			}
		}
		if !found {
			return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "default is not one of the enum options"}
		}
	}
	if f.Indexed < IndexNone || f.Indexed > IndexForeign {
		return &errs.InvalidDefinitionError{Table: table, Field: f.Name, Reason: "unknown index kind"}
	}
	return nil
}
