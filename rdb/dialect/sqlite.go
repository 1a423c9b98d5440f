package dialect

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type sqlite3Dialect struct{}

func (sqlite3Dialect) Name() string { return SQLite3 }

func (sqlite3Dialect) Quote(ident string) string { return quoteWith(ident, '"', '"') }

func (sqlite3Dialect) Rebind(query string) string { return query }

func (sqlite3Dialect) MapType(f schema.FieldDefinition) (string, error) {
	switch f.Type {
	case schema.FieldTypeText:
		return "TEXT", nil
	case schema.FieldTypeInteger:
		return "INTEGER", nil
	case schema.FieldTypeFloat, schema.FieldTypeDouble:
		return "REAL", nil
	case schema.FieldTypeDecimal:
		return decimalType("NUMERIC", f), nil
	case schema.FieldTypeBoolean:
		return "BOOLEAN", nil
	case schema.FieldTypeDate:
		return "DATE", nil
	case schema.FieldTypeTime:
		return "TEXT", nil
	case schema.FieldTypeDateTime, schema.FieldTypeCreatedAt, schema.FieldTypeUpdatedAt:
		return "DATETIME", nil
	case schema.FieldTypeUUID:
		return "TEXT", nil
	case schema.FieldTypeBinary:
		return "BLOB", nil
	case schema.FieldTypeEnum, schema.FieldTypePassword:
		return "TEXT", nil
	case schema.FieldTypeReferenceOneToOne, schema.FieldTypeReferenceManyToOne,
		schema.FieldTypeReferenceOneToMany, schema.FieldTypeReferenceManyToMany:
		return "INTEGER", nil
	default:
		return "", unsupported(f)
	}
}

func (sqlite3Dialect) PrimaryKey() string { return `"id" INTEGER PRIMARY KEY AUTOINCREMENT` }

func (sqlite3Dialect) ReferenceType() string { return "INTEGER" }

// sqlite 按建表语句原样保存类型，只需要忽略大小写和空白
func (sqlite3Dialect) NormalizeType(t string) string {
	return strings.ToUpper(strings.ReplaceAll(squashSpaces(t), " ", ""))
}

func (sqlite3Dialect) NormalizeDefault(raw string) string { return strings.TrimSpace(raw) }

func (sqlite3Dialect) BooleanLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (sqlite3Dialect) SupportsAlterColumn() bool { return false }

func (sqlite3Dialect) SupportsLastInsertID() bool { return true }

func (sqlite3Dialect) NullSafeNotEqual(column string) string {
	return column + " IS NOT ?"
}

func (sqlite3Dialect) AlterColumn(string, Column) []string { return nil }

func (sqlite3Dialect) AddForeignKey(string, string, string) string { return "" }

func (sqlite3Dialect) DropForeignKey(string, string) string { return "" }

func (d sqlite3Dialect) DropIndex(_, name string) string {
	return "DROP INDEX " + d.Quote(name)
}
