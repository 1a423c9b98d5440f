package dialect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return MySQL }

func (mysqlDialect) Quote(ident string) string { return quoteWith(ident, '`', '`') }

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) MapType(f schema.FieldDefinition) (string, error) {
	switch f.Type {
	case schema.FieldTypeText:
		if f.Precision != nil {
			return fmt.Sprintf("varchar(%d)", *f.Precision), nil
		}
		return "varchar(255)", nil
	case schema.FieldTypeInteger:
		return "int", nil
	case schema.FieldTypeFloat:
		return "float", nil
	case schema.FieldTypeDouble:
		return "double", nil
	case schema.FieldTypeDecimal:
		return decimalType("decimal", f), nil
	case schema.FieldTypeBoolean:
		return "tinyint(1)", nil
	case schema.FieldTypeDate:
		return "date", nil
	case schema.FieldTypeTime:
		return "time", nil
	case schema.FieldTypeDateTime, schema.FieldTypeCreatedAt, schema.FieldTypeUpdatedAt:
		return "datetime", nil
	case schema.FieldTypeUUID:
		return "char(36)", nil
	case schema.FieldTypeBinary:
		return "longblob", nil
	case schema.FieldTypeEnum, schema.FieldTypePassword:
		return "varchar(255)", nil
	case schema.FieldTypeReferenceOneToOne, schema.FieldTypeReferenceManyToOne,
		schema.FieldTypeReferenceOneToMany, schema.FieldTypeReferenceManyToMany:
		return "bigint", nil
	default:
		return "", unsupported(f)
	}
}

func (mysqlDialect) PrimaryKey() string { return "`id` bigint NOT NULL AUTO_INCREMENT PRIMARY KEY" }

func (mysqlDialect) ReferenceType() string { return "bigint" }

// 8.0.19 之前的版本在 COLUMN_TYPE 中带整型显示宽度，tinyint(1) 除外
var mysqlIntWidth = regexp.MustCompile(`^(smallint|mediumint|int|bigint)\(\d+\)`)

func (mysqlDialect) NormalizeType(t string) string {
	t = strings.ToLower(strings.ReplaceAll(squashSpaces(t), " ", ""))
	if t == "integer" {
		return "int"
	}
	return mysqlIntWidth.ReplaceAllString(t, "$1")
}

func (mysqlDialect) NormalizeDefault(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "current_timestamp()") {
		return "CURRENT_TIMESTAMP"
	}
	return raw
}

func (mysqlDialect) BooleanLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (mysqlDialect) SupportsAlterColumn() bool { return true }

func (mysqlDialect) SupportsLastInsertID() bool { return true }

func (mysqlDialect) NullSafeNotEqual(column string) string {
	return "NOT (" + column + " <=> ?)"
}

func (d mysqlDialect) AlterColumn(table string, col Column) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.Quote(table), ColumnSQL(d, col))}
}

func (d mysqlDialect) AddForeignKey(table, column, parent string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		d.Quote(table), d.Quote(schema.ForeignKeyName(table, column)), ForeignKeyClause(d, column, parent))
}

func (d mysqlDialect) DropForeignKey(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(table), d.Quote(name))
}

func (d mysqlDialect) DropIndex(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.Quote(name), d.Quote(table))
}
