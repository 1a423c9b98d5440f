package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return Postgres }

func (postgresDialect) Quote(ident string) string { return quoteWith(ident, '"', '"') }

// Rebind 把 ? 替换为 $1, $2 ...
func (postgresDialect) Rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			sb.WriteByte(c)
		case c == '?' && !inString:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func (postgresDialect) MapType(f schema.FieldDefinition) (string, error) {
	switch f.Type {
	case schema.FieldTypeText:
		if f.Precision != nil {
			return fmt.Sprintf("character varying(%d)", *f.Precision), nil
		}
		return "text", nil
	case schema.FieldTypeInteger:
		return "integer", nil
	case schema.FieldTypeFloat:
		return "real", nil
	case schema.FieldTypeDouble:
		return "double precision", nil
	case schema.FieldTypeDecimal:
		return decimalType("numeric", f), nil
	case schema.FieldTypeBoolean:
		return "boolean", nil
	case schema.FieldTypeDate:
		return "date", nil
	case schema.FieldTypeTime:
		return "time without time zone", nil
	case schema.FieldTypeDateTime, schema.FieldTypeCreatedAt, schema.FieldTypeUpdatedAt:
		return "timestamp without time zone", nil
	case schema.FieldTypeUUID:
		return "uuid", nil
	case schema.FieldTypeBinary:
		return "bytea", nil
	case schema.FieldTypeEnum, schema.FieldTypePassword:
		return "text", nil
	case schema.FieldTypeReferenceOneToOne, schema.FieldTypeReferenceManyToOne,
		schema.FieldTypeReferenceOneToMany, schema.FieldTypeReferenceManyToMany:
		return "bigint", nil
	default:
		return "", unsupported(f)
	}
}

func (postgresDialect) PrimaryKey() string { return `"id" bigserial PRIMARY KEY` }

func (postgresDialect) ReferenceType() string { return "bigint" }

// 类型名与 format_type() 的输出保持一致
func (postgresDialect) NormalizeType(t string) string {
	return strings.ToLower(squashSpaces(t))
}

var postgresCast = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z0-9_ ]*(\([0-9, ]+\))?(\[\])?`)

// NormalizeDefault 去掉目录中默认值携带的类型转换，例如 'x'::text
func (postgresDialect) NormalizeDefault(raw string) string {
	raw = strings.TrimSpace(postgresCast.ReplaceAllString(raw, ""))
	if strings.EqualFold(raw, "now()") {
		return "CURRENT_TIMESTAMP"
	}
	return raw
}

func (postgresDialect) BooleanLiteral(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (postgresDialect) SupportsAlterColumn() bool { return true }

func (postgresDialect) SupportsLastInsertID() bool { return false }

func (postgresDialect) NullSafeNotEqual(column string) string {
	return column + " IS DISTINCT FROM ?"
}

func (d postgresDialect) AlterColumn(table string, col Column) []string {
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s ", d.Quote(table), d.Quote(col.Name))
	stmts := []string{
		prefix + fmt.Sprintf("TYPE %s USING %s::%s", col.Type, d.Quote(col.Name), col.Type),
	}
	if col.NotNull {
		stmts = append(stmts, prefix+"SET NOT NULL")
	} else {
		stmts = append(stmts, prefix+"DROP NOT NULL")
	}
	if col.Default != nil {
		stmts = append(stmts, prefix+"SET DEFAULT "+*col.Default)
	} else {
		stmts = append(stmts, prefix+"DROP DEFAULT")
	}
	return stmts
}

func (d postgresDialect) AddForeignKey(table, column, parent string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		d.Quote(table), d.Quote(schema.ForeignKeyName(table, column)), ForeignKeyClause(d, column, parent))
}

func (d postgresDialect) DropForeignKey(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", d.Quote(table), d.Quote(name))
}

func (d postgresDialect) DropIndex(_, name string) string {
	return "DROP INDEX " + d.Quote(name)
}
