package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/spf13/cast"
)

// catalog 各引擎读取表结构的方式
type catalog interface {
	hasTable(ctx context.Context, s *session, table string) (bool, error)
	columns(ctx context.Context, s *session, table string) ([]ColumnInfo, error)
	foreignKeys(ctx context.Context, s *session, table string) ([]ForeignKeyInfo, error)
	indexes(ctx context.Context, s *session, table string) ([]IndexInfo, error)
	indexStatements(ctx context.Context, s *session, table string) ([]string, error)
	referencedBy(ctx context.Context, s *session, table string) ([]string, error)
}

func catalogFor(d dialect.Dialect) catalog {
	switch d.Name() {
	case dialect.MySQL:
		return mysqlCatalog{}
	case dialect.Postgres:
		return postgresCatalog{}
	default:
		return sqliteCatalog{}
	}
}

func optionalString(v any) *string {
	if v == nil {
		return nil
	}
	s := cast.ToString(v)
	return &s
}

// groupIndexes 把按索引名、列序排好的行合并为索引
func groupIndexes(rows []Record, nameKey, columnKey string, unique func(Record) bool) []IndexInfo {
	var indexes []IndexInfo
	pos := map[string]int{}
	for _, row := range rows {
		name := cast.ToString(row[nameKey])
		i, ok := pos[name]
		if !ok {
			pos[name] = len(indexes)
			indexes = append(indexes, IndexInfo{Name: name, Unique: unique(row)})
			i = len(indexes) - 1
		}
		indexes[i].Columns = append(indexes[i].Columns, cast.ToString(row[columnKey]))
	}
	return indexes
}

func stringColumn(rows []Record, key string) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, cast.ToString(row[key]))
	}
	return values
}

type sqliteCatalog struct{}

func (sqliteCatalog) hasTable(ctx context.Context, s *session, table string) (bool, error) {
	rows, err := s.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, withTable(err, table)
	}
	return len(rows) > 0, nil
}

func (sqliteCatalog) columns(ctx context.Context, s *session, table string) ([]ColumnInfo, error) {
	rows, err := s.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.dialect.Quote(table)))
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, ColumnInfo{
			Name:       cast.ToString(row["name"]),
			Type:       cast.ToString(row["type"]),
			NotNull:    cast.ToInt64(row["notnull"]) != 0,
			Default:    optionalString(row["dflt_value"]),
			PrimaryKey: cast.ToInt64(row["pk"]) != 0,
		})
	}
	return cols, nil
}

// foreignKeys sqlite 的外键没有名称，按命名约定补上
func (sqliteCatalog) foreignKeys(ctx context.Context, s *session, table string) ([]ForeignKeyInfo, error) {
	rows, err := s.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", s.dialect.Quote(table)))
	if err != nil {
		return nil, err
	}
	fks := make([]ForeignKeyInfo, 0, len(rows))
	for _, row := range rows {
		column := cast.ToString(row["from"])
		refColumn := cast.ToString(row["to"])
		if refColumn == "" {
			refColumn = schema.PrimaryKey
		}
		fks = append(fks, ForeignKeyInfo{
			Name:      schema.ForeignKeyName(table, column),
			Column:    column,
			RefTable:  cast.ToString(row["table"]),
			RefColumn: refColumn,
		})
	}
	return fks, nil
}

// indexes 只返回 CREATE INDEX 创建的索引，忽略主键和 UNIQUE 约束生成的自动索引
func (sqliteCatalog) indexes(ctx context.Context, s *session, table string) ([]IndexInfo, error) {
	rows, err := s.Query(ctx, fmt.Sprintf("PRAGMA index_list(%s)", s.dialect.Quote(table)))
	if err != nil {
		return nil, err
	}
	var indexes []IndexInfo
	for _, row := range rows {
		if cast.ToString(row["origin"]) != "c" {
			continue
		}
		name := cast.ToString(row["name"])
		info, err := s.Query(ctx, fmt.Sprintf("PRAGMA index_info(%s)", s.dialect.Quote(name)))
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, IndexInfo{
			Name:    name,
			Columns: stringColumn(info, "name"),
			Unique:  cast.ToInt64(row["unique"]) != 0,
		})
	}
	return indexes, nil
}

func (sqliteCatalog) indexStatements(ctx context.Context, s *session, table string) ([]string, error) {
	rows, err := s.Query(ctx, "SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", table)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, "sql"), nil
}

func (sqliteCatalog) referencedBy(ctx context.Context, s *session, table string) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT DISTINCT m.name AS name FROM sqlite_master m, pragma_foreign_key_list(m.name) p
WHERE m.type = 'table' AND p."table" = ? AND m.name <> ? ORDER BY m.name`, table, table)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, "name"), nil
}

type mysqlCatalog struct{}

func (mysqlCatalog) hasTable(ctx context.Context, s *session, table string) (bool, error) {
	rows, err := s.Query(ctx, "SELECT COUNT(*) AS cnt FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?", table)
	if err != nil {
		return false, withTable(err, table)
	}
	return len(rows) > 0 && cast.ToInt64(rows[0]["cnt"]) > 0, nil
}

func (mysqlCatalog) columns(ctx context.Context, s *session, table string) ([]ColumnInfo, error) {
	rows, err := s.Query(ctx, `SELECT COLUMN_NAME AS name, COLUMN_TYPE AS type, IS_NULLABLE AS nullable, COLUMN_DEFAULT AS dflt, COLUMN_KEY AS col_key
FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, ColumnInfo{
			Name:       cast.ToString(row["name"]),
			Type:       cast.ToString(row["type"]),
			NotNull:    strings.EqualFold(cast.ToString(row["nullable"]), "NO"),
			Default:    optionalString(row["dflt"]),
			PrimaryKey: cast.ToString(row["col_key"]) == "PRI",
		})
	}
	return cols, nil
}

func (mysqlCatalog) foreignKeys(ctx context.Context, s *session, table string) ([]ForeignKeyInfo, error) {
	rows, err := s.Query(ctx, `SELECT CONSTRAINT_NAME AS name, COLUMN_NAME AS col, REFERENCED_TABLE_NAME AS ref_table, REFERENCED_COLUMN_NAME AS ref_col
FROM information_schema.KEY_COLUMN_USAGE WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	fks := make([]ForeignKeyInfo, 0, len(rows))
	for _, row := range rows {
		fks = append(fks, ForeignKeyInfo{
			Name:      cast.ToString(row["name"]),
			Column:    cast.ToString(row["col"]),
			RefTable:  cast.ToString(row["ref_table"]),
			RefColumn: cast.ToString(row["ref_col"]),
		})
	}
	return fks, nil
}

func (mysqlCatalog) indexes(ctx context.Context, s *session, table string) ([]IndexInfo, error) {
	rows, err := s.Query(ctx, `SELECT INDEX_NAME AS name, COLUMN_NAME AS col, NON_UNIQUE AS non_unique
FROM information_schema.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME <> 'PRIMARY'
ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	if err != nil {
		return nil, err
	}
	return groupIndexes(rows, "name", "col", func(r Record) bool { return cast.ToInt64(r["non_unique"]) == 0 }), nil
}

func (mysqlCatalog) indexStatements(context.Context, *session, string) ([]string, error) {
	return nil, nil
}

func (mysqlCatalog) referencedBy(ctx context.Context, s *session, table string) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT DISTINCT TABLE_NAME AS name FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME = ? AND TABLE_NAME <> ? ORDER BY TABLE_NAME`, table, table)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, "name"), nil
}

type postgresCatalog struct{}

// regclass 把表名解析为当前 schema 下的 oid，表不存在时为 NULL
const regclass = "to_regclass(quote_ident(?::text))"

func (postgresCatalog) hasTable(ctx context.Context, s *session, table string) (bool, error) {
	rows, err := s.Query(ctx, "SELECT COUNT(*) AS cnt FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", table)
	if err != nil {
		return false, withTable(err, table)
	}
	return len(rows) > 0 && cast.ToInt64(rows[0]["cnt"]) > 0, nil
}

func (postgresCatalog) columns(ctx context.Context, s *session, table string) ([]ColumnInfo, error) {
	rows, err := s.Query(ctx, `SELECT a.attname AS name, format_type(a.atttypid, a.atttypmod) AS type, a.attnotnull AS notnull,
pg_get_expr(d.adbin, d.adrelid) AS dflt, COALESCE(i.indisprimary, false) AS pk
FROM pg_attribute a
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
LEFT JOIN pg_index i ON i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY(i.indkey)
WHERE a.attrelid = `+regclass+` AND a.attnum > 0 AND NOT a.attisdropped ORDER BY a.attnum`, table)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, ColumnInfo{
			Name:       cast.ToString(row["name"]),
			Type:       cast.ToString(row["type"]),
			NotNull:    cast.ToBool(row["notnull"]),
			Default:    optionalString(row["dflt"]),
			PrimaryKey: cast.ToBool(row["pk"]),
		})
	}
	return cols, nil
}

func (postgresCatalog) foreignKeys(ctx context.Context, s *session, table string) ([]ForeignKeyInfo, error) {
	rows, err := s.Query(ctx, `SELECT c.conname AS name, a.attname AS col, cl.relname AS ref_table, ra.attname AS ref_col
FROM pg_constraint c
JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = c.conkey[1]
JOIN pg_attribute ra ON ra.attrelid = c.confrelid AND ra.attnum = c.confkey[1]
JOIN pg_class cl ON cl.oid = c.confrelid
WHERE c.contype = 'f' AND c.conrelid = `+regclass+` ORDER BY c.conname`, table)
	if err != nil {
		return nil, err
	}
	fks := make([]ForeignKeyInfo, 0, len(rows))
	for _, row := range rows {
		fks = append(fks, ForeignKeyInfo{
			Name:      cast.ToString(row["name"]),
			Column:    cast.ToString(row["col"]),
			RefTable:  cast.ToString(row["ref_table"]),
			RefColumn: cast.ToString(row["ref_col"]),
		})
	}
	return fks, nil
}

func (postgresCatalog) indexes(ctx context.Context, s *session, table string) ([]IndexInfo, error) {
	rows, err := s.Query(ctx, `SELECT i.relname AS name, a.attname AS col, ix.indisunique AS is_unique
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = ANY(ix.indkey)
WHERE ix.indrelid = `+regclass+` AND NOT ix.indisprimary
ORDER BY i.relname, array_position(ix.indkey::int2[], a.attnum)`, table)
	if err != nil {
		return nil, err
	}
	return groupIndexes(rows, "name", "col", func(r Record) bool { return cast.ToBool(r["is_unique"]) }), nil
}

func (postgresCatalog) indexStatements(context.Context, *session, string) ([]string, error) {
	return nil, nil
}

func (postgresCatalog) referencedBy(ctx context.Context, s *session, table string) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT DISTINCT cl.relname AS name FROM pg_constraint c JOIN pg_class cl ON cl.oid = c.conrelid
WHERE c.contype = 'f' AND c.confrelid = `+regclass+` AND c.conrelid <> c.confrelid ORDER BY cl.relname`, table)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, "name"), nil
}
