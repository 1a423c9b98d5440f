package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/pkg/errors"
)

// rebuildSpec 重建后的表结构：已有列按原顺序保留，desired 中的列覆盖同名列，
// 不存在的列追加在末尾，drop 指定的列被移除
type rebuildSpec struct {
	desired  []desiredColumn
	existing []database.ColumnInfo
	fks      []database.ForeignKeyInfo
	drop     string
}

// columns 返回影子表的列定义、外键子句，以及拷贝数据时的目标列和对应的取值表达式。
// 变为非空且有默认值的列，原表中的 NULL 用默认值填充
func (spec rebuildSpec) columns(d dialect.Dialect) (defs []string, fks []string, into []string, from []string) {
	desired := make(map[string]desiredColumn, len(spec.desired))
	for _, dc := range spec.desired {
		desired[dc.column.Name] = dc
	}
	seen := map[string]bool{}

	for _, c := range spec.existing {
		if c.Name == spec.drop {
			continue
		}
		seen[c.Name] = true
		into = append(into, d.Quote(c.Name))
		if c.PrimaryKey && c.Name == schema.PrimaryKey {
			defs = append(defs, d.PrimaryKey())
			from = append(from, d.Quote(c.Name))
			continue
		}

		dc, ok := desired[c.Name]
		switch {
		case ok && dc.column.NotNull && dc.column.Default != nil && !c.NotNull:
			from = append(from, fmt.Sprintf("COALESCE(%s, %s)", d.Quote(c.Name), *dc.column.Default))
		default:
			from = append(from, d.Quote(c.Name))
		}
		if ok {
			defs = append(defs, dialect.ColumnSQL(d, dc.column))
		} else {
			defs = append(defs, dialect.ColumnSQL(d, dialect.Column{Name: c.Name, Type: c.Type, NotNull: c.NotNull, Default: c.Default}))
		}

		switch fk, found := foreignKeyOn(spec.fks, c.Name); {
		case ok && dc.parent != "":
			fks = append(fks, dialect.ForeignKeyClause(d, c.Name, dc.parent))
		case found:
			// 定义中没有声明的外键保持不变
			fks = append(fks, dialect.ForeignKeyClause(d, c.Name, fk.RefTable))
		}
	}

	for _, dc := range spec.desired {
		if seen[dc.column.Name] {
			continue
		}
		defs = append(defs, dialect.ColumnSQL(d, dc.column))
		if dc.parent != "" {
			fks = append(fks, dialect.ForeignKeyClause(d, dc.column.Name, dc.parent))
		}
	}
	return defs, fks, into, from
}

// rebuild 通过影子表重建 table：建影子表，拷贝数据，删除原表，重命名影子表，恢复索引。
// 任何一步失败都会删除影子表，原表在重命名之前保持不变
func (m *Migrator) rebuild(ctx context.Context, table string, spec rebuildSpec) (err error) {
	d := m.db.Dialect()
	shadow := schema.ShadowTable(table)

	if m.db.InTx() {
		// 事务中无法关闭外键检查，删除被引用的表会级联删除子表数据
		refs, err := m.db.ReferencedBy(ctx, table)
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			return &errs.BackendError{
				Op:    "REBUILD",
				Table: table,
				Cause: errors.Errorf("table is referenced by %s and cannot be rebuilt inside a transaction", strings.Join(refs, ", ")),
			}
		}
	} else {
		if err := m.exec(ctx, table, "PRAGMA foreign_keys = OFF"); err != nil {
			return err
		}
		defer func() {
			if e := m.exec(ctx, table, "PRAGMA foreign_keys = ON"); e != nil && err == nil {
				err = e
			}
		}()
	}

	statements, err := m.db.IndexStatements(ctx, table)
	if err != nil {
		return err
	}

	defs, fks, into, from := spec.columns(d)
	if err := m.exec(ctx, table, fmt.Sprintf("DROP TABLE IF EXISTS %s", d.Quote(shadow))); err != nil {
		return err
	}
	if err := m.exec(ctx, table, createTableSQL(d, shadow, append(defs, fks...))); err != nil {
		return err
	}

	dropShadow := func(cause error) error {
		if e := m.exec(ctx, table, fmt.Sprintf("DROP TABLE IF EXISTS %s", d.Quote(shadow))); e != nil {
			m.logger.ErrorContext(ctx, "drop shadow table failed", "table", table, "shadow", shadow, "error", e)
		}
		return cause
	}

	copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		d.Quote(shadow), strings.Join(into, ", "), strings.Join(from, ", "), d.Quote(table))
	if err := m.exec(ctx, table, copyStmt); err != nil {
		return dropShadow(err)
	}
	if err := m.exec(ctx, table, fmt.Sprintf("DROP TABLE %s", d.Quote(table))); err != nil {
		return dropShadow(err)
	}
	if err := m.exec(ctx, table, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(shadow), d.Quote(table))); err != nil {
		return &errs.BackendError{
			Op:    "REBUILD",
			Table: table,
			Cause: errors.Wrapf(err, "original table dropped, data left in %s", shadow),
		}
	}

	for _, stmt := range statements {
		if err := m.exec(ctx, table, stmt); err != nil {
			return err
		}
	}
	return nil
}
