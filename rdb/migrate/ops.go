package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Drop 删除表，表不存在时返回 TableNotFoundError
func (m *Migrator) Drop(ctx context.Context, table string) error {
	if err := m.requireTable(ctx, table); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "ddl", "table", table, "statement", "DROP TABLE")
	return m.db.DropTable(ctx, table)
}

// Rename 重命名表，目标表已存在时返回 TableExistsError
func (m *Migrator) Rename(ctx context.Context, from, to string) error {
	if !schema.ValidIdentifier(to) {
		return &errs.InvalidDefinitionError{Table: to, Reason: "invalid table name"}
	}
	if err := m.requireTable(ctx, from); err != nil {
		return err
	}
	exists, err := m.db.HasTable(ctx, to)
	if err != nil {
		return err
	}
	if exists {
		return &errs.TableExistsError{Table: to}
	}

	refs, err := m.db.ReferencedBy(ctx, from)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		// 子表中的外键列名按父表名推导，重命名后不再符合命名约定
		m.logger.WarnContext(ctx, "renamed table is still referenced", "table", from, "to", to, "referencedBy", refs)
	}

	m.logger.DebugContext(ctx, "ddl", "table", from, "statement", "RENAME TABLE", "to", to)
	return m.db.RenameTable(ctx, from, to)
}

// RenameField 重命名列
func (m *Migrator) RenameField(ctx context.Context, table, from, to string) error {
	if !schema.ValidIdentifier(to) {
		return &errs.InvalidDefinitionError{Table: table, Field: to, Reason: "invalid field name"}
	}
	if from == schema.PrimaryKey {
		return &errs.InvalidDefinitionError{Table: table, Field: from, Reason: "primary key cannot be renamed"}
	}
	if err := m.requireTable(ctx, table); err != nil {
		return err
	}
	cols, err := m.db.Columns(ctx, table)
	if err != nil {
		return err
	}
	if _, ok := findColumn(cols, from); !ok {
		return &errs.FieldNotFoundError{Table: table, Field: from}
	}
	if _, ok := findColumn(cols, to); ok {
		return &errs.InvalidDefinitionError{Table: table, Field: to, Reason: "field already exists"}
	}

	d := m.db.Dialect()
	return m.exec(ctx, table, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.Quote(table), d.Quote(from), d.Quote(to)))
}

// DropField 删除列，包含该列的索引和外键一并删除
func (m *Migrator) DropField(ctx context.Context, table, field string) error {
	if field == schema.PrimaryKey {
		return &errs.InvalidDefinitionError{Table: table, Field: field, Reason: "primary key cannot be dropped"}
	}
	if err := m.requireTable(ctx, table); err != nil {
		return err
	}
	cols, err := m.db.Columns(ctx, table)
	if err != nil {
		return err
	}
	if _, ok := findColumn(cols, field); !ok {
		return &errs.FieldNotFoundError{Table: table, Field: field}
	}

	d := m.db.Dialect()
	indexes, err := m.db.Indexes(ctx, table)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if !slices.Contains(idx.Columns, field) {
			continue
		}
		if err := m.exec(ctx, table, d.DropIndex(table, idx.Name)); err != nil {
			return err
		}
	}

	fks, err := m.db.ForeignKeys(ctx, table)
	if err != nil {
		return err
	}
	fk, hasFK := foreignKeyOn(fks, field)

	if !d.SupportsAlterColumn() {
		// sqlite 不能删除带外键约束的列
		if hasFK {
			return m.rebuild(ctx, table, rebuildSpec{existing: cols, fks: fks, drop: field})
		}
	} else if hasFK {
		if err := m.exec(ctx, table, d.DropForeignKey(table, fk.Name)); err != nil {
			return err
		}
	}
	return m.exec(ctx, table, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(field)))
}

// Connect 在 child 上建立指向 parent 的外键列 <parent>Id，已有的值保持不变，
// 已经存在正确的外键约束时不做任何事
func (m *Migrator) Connect(ctx context.Context, parent, child string) error {
	if err := m.requireTable(ctx, parent); err != nil {
		return err
	}
	if err := m.requireTable(ctx, child); err != nil {
		return err
	}

	d := m.db.Dialect()
	column := schema.ForeignKeyColumn(parent)
	dc := desiredColumn{column: dialect.Column{Name: column, Type: d.ReferenceType()}, parent: parent}

	cols, err := m.db.Columns(ctx, child)
	if err != nil {
		return err
	}
	fks, err := m.db.ForeignKeys(ctx, child)
	if err != nil {
		return err
	}

	cur, ok := findColumn(cols, column)
	if !ok {
		if err := m.exec(ctx, child, addColumnSQL(d, child, dc)); err != nil {
			return err
		}
		if d.SupportsAlterColumn() {
			return m.exec(ctx, child, d.AddForeignKey(child, column, parent))
		}
		return nil
	}

	fk, found := foreignKeyOn(fks, column)
	if found && strings.EqualFold(fk.RefTable, parent) {
		return nil
	}

	if !d.SupportsAlterColumn() {
		// 保留列原有的类型、可空性和默认值，只增加外键
		keep := desiredColumn{column: dialect.Column{Name: cur.Name, Type: cur.Type, NotNull: cur.NotNull, Default: cur.Default}, parent: parent}
		return m.rebuild(ctx, child, rebuildSpec{desired: []desiredColumn{keep}, existing: cols, fks: fks})
	}
	if found {
		if err := m.exec(ctx, child, d.DropForeignKey(child, fk.Name)); err != nil {
			return err
		}
	}
	return m.exec(ctx, child, d.AddForeignKey(child, column, parent))
}
