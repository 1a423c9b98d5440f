// Package migrate 根据表定义创建或调整表结构
//
// CreateOrUpdate 是幂等的：表不存在时建表，存在时比较列类型、可空性、默认值和外键，
// 只对有差异的部分发出 DDL，定义与表结构一致时不发出任何语句。
// 支持原地修改列的引擎直接 ALTER，sqlite 通过影子表重建。
package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/pkg/errors"
)

type Migrator struct {
	db     database.Database
	logger log.Logger
}

type Option func(*Migrator)

func WithLogger(l log.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(db database.Database, opts ...Option) *Migrator {
	m := &Migrator{db: db, logger: log.Default().With("component", "migrate")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithDatabase 返回使用另一个 Database（通常是事务）的 Migrator
func (m *Migrator) WithDatabase(db database.Database) *Migrator {
	return &Migrator{db: db, logger: m.logger}
}

// desiredColumn 定义中的一个字段物化后的列
type desiredColumn struct {
	column dialect.Column
	// parent 外键引用的表，为空表示不需要外键
	parent string
}

// CreateOrUpdate 建表或把已有表调整为与定义一致
func (m *Migrator) CreateOrUpdate(ctx context.Context, def *schema.TableDefinition) error {
	if err := schema.Validate(def); err != nil {
		return err
	}

	desired, err := m.materialize(def)
	if err != nil {
		return err
	}

	for _, dc := range desired {
		if dc.parent == "" || dc.parent == def.Name {
			continue
		}
		ok, err := m.db.HasTable(ctx, dc.parent)
		if err != nil {
			return err
		}
		if !ok {
			return &errs.TableNotFoundError{Table: dc.parent}
		}
	}

	exists, err := m.db.HasTable(ctx, def.Name)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.create(ctx, def.Name, desired); err != nil {
			return err
		}
	} else if err := m.reconcile(ctx, def.Name, desired); err != nil {
		return err
	}

	return m.ensureIndexes(ctx, def)
}

// materialize 在发出任何 DDL 之前完成所有字段的类型映射
func (m *Migrator) materialize(def *schema.TableDefinition) ([]desiredColumn, error) {
	d := m.db.Dialect()
	desired := make([]desiredColumn, 0, len(def.Fields))
	for _, f := range def.Fields {
		col, err := dialect.BuildColumn(d, def.Name, f)
		if err != nil {
			return nil, err
		}
		dc := desiredColumn{column: col}
		if f.Type.IsReference() {
			dc.parent = f.ForeignTable
		}
		desired = append(desired, dc)
	}
	return desired, nil
}

func (m *Migrator) create(ctx context.Context, table string, desired []desiredColumn) error {
	d := m.db.Dialect()
	defs := []string{d.PrimaryKey()}
	var fks []string
	for _, dc := range desired {
		defs = append(defs, dialect.ColumnSQL(d, dc.column))
		if dc.parent != "" {
			fks = append(fks, dialect.ForeignKeyClause(d, dc.column.Name, dc.parent))
		}
	}
	return m.exec(ctx, table, createTableSQL(d, table, append(defs, fks...)))
}

func createTableSQL(d dialect.Dialect, table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.Quote(table), strings.Join(defs, ",\n  "))
}

// plan 已有表与定义之间的差异
type plan struct {
	add       []desiredColumn
	alter     []desiredColumn
	addFKs    []desiredColumn
	dropFKs   []string
	rebuild   bool
	rebuildBy string
}

func (p *plan) empty() bool {
	return len(p.add) == 0 && len(p.alter) == 0 && len(p.addFKs) == 0 && len(p.dropFKs) == 0 && !p.rebuild
}

func (m *Migrator) reconcile(ctx context.Context, table string, desired []desiredColumn) error {
	existing, err := m.db.Columns(ctx, table)
	if err != nil {
		return err
	}
	fks, err := m.db.ForeignKeys(ctx, table)
	if err != nil {
		return err
	}

	p := m.diff(existing, fks, desired)
	if p.empty() {
		return nil
	}

	if p.rebuild {
		m.logger.InfoContext(ctx, "rebuild table", "table", table, "reason", p.rebuildBy)
		return m.rebuild(ctx, table, rebuildSpec{desired: desired, existing: existing, fks: fks})
	}

	d := m.db.Dialect()
	for _, dc := range p.add {
		if err := m.exec(ctx, table, addColumnSQL(d, table, dc)); err != nil {
			return err
		}
	}
	for _, name := range p.dropFKs {
		if err := m.exec(ctx, table, d.DropForeignKey(table, name)); err != nil {
			return err
		}
	}
	for _, dc := range p.alter {
		for _, stmt := range d.AlterColumn(table, dc.column) {
			if err := m.exec(ctx, table, stmt); err != nil {
				return err
			}
		}
	}
	for _, dc := range p.addFKs {
		if err := m.exec(ctx, table, d.AddForeignKey(table, dc.column.Name, dc.parent)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) diff(existing []database.ColumnInfo, fks []database.ForeignKeyInfo, desired []desiredColumn) *plan {
	d := m.db.Dialect()
	columns := make(map[string]database.ColumnInfo, len(existing))
	for _, c := range existing {
		columns[c.Name] = c
	}

	p := &plan{}
	for _, dc := range desired {
		col := dc.column
		cur, ok := columns[col.Name]
		if !ok {
			if d.SupportsAlterColumn() {
				p.add = append(p.add, dc)
				if dc.parent != "" {
					p.addFKs = append(p.addFKs, dc)
				}
			} else if canAddColumn(dc) {
				p.add = append(p.add, dc)
			} else {
				p.rebuild, p.rebuildBy = true, "add column "+col.Name
			}
			continue
		}

		changed := !dialect.SameType(d, col.Type, cur.Type) ||
			col.NotNull != cur.NotNull ||
			!dialect.DefaultsEqual(d, col.Default, cur.Default)

		fkMissing := false
		if dc.parent != "" {
			fk, found := foreignKeyOn(fks, col.Name)
			switch {
			case !found:
				fkMissing = true
			case !strings.EqualFold(fk.RefTable, dc.parent):
				fkMissing = true
				p.dropFKs = append(p.dropFKs, fk.Name)
			}
		}

		if !changed && !fkMissing {
			continue
		}
		if !d.SupportsAlterColumn() {
			p.rebuild, p.rebuildBy = true, "alter column "+col.Name
			continue
		}
		if changed {
			p.alter = append(p.alter, dc)
		}
		if fkMissing {
			p.addFKs = append(p.addFKs, dc)
		}
	}
	return p
}

// canAddColumn sqlite 的 ADD COLUMN 不能加入没有默认值的 NOT NULL 列、
// 非常量默认值的列以及带默认值的外键列
func canAddColumn(dc desiredColumn) bool {
	col := dc.column
	if col.NotNull && col.Default == nil {
		return false
	}
	if col.Default != nil && (dc.parent != "" || *col.Default == "CURRENT_TIMESTAMP") {
		return false
	}
	return true
}

func addColumnSQL(d dialect.Dialect, table string, dc desiredColumn) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), dialect.ColumnSQL(d, dc.column))
	// sqlite 只能以列约束的形式在 ADD COLUMN 时声明外键
	if dc.parent != "" && !d.SupportsAlterColumn() {
		stmt += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE CASCADE", d.Quote(dc.parent), d.Quote(schema.PrimaryKey))
	}
	return stmt
}

func foreignKeyOn(fks []database.ForeignKeyInfo, column string) (database.ForeignKeyInfo, bool) {
	for _, fk := range fks {
		if fk.Column == column {
			return fk, true
		}
	}
	return database.ForeignKeyInfo{}, false
}

// ensureIndexes 按名称补齐缺失的索引
func (m *Migrator) ensureIndexes(ctx context.Context, def *schema.TableDefinition) error {
	wanted := def.Indexes()
	if len(wanted) == 0 {
		return nil
	}
	existing, err := m.db.Indexes(ctx, def.Name)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, idx := range existing {
		have[idx.Name] = true
	}

	d := m.db.Dialect()
	for _, idx := range wanted {
		if have[idx.Name] {
			continue
		}
		if err := m.exec(ctx, def.Name, createIndexSQL(d, def.Name, idx)); err != nil {
			return err
		}
	}
	return nil
}

func createIndexSQL(d dialect.Dialect, table string, idx schema.IndexDefinition) string {
	cols := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		cols[i] = d.Quote(f)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, d.Quote(idx.Name), d.Quote(table), strings.Join(cols, ", "))
}

// exec 执行一条 DDL，错误中补充表名
func (m *Migrator) exec(ctx context.Context, table, stmt string) error {
	m.logger.DebugContext(ctx, "ddl", "table", table, "statement", stmt)
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return errors.WithMessagef(errs.WithTable(err, table), "migrate table %s", table)
	}
	return nil
}

// requireTable 表不存在时返回 TableNotFoundError
func (m *Migrator) requireTable(ctx context.Context, table string) error {
	ok, err := m.db.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return &errs.TableNotFoundError{Table: table}
	}
	return nil
}

func findColumn(cols []database.ColumnInfo, name string) (database.ColumnInfo, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return database.ColumnInfo{}, false
}
