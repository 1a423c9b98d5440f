// Package rdb 对外的存储入口：表结构管理、记录读写和关联查询
//
// Store 组合了迁移引擎、关联查询引擎和谓词编译器，所有操作都作用于同一个
// database.Database，WithTx 把回调中的所有调用绑定到同一个事务。
// 通过 CreateOrUpdate 注册的表定义用于写入时的字段处理：
// createdAt/updatedAt 自动填充时间，uuid 自动生成，password 自动做 bcrypt 哈希。
package rdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/join"
	"github.com/hatlonely/rdbx/rdb/migrate"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

type Record = database.Record

type StoreOptions struct {
	Database *ref.TypeOptions `cfg:"database" validate:"required"`
	Logger   *ref.TypeOptions `cfg:"logger"`
	// Tables 打开时按顺序执行 CreateOrUpdate，被引用的表需要排在前面
	Tables []*schema.TableDefinition `cfg:"tables" validate:"dive"`
}

type Store struct {
	db       database.Database
	logger   log.Logger
	migrator *migrate.Migrator
	resolver *join.Resolver
	compiler *query.Compiler
	registry *registry
}

func NewStoreWithOptions(options *StoreOptions) (*Store, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	db, err := database.NewDatabaseWithOptions(options.Database)
	if err != nil {
		return nil, errors.WithMessage(err, "database.NewDatabaseWithOptions failed")
	}
	logger, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}

	s := NewStore(db, logger)
	for _, def := range options.Tables {
		if err := s.CreateOrUpdate(context.Background(), def); err != nil {
			_ = db.Close()
			return nil, errors.WithMessagef(err, "create table %s failed", def.Name)
		}
	}
	return s, nil
}

// NewStore logger 为 nil 时使用默认日志器
func NewStore(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		db:       db,
		logger:   logger,
		migrator: migrate.New(db, migrate.WithLogger(logger.With("component", "migrate"))),
		resolver: join.New(db, logger.With("component", "join")),
		compiler: query.NewCompiler(db.Dialect()),
		registry: newRegistry(),
	}
}

// bind 返回使用 db 执行、表定义为 registry 的 Store
func (s *Store) bind(db database.Database, registry *registry) *Store {
	return &Store{
		db:       db,
		logger:   s.logger,
		migrator: s.migrator.WithDatabase(db),
		resolver: s.resolver.WithDatabase(db),
		compiler: s.compiler,
		registry: registry,
	}
}

func (s *Store) Database() database.Database {
	return s.db
}

// WithTx 在事务中执行 fn，fn 返回错误或 panic 时回滚。已经在事务中时直接复用当前事务。
// 事务中注册的表定义只在提交成功后对外层可见
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db.InTx() {
		return fn(s)
	}
	registry := s.registry.begin()
	if err := database.WithTx(ctx, s.db, func(tx database.Transaction) error {
		return fn(s.bind(tx, registry))
	}); err != nil {
		return err
	}
	registry.commit(s.registry)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tables 已注册的表名，按名称排序
func (s *Store) Tables() []string {
	return s.registry.names()
}

// Definition 已注册的表定义的副本
func (s *Store) Definition(table string) (*schema.TableDefinition, bool) {
	return s.registry.get(table)
}

func (s *Store) CreateOrUpdate(ctx context.Context, def *schema.TableDefinition) error {
	if err := s.migrator.CreateOrUpdate(ctx, def); err != nil {
		return err
	}
	s.registry.set(def)
	return nil
}

func (s *Store) Drop(ctx context.Context, table string) error {
	if err := s.migrator.Drop(ctx, table); err != nil {
		return err
	}
	s.registry.delete(table)
	return nil
}

func (s *Store) DropField(ctx context.Context, table, field string) error {
	if err := s.migrator.DropField(ctx, table, field); err != nil {
		return err
	}
	s.registry.update(table, func(def *schema.TableDefinition) {
		def.Fields = slices.DeleteFunc(def.Fields, func(f schema.FieldDefinition) bool { return f.Name == field })
		def.CompoundIndexes = slices.DeleteFunc(def.CompoundIndexes, func(ci schema.CompoundIndex) bool {
			return slices.Contains(ci.Fields, field)
		})
	})
	return nil
}

func (s *Store) Rename(ctx context.Context, from, to string) error {
	if err := s.migrator.Rename(ctx, from, to); err != nil {
		return err
	}
	s.registry.rename(from, to)
	return nil
}

func (s *Store) RenameField(ctx context.Context, table, from, to string) error {
	if err := s.migrator.RenameField(ctx, table, from, to); err != nil {
		return err
	}
	s.registry.update(table, func(def *schema.TableDefinition) {
		for i := range def.Fields {
			if def.Fields[i].Name == from {
				def.Fields[i].Name = to
			}
		}
		for i := range def.CompoundIndexes {
			for j, f := range def.CompoundIndexes[i].Fields {
				if f == from {
					def.CompoundIndexes[i].Fields[j] = to
				}
			}
		}
	})
	return nil
}

// Connect 在 child 上建立指向 parent 的外键列
func (s *Store) Connect(ctx context.Context, parent, child string) error {
	if err := s.migrator.Connect(ctx, parent, child); err != nil {
		return err
	}
	column := schema.ForeignKeyColumn(parent)
	s.registry.update(child, func(def *schema.TableDefinition) {
		if _, ok := def.Field(column); !ok {
			def.Fields = append(def.Fields, schema.FieldDefinition{
				Name:         column,
				Type:         schema.FieldTypeReferenceManyToOne,
				ForeignTable: parent,
			})
		}
	})
	return nil
}

// Insert 插入一条记录，返回自增主键
func (s *Store) Insert(ctx context.Context, table string, record Record) (int64, error) {
	values, err := s.prepare(table, record, true)
	if err != nil {
		return 0, err
	}

	d := s.db.Dialect()
	columns := slices.Sorted(maps.Keys(values))
	args := make([]any, len(columns))
	quoted := make([]string, len(columns))
	for i, c := range columns {
		args[i] = values[c]
		quoted[i] = d.Quote(c)
	}

	var stmt string
	switch {
	case len(columns) > 0:
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(table), strings.Join(quoted, ", "), placeholders(len(columns)))
	case d.Name() == dialect.MySQL:
		stmt = fmt.Sprintf("INSERT INTO %s () VALUES ()", d.Quote(table))
	default:
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(table))
	}

	if !d.SupportsLastInsertID() {
		rows, err := s.db.Query(ctx, stmt+" RETURNING "+d.Quote(schema.PrimaryKey), args...)
		if err != nil {
			return 0, errs.WithTable(err, table)
		}
		if len(rows) == 0 {
			return 0, &errs.BackendError{Op: "INSERT", Table: table, Cause: errors.New("no id returned")}
		}
		return cast.ToInt64E(rows[0][schema.PrimaryKey])
	}

	res, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, errs.WithTable(err, table)
	}
	return res.LastInsertID, nil
}

// InsertMany 在一个事务中依次插入，任何一条失败时全部回滚
func (s *Store) InsertMany(ctx context.Context, table string, records []Record) ([]int64, error) {
	ids := make([]int64, 0, len(records))
	err := s.WithTx(ctx, func(tx *Store) error {
		for i, record := range records {
			id, err := tx.Insert(ctx, table, record)
			if err != nil {
				return errors.WithMessagef(err, "insert record %d", i)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Update 按主键更新 partial 中的列，记录不存在时返回 RecordNotFoundError
func (s *Store) Update(ctx context.Context, table string, id any, partial Record) error {
	values, err := s.prepare(table, partial, false)
	if err != nil {
		return err
	}
	delete(values, schema.PrimaryKey)
	if len(values) == 0 {
		_, err := s.Get(ctx, table, id)
		return err
	}

	d := s.db.Dialect()
	columns := slices.Sorted(maps.Keys(values))
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, c := range columns {
		sets[i] = d.Quote(c) + " = ?"
		args = append(args, values[c])
	}
	args = append(args, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", d.Quote(table), strings.Join(sets, ", "), d.Quote(schema.PrimaryKey))
	res, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return errs.WithTable(err, table)
	}
	if res.RowsAffected == 0 {
		return &errs.RecordNotFoundError{Table: table, ID: id}
	}
	return nil
}

// Upsert 记录带有主键且已存在时更新，否则插入，返回主键
func (s *Store) Upsert(ctx context.Context, table string, record Record) (int64, error) {
	id, ok := record[schema.PrimaryKey]
	if !ok || id == nil {
		return s.Insert(ctx, table, record)
	}

	var result int64
	err := s.WithTx(ctx, func(tx *Store) error {
		_, err := tx.Get(ctx, table, id)
		switch {
		case err == nil:
			partial := maps.Clone(record)
			delete(partial, schema.PrimaryKey)
			if err := tx.Update(ctx, table, id, partial); err != nil {
				return err
			}
			result, err = cast.ToInt64E(id)
			return err
		case errs.IsSchemaState(err) && isRecordNotFound(err):
			result, err = tx.Insert(ctx, table, record)
			return err
		default:
			return err
		}
	})
	return result, err
}

func isRecordNotFound(err error) bool {
	var e *errs.RecordNotFoundError
	return errors.As(err, &e)
}

// Delete 按主键删除，返回删除的行数
func (s *Store) Delete(ctx context.Context, table string, ids ...any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	d := s.db.Dialect()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", d.Quote(table), d.Quote(schema.PrimaryKey), placeholders(len(ids)))
	res, err := s.db.Exec(ctx, stmt, ids...)
	if err != nil {
		return 0, errs.WithTable(err, table)
	}
	return res.RowsAffected, nil
}

// Get 按主键读取一条记录
func (s *Store) Get(ctx context.Context, table string, id any) (Record, error) {
	d := s.db.Dialect()
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", d.Quote(table), d.Quote(schema.PrimaryKey))
	rows, err := s.db.Query(ctx, stmt, id)
	if err != nil {
		return nil, errs.WithTable(err, table)
	}
	if len(rows) == 0 {
		return nil, &errs.RecordNotFoundError{Table: table, ID: id}
	}
	return rows[0], nil
}

// Query 沿表链查询并组装嵌套结果
func (s *Store) Query(ctx context.Context, chain join.Chain, opts ...join.Option) ([]Record, error) {
	return s.resolver.Resolve(ctx, chain, opts...)
}

// Find 单表查询
func (s *Store) Find(ctx context.Context, table string, where query.Where, opts ...join.Option) ([]Record, error) {
	return s.resolver.Resolve(ctx, join.Chain{{Table: table, Filter: where}}, opts...)
}

// Count 满足条件的记录数
func (s *Store) Count(ctx context.Context, table string, where query.Where) (int64, error) {
	cond, args, err := s.compiler.Compile(where, table)
	if err != nil {
		return 0, err
	}
	d := s.db.Dialect()
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS cnt FROM %s WHERE %s", d.Quote(table), cond), args...)
	if err != nil {
		return 0, errs.WithTable(err, table)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return cast.ToInt64E(rows[0]["cnt"])
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
