// Package database 是迁移引擎、关联查询引擎和 Store 依赖的存储后端
//
// Database 只暴露三类能力：目录查询（表、列、外键、索引）、参数化 SQL 的执行与查询、事务。
// SQL 方言差异由 dialect 包负责，驱动错误在这里被重新分类为 errs 中的类型。
package database

import (
	"context"

	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

const namespace = "github.com/hatlonely/rdbx/rdb/database"

func init() {
	ref.MustRegister(namespace, "SQL", NewSQLWithOptions)
	ref.MustRegister(namespace, "Gorm", NewGormWithOptions)
	ref.MustRegister(namespace, "Observable", NewObservableWithOptions)
}

// Record 一行数据，列名到值
type Record = map[string]any

// Result 写操作的结果
type Result struct {
	RowsAffected int64
	// LastInsertID 仅在方言支持时有效
	LastInsertID int64
}

// ColumnInfo 目录中的列
type ColumnInfo struct {
	Name    string
	Type    string
	NotNull bool
	// Default 目录中的默认值表达式，nil 表示没有默认值
	Default    *string
	PrimaryKey bool
}

// ForeignKeyInfo 目录中的外键约束
type ForeignKeyInfo struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
}

// IndexInfo 目录中的索引，不包含主键
type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
}

// Database 存储后端
type Database interface {
	Dialect() dialect.Dialect

	HasTable(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]ColumnInfo, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKeyInfo, error)
	Indexes(ctx context.Context, table string) ([]IndexInfo, error)
	// IndexStatements 表上索引的建表语句，重建表后用于恢复索引，没有时返回空
	IndexStatements(ctx context.Context, table string) ([]string, error)
	// ReferencedBy 通过外键引用 table 的其他表
	ReferencedBy(ctx context.Context, table string) ([]string, error)

	// Exec 执行写语句，query 使用 ? 占位符
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	// Query 执行查询，非二进制列的 []byte 转换为 string
	Query(ctx context.Context, query string, args ...any) ([]Record, error)

	DropTable(ctx context.Context, table string) error
	RenameTable(ctx context.Context, from, to string) error

	// BeginTx 开始事务，在事务中再次调用返回错误
	BeginTx(ctx context.Context) (Transaction, error)
	// InTx 是否处于事务中
	InTx() bool

	Close() error
}

// Transaction 事务，本身也是 Database，所有嵌套调用都使用同一个事务
type Transaction interface {
	Database

	Commit() error
	Rollback() error
}

// NewDatabaseWithOptions 按 TypeOptions 创建存储后端
func NewDatabaseWithOptions(options *ref.TypeOptions) (Database, error) {
	if options == nil {
		return nil, errors.New("database options is nil")
	}
	db, err := ref.NewWithOptions[Database](options)
	if err != nil {
		return nil, errors.WithMessage(err, "create database failed")
	}
	return db, nil
}

// WithTx 在事务中执行 fn，fn 返回错误或 panic 时回滚
func WithTx(ctx context.Context, db Database, fn func(tx Transaction) error) (err error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
