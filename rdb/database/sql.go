package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/rdb/dialect"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	// Driver 驱动：sqlite3, mysql, postgres
	Driver string `cfg:"driver" def:"sqlite3" validate:"oneof=sqlite3 sqlite mysql postgres postgresql"`
	// DSN 非空时直接使用，忽略下面的连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	SSLMode  string `cfg:"sslMode" def:"disable"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`
	// ConnMaxLifetime 连接最长存活时间，0 表示不限制
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime"`
}

// SQL 基于 database/sql 的存储后端
type SQL struct {
	*session
	db *sql.DB
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	d, err := dialect.Get(options.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := buildDSN(d.Name(), options)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Name(), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open failed. driver: [%s]", d.Name())
	}

	if options.MaxConns > 0 {
		db.SetMaxOpenConns(options.MaxConns)
	}
	if options.MaxIdle > 0 {
		db.SetMaxIdleConns(options.MaxIdle)
	}
	db.SetConnMaxLifetime(options.ConnMaxLifetime)

	s, err := NewSQL(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL 包装已打开的连接池
// sqlite 限制为单连接并打开外键约束，:memory: 数据库和 PRAGMA 都依赖同一个连接
func NewSQL(db *sql.DB, d dialect.Dialect) (*SQL, error) {
	if d.Name() == dialect.SQLite3 {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "db.Ping failed")
	}

	if d.Name() == dialect.SQLite3 {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, errors.Wrap(err, "enable sqlite foreign keys failed")
		}
	}

	return &SQL{
		session: newSession(db, d),
		db:      db,
	}, nil
}

func buildDSN(driver string, options *SQLOptions) (string, error) {
	switch driver {
	case dialect.MySQL:
		cfg := mysql.NewConfig()
		if options.DSN != "" {
			parsed, err := mysql.ParseDSN(options.DSN)
			if err != nil {
				return "", errors.Wrap(err, "mysql.ParseDSN failed")
			}
			cfg = parsed
		} else {
			port := options.Port
			if port == "" {
				port = "3306"
			}
			cfg.User = options.Username
			cfg.Passwd = options.Password
			cfg.Net = "tcp"
			cfg.Addr = net.JoinHostPort(options.Host, port)
			cfg.DBName = options.Database
			if options.Charset != "" {
				cfg.Params = map[string]string{"charset": options.Charset}
			}
			cfg.Loc = time.Local
		}
		// 更新未改变的行时也返回匹配行数，Update 依赖它判断记录是否存在
		cfg.ClientFoundRows = true
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case dialect.Postgres:
		if options.DSN != "" {
			return options.DSN, nil
		}
		port := options.Port
		if port == "" {
			port = "5432"
		}
		sslMode := options.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		parts := []string{"host=" + options.Host, "port=" + port, "sslmode=" + sslMode}
		for _, kv := range [][2]string{{"user", options.Username}, {"password", options.Password}, {"dbname", options.Database}} {
			if kv[1] != "" {
				parts = append(parts, kv[0]+"="+quoteConnValue(kv[1]))
			}
		}
		return strings.Join(parts, " "), nil
	case dialect.SQLite3:
		if options.DSN != "" {
			return options.DSN, nil
		}
		if options.Database == "" {
			return "", errors.New("sqlite3 database path is required")
		}
		sep := "?"
		if strings.Contains(options.Database, "?") {
			sep = "&"
		}
		return options.Database + sep + "_foreign_keys=1", nil
	default:
		return "", errors.Errorf("unsupported driver: %s", driver)
	}
}

// quoteConnValue 转义 libpq 连接串中的值
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(v) + "'"
}

// DB 底层连接池
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) BeginTx(ctx context.Context) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("BEGIN", "", err)
	}
	return &SQLTransaction{
		session: newSession(tx, s.dialect),
		tx:      tx,
	}, nil
}

func (s *SQL) InTx() bool {
	return false
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// SQLTransaction SQL 事务
type SQLTransaction struct {
	*session
	tx *sql.Tx
}

func (t *SQLTransaction) BeginTx(ctx context.Context) (Transaction, error) {
	return nil, errors.New("nested transactions are not supported")
}

func (t *SQLTransaction) InTx() bool {
	return true
}

func (t *SQLTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify("COMMIT", "", err)
	}
	return nil
}

func (t *SQLTransaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify("ROLLBACK", "", err)
	}
	return nil
}

// Close 回滚尚未提交的事务
func (t *SQLTransaction) Close() error {
	return t.Rollback()
}

// executor *sql.DB 和 *sql.Tx 的公共部分
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// session 连接池和事务共享的实现
type session struct {
	exec    executor
	dialect dialect.Dialect
	catalog catalog
}

func newSession(exec executor, d dialect.Dialect) *session {
	return &session{exec: exec, dialect: d, catalog: catalogFor(d)}
}

func (s *session) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *session) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := s.exec.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return Result{}, classify(verb(query), "", err)
	}

	var result Result
	if result.RowsAffected, err = res.RowsAffected(); err != nil {
		return Result{}, classify(verb(query), "", err)
	}
	if s.dialect.SupportsLastInsertID() {
		if id, err := res.LastInsertId(); err == nil {
			result.LastInsertID = id
		}
	}
	return result, nil
}

func (s *session) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.exec.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, classify(verb(query), "", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, classify(verb(query), "", err)
	}
	return records, nil
}

func (s *session) HasTable(ctx context.Context, table string) (bool, error) {
	return s.catalog.hasTable(ctx, s, table)
}

func (s *session) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	cols, err := s.catalog.columns(ctx, s, table)
	return cols, withTable(err, table)
}

func (s *session) ForeignKeys(ctx context.Context, table string) ([]ForeignKeyInfo, error) {
	fks, err := s.catalog.foreignKeys(ctx, s, table)
	return fks, withTable(err, table)
}

func (s *session) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	indexes, err := s.catalog.indexes(ctx, s, table)
	return indexes, withTable(err, table)
}

func (s *session) IndexStatements(ctx context.Context, table string) ([]string, error) {
	stmts, err := s.catalog.indexStatements(ctx, s, table)
	return stmts, withTable(err, table)
}

func (s *session) ReferencedBy(ctx context.Context, table string) ([]string, error) {
	tables, err := s.catalog.referencedBy(ctx, s, table)
	return tables, withTable(err, table)
}

func (s *session) DropTable(ctx context.Context, table string) error {
	_, err := s.Exec(ctx, "DROP TABLE "+s.dialect.Quote(table))
	return withTable(err, table)
}

func (s *session) RenameTable(ctx context.Context, from, to string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.dialect.Quote(from), s.dialect.Quote(to)))
	return withTable(err, from)
}

// scanRecords 读取所有行，非二进制列的 []byte 转换为 string
func scanRecords(rows *sql.Rows) ([]Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	binary := make([]bool, len(columns))
	for i, t := range types {
		binary[i] = isBinaryType(t.DatabaseTypeName())
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				if binary[i] {
					v = append([]byte(nil), b...)
				} else {
					v = string(b)
				}
			}
			record[col] = v
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BYTEA"
}

// verb SQL 语句的第一个关键字，作为错误中的操作名
func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "EXEC"
	}
	return strings.ToUpper(fields[0])
}
