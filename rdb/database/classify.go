package database

import (
	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// classify 把驱动错误重新分类为约束冲突或后端错误，已分类的错误原样返回
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var classified errs.Classified
	if errors.As(err, &classified) {
		return err
	}
	if constraint, ok := constraintOf(err); ok {
		return &errs.ConstraintViolationError{Op: op, Table: table, Constraint: constraint, Cause: err}
	}
	return &errs.BackendError{Op: op, Table: table, Cause: err}
}

func withTable(err error, table string) error {
	if err == nil {
		return nil
	}
	return errs.WithTable(err, table)
}

// sqlState pgx 等驱动的错误都实现了这个方法
type sqlState interface {
	SQLState() string
}

func constraintOf(err error) (errs.Constraint, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteConstraint(sqliteErr)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlConstraint(mysqlErr.Number)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return postgresConstraint(string(pqErr.Code))
	}

	var stateErr sqlState
	if errors.As(err, &stateErr) {
		return postgresConstraint(stateErr.SQLState())
	}
	return "", false
}

func sqliteConstraint(e sqlite3.Error) (errs.Constraint, bool) {
	if e.Code != sqlite3.ErrConstraint {
		return "", false
	}
	switch e.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return errs.ConstraintUnique, true
	case sqlite3.ErrConstraintForeignKey:
		return errs.ConstraintForeignKey, true
	case sqlite3.ErrConstraintNotNull:
		return errs.ConstraintNotNull, true
	default:
		return errs.ConstraintCheck, true
	}
}

func mysqlConstraint(number uint16) (errs.Constraint, bool) {
	switch number {
	case 1062, 1586:
		return errs.ConstraintUnique, true
	case 1216, 1217, 1451, 1452:
		return errs.ConstraintForeignKey, true
	case 1048, 1364:
		return errs.ConstraintNotNull, true
	case 3819:
		return errs.ConstraintCheck, true
	}
	return "", false
}

// postgresConstraint 按 SQLSTATE 分类，23 类为完整性约束
func postgresConstraint(code string) (errs.Constraint, bool) {
	switch code {
	case "23505":
		return errs.ConstraintUnique, true
	case "23503":
		return errs.ConstraintForeignKey, true
	case "23502":
		return errs.ConstraintNotNull, true
	case "23514":
		return errs.ConstraintCheck, true
	}
	return "", false
}
