package database

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type pgxLikeError struct{ code string }

func (e *pgxLikeError) Error() string    { return "pgx: " + e.code }
func (e *pgxLikeError) SQLState() string { return e.code }

func TestClassify(t *testing.T) {
	Convey("测试驱动错误分类", t, func() {
		Convey("nil 和已分类错误", func() {
			So(classify("INSERT", "books", nil), ShouldBeNil)
			tableErr := &errs.TableNotFoundError{Table: "books"}
			wrapped := errors.WithMessage(tableErr, "ctx")
			So(classify("INSERT", "books", wrapped), ShouldEqual, wrapped)
		})

		Convey("mysql 错误号", func() {
			for number, want := range map[uint16]errs.Constraint{
				1062: errs.ConstraintUnique,
				1452: errs.ConstraintForeignKey,
				1451: errs.ConstraintForeignKey,
				1048: errs.ConstraintNotNull,
				3819: errs.ConstraintCheck,
			} {
				err := classify("INSERT", "books", &mysql.MySQLError{Number: number, Message: "x"})
				cv, ok := err.(*errs.ConstraintViolationError)
				So(ok, ShouldBeTrue)
				So(cv.Constraint, ShouldEqual, want)
				So(cv.Table, ShouldEqual, "books")
			}
			So(errs.IsBackend(classify("SELECT", "", &mysql.MySQLError{Number: 1146})), ShouldBeTrue)
		})

		Convey("postgres SQLSTATE", func() {
			err := classify("UPDATE", "books", &pq.Error{Code: "23505"})
			So(err.(*errs.ConstraintViolationError).Constraint, ShouldEqual, errs.ConstraintUnique)
			err = classify("UPDATE", "books", fmt.Errorf("wrapped: %w", &pq.Error{Code: "23503"}))
			So(err.(*errs.ConstraintViolationError).Constraint, ShouldEqual, errs.ConstraintForeignKey)
			err = classify("INSERT", "books", &pgxLikeError{code: "23502"})
			So(err.(*errs.ConstraintViolationError).Constraint, ShouldEqual, errs.ConstraintNotNull)
			err = classify("INSERT", "books", &pgxLikeError{code: "42P01"})
			So(errs.IsBackend(err), ShouldBeTrue)
		})

		Convey("其他错误", func() {
			cause := errors.New("connection refused")
			err := classify("SELECT", "", cause)
			be, ok := err.(*errs.BackendError)
			So(ok, ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(withTable(err, "books"), ShouldEqual, err)
			So(be.Table, ShouldEqual, "books")
			So(withTable(nil, "books"), ShouldBeNil)
		})
	})
}

func TestVerb(t *testing.T) {
	Convey("测试语句关键字", t, func() {
		So(verb("  insert into books values (1)"), ShouldEqual, "INSERT")
		So(verb("PRAGMA table_info(books)"), ShouldEqual, "PRAGMA")
		So(verb(""), ShouldEqual, "EXEC")
	})
}
