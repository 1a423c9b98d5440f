package database

import (
	"context"
	"strings"
	"testing"

	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/ref"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestSQL(t *testing.T) *SQL {
	t.Helper()
	db, err := NewSQLWithOptions(&SQLOptions{Driver: "sqlite3", Database: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupLibrary(ctx context.Context, db Database) {
	for _, stmt := range []string{
		`CREATE TABLE "authors" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" TEXT NOT NULL, "country" TEXT DEFAULT 'US')`,
		`CREATE TABLE "books" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "title" TEXT NOT NULL, "cover" BLOB, "authorsId" INTEGER,
			FOREIGN KEY ("authorsId") REFERENCES "authors" ("id") ON DELETE CASCADE)`,
		`CREATE UNIQUE INDEX "uk_books_title" ON "books" ("title")`,
		`CREATE INDEX "idx_books_authorsId_title" ON "books" ("authorsId", "title")`,
	} {
		_, err := db.Exec(ctx, stmt)
		So(err, ShouldBeNil)
	}
}

func TestNewSQLWithOptions(t *testing.T) {
	Convey("测试创建 SQL 存储后端", t, func() {
		Convey("参数校验", func() {
			_, err := NewSQLWithOptions(nil)
			So(err, ShouldNotBeNil)
			_, err = NewSQLWithOptions(&SQLOptions{Driver: "oracle"})
			So(err, ShouldNotBeNil)
			_, err = NewSQLWithOptions(&SQLOptions{Driver: "sqlite3"})
			So(err, ShouldNotBeNil)
		})

		Convey("sqlite 内存数据库", func() {
			db, err := NewSQLWithOptions(&SQLOptions{Driver: "sqlite", Database: ":memory:", MaxConns: 10})
			So(err, ShouldBeNil)
			defer db.Close()
			So(db.Dialect().Name(), ShouldEqual, "sqlite3")
			So(db.DB().Stats().MaxOpenConnections, ShouldEqual, 1)

			rows, err := db.Query(context.Background(), "PRAGMA foreign_keys")
			So(err, ShouldBeNil)
			So(rows[0]["foreign_keys"], ShouldEqual, int64(1))
		})

		Convey("通过注册表创建", func() {
			db, err := NewDatabaseWithOptions(&ref.TypeOptions{
				Type:    "SQL",
				Options: &SQLOptions{Driver: "sqlite3", Database: ":memory:"},
			})
			So(err, ShouldBeNil)
			So(db.Close(), ShouldBeNil)

			_, err = NewDatabaseWithOptions(nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestBuildDSN(t *testing.T) {
	Convey("测试 DSN 构造", t, func() {
		Convey("mysql 使用连接参数", func() {
			dsn, err := buildDSN("mysql", &SQLOptions{Host: "db", Username: "root", Password: "pwd", Database: "library", Charset: "utf8mb4"})
			So(err, ShouldBeNil)
			So(dsn, ShouldStartWith, "root:pwd@tcp(db:3306)/library?")
			So(dsn, ShouldContainSubstring, "clientFoundRows=true")
			So(dsn, ShouldContainSubstring, "parseTime=true")
			So(dsn, ShouldContainSubstring, "charset=utf8mb4")
		})

		Convey("mysql 补全已有的 DSN", func() {
			dsn, err := buildDSN("mysql", &SQLOptions{DSN: "u:p@tcp(127.0.0.1:3307)/app"})
			So(err, ShouldBeNil)
			So(dsn, ShouldStartWith, "u:p@tcp(127.0.0.1:3307)/app?")
			So(dsn, ShouldContainSubstring, "clientFoundRows=true")

			_, err = buildDSN("mysql", &SQLOptions{DSN: "not a dsn"})
			So(err, ShouldNotBeNil)
		})

		Convey("postgres", func() {
			dsn, err := buildDSN("postgres", &SQLOptions{Host: "pg", Username: "app", Password: "it's secret", Database: "library"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, `host=pg port=5432 sslmode=disable user=app password='it\'s secret' dbname=library`)

			dsn, err = buildDSN("postgres", &SQLOptions{Host: "pg", Port: "6432", SSLMode: "require"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "host=pg port=6432 sslmode=require")
		})

		Convey("sqlite 打开外键约束", func() {
			dsn, err := buildDSN("sqlite3", &SQLOptions{Database: "/tmp/library.db"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "/tmp/library.db?_foreign_keys=1")

			dsn, err = buildDSN("sqlite3", &SQLOptions{Database: "file:library.db?cache=shared"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "file:library.db?cache=shared&_foreign_keys=1")
		})
	})
}

func TestSQLExecQuery(t *testing.T) {
	Convey("测试执行和查询", t, func() {
		ctx := context.Background()
		db := newTestSQL(t)
		setupLibrary(ctx, db)

		res, err := db.Exec(ctx, `INSERT INTO "authors" ("name") VALUES (?)`, "Stephen King")
		So(err, ShouldBeNil)
		So(res.RowsAffected, ShouldEqual, 1)
		So(res.LastInsertID, ShouldEqual, 1)

		res, err = db.Exec(ctx, `INSERT INTO "books" ("title", "cover", "authorsId") VALUES (?, ?, ?)`, "IT", []byte{0x89, 0x50}, 1)
		So(err, ShouldBeNil)
		So(res.LastInsertID, ShouldEqual, 1)

		Convey("读取记录", func() {
			rows, err := db.Query(ctx, `SELECT * FROM "authors"`)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(rows[0]["id"], ShouldEqual, int64(1))
			So(rows[0]["name"], ShouldEqual, "Stephen King")
			So(rows[0]["country"], ShouldEqual, "US")

			rows, err = db.Query(ctx, `SELECT "title", "cover" FROM "books" WHERE "authorsId" = ?`, 1)
			So(err, ShouldBeNil)
			So(rows[0]["title"], ShouldEqual, "IT")
			So(rows[0]["cover"], ShouldResemble, []byte{0x89, 0x50})
		})

		Convey("空结果返回空切片", func() {
			rows, err := db.Query(ctx, `SELECT * FROM "books" WHERE "id" = ?`, 42)
			So(err, ShouldBeNil)
			So(rows, ShouldNotBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("唯一约束冲突", func() {
			_, err := db.Exec(ctx, `INSERT INTO "books" ("title") VALUES (?)`, "IT")
			var cv *errs.ConstraintViolationError
			So(errs.IsConstraintViolation(err), ShouldBeTrue)
			So(asConstraint(err, &cv), ShouldBeTrue)
			So(cv.Constraint, ShouldEqual, errs.ConstraintUnique)
			So(cv.Op, ShouldEqual, "INSERT")
		})

		Convey("外键约束冲突", func() {
			_, err := db.Exec(ctx, `INSERT INTO "books" ("title", "authorsId") VALUES (?, ?)`, "Dune", 99)
			var cv *errs.ConstraintViolationError
			So(asConstraint(err, &cv), ShouldBeTrue)
			So(cv.Constraint, ShouldEqual, errs.ConstraintForeignKey)
		})

		Convey("非空约束冲突", func() {
			_, err := db.Exec(ctx, `INSERT INTO "authors" ("name") VALUES (?)`, nil)
			var cv *errs.ConstraintViolationError
			So(asConstraint(err, &cv), ShouldBeTrue)
			So(cv.Constraint, ShouldEqual, errs.ConstraintNotNull)
		})

		Convey("语法错误为后端错误", func() {
			_, err := db.Query(ctx, `SELEC * FROM "books"`)
			So(errs.IsBackend(err), ShouldBeTrue)
			_, err = db.Exec(ctx, `INSERT INTO "missing" VALUES (1)`)
			So(errs.IsBackend(err), ShouldBeTrue)
		})

		Convey("级联删除", func() {
			_, err := db.Exec(ctx, `DELETE FROM "authors" WHERE "id" = ?`, 1)
			So(err, ShouldBeNil)
			rows, err := db.Query(ctx, `SELECT * FROM "books"`)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})
	})
}

func asConstraint(err error, target **errs.ConstraintViolationError) bool {
	cv, ok := err.(*errs.ConstraintViolationError)
	if ok {
		*target = cv
	}
	return ok
}

func TestSQLIntrospection(t *testing.T) {
	Convey("测试读取表结构", t, func() {
		ctx := context.Background()
		db := newTestSQL(t)
		setupLibrary(ctx, db)

		Convey("HasTable", func() {
			ok, err := db.HasTable(ctx, "books")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, err = db.HasTable(ctx, "reviews")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Columns", func() {
			cols, err := db.Columns(ctx, "authors")
			So(err, ShouldBeNil)
			So(cols, ShouldHaveLength, 3)
			So(cols[0].Name, ShouldEqual, "id")
			So(cols[0].PrimaryKey, ShouldBeTrue)
			So(cols[1], ShouldResemble, ColumnInfo{Name: "name", Type: "TEXT", NotNull: true})
			So(cols[2].Name, ShouldEqual, "country")
			So(*cols[2].Default, ShouldEqual, "'US'")

			cols, err = db.Columns(ctx, "reviews")
			So(err, ShouldBeNil)
			So(cols, ShouldBeEmpty)
		})

		Convey("ForeignKeys", func() {
			fks, err := db.ForeignKeys(ctx, "books")
			So(err, ShouldBeNil)
			So(fks, ShouldResemble, []ForeignKeyInfo{{Name: "fk_books_authorsId", Column: "authorsId", RefTable: "authors", RefColumn: "id"}})

			fks, err = db.ForeignKeys(ctx, "authors")
			So(err, ShouldBeNil)
			So(fks, ShouldBeEmpty)
		})

		Convey("Indexes", func() {
			indexes, err := db.Indexes(ctx, "books")
			So(err, ShouldBeNil)
			So(indexes, ShouldHaveLength, 2)
			byName := map[string]IndexInfo{}
			for _, idx := range indexes {
				byName[idx.Name] = idx
			}
			So(byName["uk_books_title"], ShouldResemble, IndexInfo{Name: "uk_books_title", Columns: []string{"title"}, Unique: true})
			So(byName["idx_books_authorsId_title"].Columns, ShouldResemble, []string{"authorsId", "title"})
			So(byName["idx_books_authorsId_title"].Unique, ShouldBeFalse)
		})

		Convey("IndexStatements", func() {
			stmts, err := db.IndexStatements(ctx, "books")
			So(err, ShouldBeNil)
			So(stmts, ShouldHaveLength, 2)
			So(strings.Join(stmts, ";"), ShouldContainSubstring, `CREATE UNIQUE INDEX "uk_books_title"`)
		})

		Convey("ReferencedBy", func() {
			tables, err := db.ReferencedBy(ctx, "authors")
			So(err, ShouldBeNil)
			So(tables, ShouldResemble, []string{"books"})
			tables, err = db.ReferencedBy(ctx, "books")
			So(err, ShouldBeNil)
			So(tables, ShouldBeEmpty)
		})

		Convey("RenameTable 和 DropTable", func() {
			So(db.RenameTable(ctx, "books", "novels"), ShouldBeNil)
			ok, _ := db.HasTable(ctx, "novels")
			So(ok, ShouldBeTrue)
			So(db.DropTable(ctx, "novels"), ShouldBeNil)
			ok, _ = db.HasTable(ctx, "novels")
			So(ok, ShouldBeFalse)

			err := db.DropTable(ctx, "novels")
			So(errs.IsBackend(err), ShouldBeTrue)
			So(err.(*errs.BackendError).Table, ShouldEqual, "novels")
		})
	})
}

func TestSQLTransaction(t *testing.T) {
	Convey("测试事务", t, func() {
		ctx := context.Background()
		db := newTestSQL(t)
		setupLibrary(ctx, db)

		Convey("提交", func() {
			err := WithTx(ctx, db, func(tx Transaction) error {
				So(tx.InTx(), ShouldBeTrue)
				_, err := tx.BeginTx(ctx)
				So(err, ShouldNotBeNil)
				_, err = tx.Exec(ctx, `INSERT INTO "authors" ("name") VALUES (?)`, "Ursula K. Le Guin")
				return err
			})
			So(err, ShouldBeNil)
			rows, _ := db.Query(ctx, `SELECT * FROM "authors"`)
			So(rows, ShouldHaveLength, 1)
		})

		Convey("出错时回滚", func() {
			err := WithTx(ctx, db, func(tx Transaction) error {
				if _, err := tx.Exec(ctx, `INSERT INTO "authors" ("name") VALUES (?)`, "Frank Herbert"); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO "books" ("title", "authorsId") VALUES (?, ?)`, "Dune", 42)
				return err
			})
			So(errs.IsConstraintViolation(err), ShouldBeTrue)
			rows, _ := db.Query(ctx, `SELECT * FROM "authors"`)
			So(rows, ShouldBeEmpty)
		})

		Convey("panic 时回滚", func() {
			So(func() {
				_ = WithTx(ctx, db, func(tx Transaction) error {
					_, _ = tx.Exec(ctx, `INSERT INTO "authors" ("name") VALUES (?)`, "Iain M. Banks")
					panic("boom")
				})
			}, ShouldPanicWith, "boom")
			rows, _ := db.Query(ctx, `SELECT * FROM "authors"`)
			So(rows, ShouldBeEmpty)
		})

		Convey("事务内读取表结构", func() {
			tx, err := db.BeginTx(ctx)
			So(err, ShouldBeNil)
			defer tx.Close()
			ok, err := tx.HasTable(ctx, "books")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(tx.Rollback(), ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)
		})
	})
}
