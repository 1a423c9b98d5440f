package join

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/migrate"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newLibrary(t *testing.T) database.Database {
	t.Helper()
	db, err := database.NewSQLWithOptions(&database.SQLOptions{Driver: "sqlite3", Database: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	m := migrate.New(db, migrate.WithLogger(log.NewNop()))
	for _, def := range []*schema.TableDefinition{
		{Name: "authors", Fields: []schema.FieldDefinition{{Name: "name", Type: schema.FieldTypeText}}},
		{Name: "books", Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.FieldTypeText},
			{Name: "genre", Type: schema.FieldTypeText},
			{Name: "authorsId", Type: schema.FieldTypeReferenceManyToOne, ForeignTable: "authors"},
		}},
		{Name: "chapters", Fields: []schema.FieldDefinition{
			{Name: "heading", Type: schema.FieldTypeText},
			{Name: "booksId", Type: schema.FieldTypeReferenceManyToOne, ForeignTable: "books"},
		}},
		{Name: "reviews", Fields: []schema.FieldDefinition{{Name: "stars", Type: schema.FieldTypeInteger}}},
	} {
		if err := m.CreateOrUpdate(ctx, def); err != nil {
			t.Fatalf("CreateOrUpdate(%s) error = %v", def.Name, err)
		}
	}

	for _, stmt := range []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO "authors" ("name") VALUES (?)`, []any{"Stephen King"}},
		{`INSERT INTO "authors" ("name") VALUES (?)`, []any{"Ursula K. Le Guin"}},
		{`INSERT INTO "authors" ("name") VALUES (?)`, []any{"Italo Calvino"}},
		{`INSERT INTO "books" ("title", "genre", "authorsId") VALUES (?, ?, ?)`, []any{"The Shining", "horror", 1}},
		{`INSERT INTO "books" ("title", "genre", "authorsId") VALUES (?, ?, ?)`, []any{"IT", "horror", 1}},
		{`INSERT INTO "books" ("title", "genre", "authorsId") VALUES (?, ?, ?)`, []any{"On Writing", "memoir", 1}},
		{`INSERT INTO "books" ("title", "genre", "authorsId") VALUES (?, ?, ?)`, []any{"The Dispossessed", "scifi", 2}},
		{`INSERT INTO "chapters" ("heading", "booksId") VALUES (?, ?)`, []any{"Part One", 1}},
		{`INSERT INTO "chapters" ("heading", "booksId") VALUES (?, ?)`, []any{"Part Two", 1}},
		{`INSERT INTO "chapters" ("heading", "booksId") VALUES (?, ?)`, []any{"Anarres", 4}},
	} {
		if _, err := db.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			t.Fatalf("Exec(%s) error = %v", stmt.sql, err)
		}
	}
	return db
}

func titles(records []database.Record) []any {
	var out []any
	for _, r := range records {
		out = append(out, r["title"])
	}
	return out
}

func TestResolve(t *testing.T) {
	Convey("测试关联查询", t, func() {
		ctx := context.Background()
		r := New(newLibrary(t), log.NewNop())

		Convey("按类型过滤子表", func() {
			records, err := r.Resolve(ctx, Chain{
				{Table: "authors", Filter: query.Eq("name", "Stephen King")},
				{Table: "books", Filter: query.Eq("genre", "horror")},
			})
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 1)
			So(records[0]["id"], ShouldEqual, int64(1))
			So(records[0]["name"], ShouldEqual, "Stephen King")
			books := records[0]["books"].([]database.Record)
			So(titles(books), ShouldResemble, []any{"The Shining", "IT"})
			_, ok := books[0]["chapters"]
			So(ok, ShouldBeFalse)
		})

		Convey("没有过滤时每个父记录都有子记录列表", func() {
			records, err := r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "books"}})
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 3)
			counts := map[any]int{}
			for _, rec := range records {
				books, ok := rec["books"].([]database.Record)
				So(ok, ShouldBeTrue)
				So(books, ShouldNotBeNil)
				for _, b := range books {
					So(b["authorsId"], ShouldEqual, rec["id"])
				}
				counts[rec["name"]] = len(books)
			}
			So(counts, ShouldResemble, map[any]int{"Stephen King": 3, "Ursula K. Le Guin": 1, "Italo Calvino": 0})
		})

		Convey("三层链", func() {
			records, err := r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "books"}, {Table: "chapters"}},
				WithFilter(query.In("id", []int{1, 2})), WithSort("id", false))
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 2)
			king := records[0]["books"].([]database.Record)
			So(king, ShouldHaveLength, 3)
			So(king[0]["chapters"], ShouldHaveLength, 2)
			So(king[1]["chapters"], ShouldResemble, []database.Record{})
			leGuin := records[1]["books"].([]database.Record)
			So(leGuin[0]["chapters"].([]database.Record)[0]["heading"], ShouldEqual, "Anarres")
		})

		Convey("根表排序和分页", func() {
			records, err := r.Resolve(ctx, Chain{{Table: "books"}}, WithSort("title", true), WithLimit(2), WithPage(2))
			So(err, ShouldBeNil)
			So(titles(records), ShouldResemble, []any{"On Writing", "IT"})

			records, err = r.Resolve(ctx, Chain{{Table: "books"}}, WithSort("title", false), WithLimit(3))
			So(err, ShouldBeNil)
			So(titles(records), ShouldResemble, []any{"IT", "On Writing", "The Dispossessed"})
		})

		Convey("全局过滤只作用于根表", func() {
			records, err := r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "books"}},
				WithFilter(query.OrOf(query.Eq("name", "Italo Calvino"), query.Eq("name", "Ursula K. Le Guin"))), WithSort("name", false))
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 2)
			So(records[0]["books"], ShouldResemble, []database.Record{})
			So(titles(records[1]["books"].([]database.Record)), ShouldResemble, []any{"The Dispossessed"})
		})

		Convey("不修改查询结果之外的数据", func() {
			chain := Chain{{Table: "authors", Filter: query.Eq("id", 2)}, {Table: "books"}}
			first, err := r.Resolve(ctx, chain)
			So(err, ShouldBeNil)
			first[0]["books"] = nil
			second, err := r.Resolve(ctx, chain)
			So(err, ShouldBeNil)
			So(second[0]["books"], ShouldHaveLength, 1)
		})

		Convey("错误", func() {
			_, err := r.Resolve(ctx, nil)
			So(errs.IsValidation(err), ShouldBeTrue)

			var notFound *errs.TableNotFoundError
			_, err = r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "poems"}})
			So(errors.As(err, &notFound), ShouldBeTrue)
			So(notFound.Table, ShouldEqual, "poems")

			var missing *errs.MissingForeignKeyError
			_, err = r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "reviews"}})
			So(errors.As(err, &missing), ShouldBeTrue)
			So(missing.Child, ShouldEqual, "reviews")
			So(missing.Column, ShouldEqual, "authorsId")
			So(errs.IsRelationship(err), ShouldBeTrue)

			_, err = r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "chapters"}})
			So(errs.IsRelationship(err), ShouldBeTrue)

			_, err = r.Resolve(ctx, Chain{{Table: "authors"}}, WithSort("age", false))
			So(errs.IsSchemaState(err), ShouldBeTrue)

			_, err = r.Resolve(ctx, Chain{{Table: "authors"}}, WithLimit(-1))
			So(errs.IsValidation(err), ShouldBeTrue)

			_, err = r.Resolve(ctx, Chain{{Table: "authors", Filter: query.In("id", 1)}})
			So(errs.IsValidation(err), ShouldBeTrue)

			_, err = r.Resolve(ctx, Chain{{Table: "authors"}, {Table: "books", Filter: query.Eq("isbn", "x")}})
			So(errs.IsBackend(err), ShouldBeTrue)
		})
	})
}

func TestTableQueryJSON(t *testing.T) {
	Convey("测试表链的 JSON 编码", t, func() {
		var chain Chain
		err := json.Unmarshal([]byte(`[
			{"table": "authors"},
			{"table": "books", "filter": {"field": "genre", "op": "eq", "value": "horror"}}
		]`), &chain)
		So(err, ShouldBeNil)
		So(chain.Tables(), ShouldResemble, []string{"authors", "books"})
		So(chain[0].Filter, ShouldBeNil)
		So(chain[1].Filter, ShouldResemble, query.Eq("genre", "horror"))

		data, err := json.Marshal(chain)
		So(err, ShouldBeNil)
		var again Chain
		So(json.Unmarshal(data, &again), ShouldBeNil)
		So(again, ShouldResemble, chain)
	})
}
