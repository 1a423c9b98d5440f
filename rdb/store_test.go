package rdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/database"
	"github.com/hatlonely/rdbx/rdb/errs"
	"github.com/hatlonely/rdbx/rdb/join"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func authorsDef() *schema.TableDefinition {
	return &schema.TableDefinition{
		Name:   "authors",
		Fields: []schema.FieldDefinition{{Name: "name", Type: schema.FieldTypeText, Required: true}},
	}
}

func booksDef() *schema.TableDefinition {
	return &schema.TableDefinition{
		Name: "books",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.FieldTypeText, Required: true},
			{Name: "genre", Type: schema.FieldTypeText},
			{Name: "authorsId", Type: schema.FieldTypeReferenceManyToOne, ForeignTable: "authors"},
		},
	}
}

func usersDef() *schema.TableDefinition {
	return &schema.TableDefinition{
		Name: "users",
		Fields: []schema.FieldDefinition{
			{Name: "email", Type: schema.FieldTypeText, Indexed: schema.IndexUnique},
			{Name: "password", Type: schema.FieldTypePassword},
			{Name: "token", Type: schema.FieldTypeUUID},
			{Name: "createdAt", Type: schema.FieldTypeCreatedAt},
			{Name: "updatedAt", Type: schema.FieldTypeUpdatedAt},
		},
	}
}

func newTestStore(t *testing.T, defs ...*schema.TableDefinition) *Store {
	t.Helper()
	s, err := NewStoreWithOptions(&StoreOptions{
		Database: &ref.TypeOptions{
			Namespace: "github.com/hatlonely/rdbx/rdb/database",
			Type:      "SQL",
			Options:   &database.SQLOptions{Driver: "sqlite3", Database: ":memory:"},
		},
		Logger: &ref.TypeOptions{Namespace: "github.com/hatlonely/rdbx/log", Type: "Nop"},
		Tables: defs,
	})
	if err != nil {
		t.Fatalf("NewStoreWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSQL(t *testing.T) *database.SQL {
	t.Helper()
	db, err := database.NewSQLWithOptions(&database.SQLOptions{Driver: "sqlite3", Database: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewStoreWithOptions(t *testing.T) {
	Convey("测试创建 Store", t, func() {
		_, err := NewStoreWithOptions(nil)
		So(err, ShouldNotBeNil)

		_, err = NewStoreWithOptions(&StoreOptions{Database: &ref.TypeOptions{Type: "Cassandra"}})
		So(err, ShouldNotBeNil)

		_, err = NewStoreWithOptions(&StoreOptions{
			Database: &ref.TypeOptions{
				Namespace: "github.com/hatlonely/rdbx/rdb/database",
				Type:      "SQL",
				Options:   &database.SQLOptions{Driver: "sqlite3", Database: ":memory:"},
			},
			Tables: []*schema.TableDefinition{booksDef()},
		})
		var notFound *errs.TableNotFoundError
		So(errors.As(err, &notFound), ShouldBeTrue)

		s := NewStore(newSQL(t), nil)
		So(s.Close(), ShouldBeNil)
	})
}

func TestStoreScenario(t *testing.T) {
	Convey("测试作者和书籍的关联查询", t, func() {
		ctx := context.Background()
		s := newTestStore(t, authorsDef(), booksDef())

		id, err := s.Insert(ctx, "authors", Record{"name": "Stephen King"})
		So(err, ShouldBeNil)
		So(id, ShouldEqual, int64(1))
		_, err = s.Insert(ctx, "books", Record{"title": "The Shining", "genre": "horror", "authorsId": id})
		So(err, ShouldBeNil)
		_, err = s.Insert(ctx, "books", Record{"title": "IT", "genre": "horror", "authorsId": id})
		So(err, ShouldBeNil)
		_, err = s.Insert(ctx, "books", Record{"title": "On Writing", "genre": "memoir", "authorsId": id})
		So(err, ShouldBeNil)

		records, err := s.Query(ctx, join.Chain{
			{Table: "authors"},
			{Table: "books", Filter: query.Eq("genre", "horror")},
		})
		So(err, ShouldBeNil)
		So(records, ShouldHaveLength, 1)
		So(records[0]["id"], ShouldEqual, int64(1))
		So(records[0]["name"], ShouldEqual, "Stephen King")
		books := records[0]["books"].([]Record)
		So(books, ShouldHaveLength, 2)
		So(books[0]["title"], ShouldEqual, "The Shining")
		So(books[1]["title"], ShouldEqual, "IT")

		Convey("删除作者级联删除书籍", func() {
			n, err := s.Delete(ctx, "authors", id)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, int64(1))
			count, err := s.Count(ctx, "books", nil)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, int64(0))
		})

		Convey("外键约束", func() {
			_, err := s.Insert(ctx, "books", Record{"title": "Dune", "authorsId": 99})
			var cv *errs.ConstraintViolationError
			So(errors.As(err, &cv), ShouldBeTrue)
			So(cv.Constraint, ShouldEqual, errs.ConstraintForeignKey)
			So(cv.Table, ShouldEqual, "books")
		})
	})

	Convey("测试重复建立关联", t, func() {
		ctx := context.Background()
		s := newTestStore(t, authorsDef(), &schema.TableDefinition{
			Name:   "books",
			Fields: []schema.FieldDefinition{{Name: "title", Type: schema.FieldTypeText}},
		})

		So(s.Connect(ctx, "authors", "books"), ShouldBeNil)
		_, err := s.Insert(ctx, "authors", Record{"name": "Le Guin"})
		So(err, ShouldBeNil)
		_, err = s.Insert(ctx, "books", Record{"title": "Earthsea", "authorsId": 1})
		So(err, ShouldBeNil)

		So(s.Connect(ctx, "authors", "books"), ShouldBeNil)
		book, err := s.Get(ctx, "books", 1)
		So(err, ShouldBeNil)
		So(book["authorsId"], ShouldEqual, int64(1))

		def, ok := s.Definition("books")
		So(ok, ShouldBeTrue)
		f, ok := def.Field("authorsId")
		So(ok, ShouldBeTrue)
		So(f.ForeignTable, ShouldEqual, "authors")
		So(def.Fields, ShouldHaveLength, 2)
	})
}

func TestStoreWrite(t *testing.T) {
	Convey("测试记录读写", t, func() {
		ctx := context.Background()
		s := newTestStore(t, authorsDef(), booksDef(), usersDef())

		fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		now = func() time.Time { return fixed }
		Reset(func() { now = func() time.Time { return time.Now().UTC() } })

		Convey("自动字段", func() {
			id, err := s.Insert(ctx, "users", Record{"email": "a@example.com", "password": "secret"})
			So(err, ShouldBeNil)
			user, err := s.Get(ctx, "users", id)
			So(err, ShouldBeNil)
			So(user["password"], ShouldNotEqual, "secret")
			So(CheckPassword(user["password"].(string), "secret"), ShouldBeTrue)
			So(CheckPassword(user["password"].(string), "guess"), ShouldBeFalse)
			_, err = uuid.Parse(user["token"].(string))
			So(err, ShouldBeNil)
			So(user["createdAt"].(time.Time).Equal(fixed), ShouldBeTrue)
			So(user["updatedAt"].(time.Time).Equal(fixed), ShouldBeTrue)

			later := fixed.Add(time.Hour)
			now = func() time.Time { return later }
			So(s.Update(ctx, "users", id, Record{"password": user["password"]}), ShouldBeNil)
			updated, err := s.Get(ctx, "users", id)
			So(err, ShouldBeNil)
			So(updated["password"], ShouldEqual, user["password"])
			So(updated["token"], ShouldEqual, user["token"])
			So(updated["createdAt"].(time.Time).Equal(fixed), ShouldBeTrue)
			So(updated["updatedAt"].(time.Time).Equal(later), ShouldBeTrue)
		})

		Convey("唯一约束", func() {
			_, err := s.Insert(ctx, "users", Record{"email": "a@example.com"})
			So(err, ShouldBeNil)
			_, err = s.Insert(ctx, "users", Record{"email": "a@example.com"})
			So(errs.IsConstraintViolation(err), ShouldBeTrue)
		})

		Convey("更新不存在的记录", func() {
			var notFound *errs.RecordNotFoundError
			So(errors.As(s.Update(ctx, "authors", 42, Record{"name": "x"}), &notFound), ShouldBeTrue)
			So(notFound.ID, ShouldEqual, 42)
			So(errs.IsSchemaState(s.Update(ctx, "authors", 42, Record{})), ShouldBeTrue)
			_, err := s.Get(ctx, "authors", 42)
			So(errors.As(err, &notFound), ShouldBeTrue)
		})

		Convey("非法列名", func() {
			_, err := s.Insert(ctx, "authors", Record{"name; DROP TABLE authors": "x"})
			So(errs.IsValidation(err), ShouldBeTrue)
		})

		Convey("Upsert", func() {
			id, err := s.Upsert(ctx, "authors", Record{"name": "Calvino"})
			So(err, ShouldBeNil)
			same, err := s.Upsert(ctx, "authors", Record{"id": id, "name": "Italo Calvino"})
			So(err, ShouldBeNil)
			So(same, ShouldEqual, id)
			author, err := s.Get(ctx, "authors", id)
			So(err, ShouldBeNil)
			So(author["name"], ShouldEqual, "Italo Calvino")

			created, err := s.Upsert(ctx, "authors", Record{"id": 10, "name": "Borges"})
			So(err, ShouldBeNil)
			So(created, ShouldEqual, int64(10))
		})

		Convey("批量插入和删除", func() {
			ids, err := s.InsertMany(ctx, "authors", []Record{{"name": "a"}, {"name": "b"}, {"name": "c"}})
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{1, 2, 3})

			_, err = s.InsertMany(ctx, "authors", []Record{{"name": "d"}, {"nickname": "e"}})
			So(errs.IsBackend(err), ShouldBeTrue)
			count, err := s.Count(ctx, "authors", nil)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, int64(3))

			n, err := s.Delete(ctx, "authors", ids[0], ids[2], 99)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, int64(2))
			n, err = s.Delete(ctx, "authors")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, int64(0))

			found, err := s.Find(ctx, "authors", query.Like("name", "%"), join.WithSort("name", true))
			So(err, ShouldBeNil)
			So(found, ShouldHaveLength, 1)
			So(found[0]["name"], ShouldEqual, "b")
		})

		Convey("事务", func() {
			err := s.WithTx(ctx, func(tx *Store) error {
				if _, err := tx.Insert(ctx, "authors", Record{"name": "rolled back"}); err != nil {
					return err
				}
				return errors.New("abort")
			})
			So(err, ShouldNotBeNil)
			count, err := s.Count(ctx, "authors", query.Eq("name", "rolled back"))
			So(err, ShouldBeNil)
			So(count, ShouldEqual, int64(0))

			err = s.WithTx(ctx, func(tx *Store) error {
				return tx.WithTx(ctx, func(inner *Store) error {
					So(inner.Database().InTx(), ShouldBeTrue)
					_, err := inner.Insert(ctx, "authors", Record{"name": "committed"})
					return err
				})
			})
			So(err, ShouldBeNil)
			count, err = s.Count(ctx, "authors", query.Eq("name", "committed"))
			So(err, ShouldBeNil)
			So(count, ShouldEqual, int64(1))
		})
	})
}

func TestStoreSchema(t *testing.T) {
	Convey("测试表结构变更同步表定义", t, func() {
		ctx := context.Background()
		s := NewStore(newSQL(t), log.NewNop())
		So(s.CreateOrUpdate(ctx, authorsDef()), ShouldBeNil)
		So(s.CreateOrUpdate(ctx, booksDef()), ShouldBeNil)

		So(s.RenameField(ctx, "books", "genre", "category"), ShouldBeNil)
		def, _ := s.Definition("books")
		_, ok := def.Field("category")
		So(ok, ShouldBeTrue)

		So(s.DropField(ctx, "books", "category"), ShouldBeNil)
		def, _ = s.Definition("books")
		So(def.Fields, ShouldHaveLength, 2)

		def.Fields = nil
		again, _ := s.Definition("books")
		So(again.Fields, ShouldHaveLength, 2)

		So(s.Rename(ctx, "books", "novels"), ShouldBeNil)
		_, ok = s.Definition("books")
		So(ok, ShouldBeFalse)
		novels, ok := s.Definition("novels")
		So(ok, ShouldBeTrue)
		So(novels.Name, ShouldEqual, "novels")

		So(s.Drop(ctx, "novels"), ShouldBeNil)
		_, ok = s.Definition("novels")
		So(ok, ShouldBeFalse)
		So(errs.IsSchemaState(s.Drop(ctx, "novels")), ShouldBeTrue)
	})

	Convey("测试事务中的表定义随事务提交或回滚", t, func() {
		ctx := context.Background()
		s := NewStore(newSQL(t), log.NewNop())
		So(s.CreateOrUpdate(ctx, authorsDef()), ShouldBeNil)

		err := s.WithTx(ctx, func(tx *Store) error {
			if err := tx.CreateOrUpdate(ctx, usersDef()); err != nil {
				return err
			}
			if err := tx.Rename(ctx, "authors", "writers"); err != nil {
				return err
			}
			So(tx.Tables(), ShouldResemble, []string{"users", "writers"})
			return errors.New("abort")
		})
		So(err, ShouldNotBeNil)
		exists, err := s.Database().HasTable(ctx, "users")
		So(err, ShouldBeNil)
		So(exists, ShouldBeFalse)
		So(s.Tables(), ShouldResemble, []string{"authors"})
		_, ok := s.Definition("users")
		So(ok, ShouldBeFalse)

		// 回滚后 users 不再有表定义，写入时不做 uuid 填充
		_, err = s.Database().Exec(ctx, `CREATE TABLE "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "token" TEXT)`)
		So(err, ShouldBeNil)
		id, err := s.Insert(ctx, "users", Record{})
		So(err, ShouldBeNil)
		user, err := s.Get(ctx, "users", id)
		So(err, ShouldBeNil)
		So(user["token"], ShouldBeNil)
		So(s.Drop(ctx, "users"), ShouldBeNil)

		err = s.WithTx(ctx, func(tx *Store) error {
			if err := tx.CreateOrUpdate(ctx, usersDef()); err != nil {
				return err
			}
			if err := tx.Connect(ctx, "authors", "users"); err != nil {
				return err
			}
			return tx.RenameField(ctx, "users", "token", "code")
		})
		So(err, ShouldBeNil)
		So(s.Tables(), ShouldResemble, []string{"authors", "users"})
		def, ok := s.Definition("users")
		So(ok, ShouldBeTrue)
		_, ok = def.Field("code")
		So(ok, ShouldBeTrue)
		_, ok = def.Field("authorsId")
		So(ok, ShouldBeTrue)
	})
}

type testUser struct {
	ID        int64      `rdb:"id"`
	Email     string     `rdb:"email,unique"`
	Age       int        `rdb:"age"`
	Score     *float64   `rdb:"score"`
	Token     uuid.UUID  `rdb:"token"`
	CreatedAt time.Time  `rdb:"createdAt,type=createdAt"`
	Deleted   *time.Time `rdb:"deletedAt"`
	Ignored   string     `rdb:"-"`
}

func TestRecordConversion(t *testing.T) {
	Convey("测试结构体与记录互转", t, func() {
		token := uuid.New()
		ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

		rec, err := ToRecord(&testUser{Email: "a@example.com", Age: 30, Token: token, CreatedAt: ts, Ignored: "x"})
		So(err, ShouldBeNil)
		So(rec, ShouldResemble, Record{"email": "a@example.com", "age": 30, "token": token.String(), "createdAt": ts})

		_, err = ToRecord(42)
		So(err, ShouldNotBeNil)
		var nilUser *testUser
		_, err = ToRecord(nilUser)
		So(err, ShouldNotBeNil)

		var u testUser
		So(Scan(Record{
			"id":        int64(7),
			"email":     []byte("b@example.com"),
			"age":       "41",
			"score":     2.5,
			"token":     token.String(),
			"createdAt": "2024-05-01T08:00:00Z",
			"deletedAt": nil,
			"Ignored":   "y",
		}, &u), ShouldBeNil)
		So(u.ID, ShouldEqual, int64(7))
		So(u.Email, ShouldEqual, "b@example.com")
		So(u.Age, ShouldEqual, 41)
		So(*u.Score, ShouldEqual, 2.5)
		So(u.Token, ShouldEqual, token)
		So(u.CreatedAt.Equal(ts), ShouldBeTrue)
		So(u.Deleted, ShouldBeNil)
		So(u.Ignored, ShouldBeEmpty)

		So(Scan(Record{}, u), ShouldNotBeNil)
		So(Scan(Record{"age": "many"}, &u), ShouldNotBeNil)
	})
}
