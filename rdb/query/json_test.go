package query

import (
	"encoding/json"
	"testing"

	"github.com/hatlonely/rdbx/rdb/errs"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUnmarshal(t *testing.T) {
	Convey("测试从 JSON 解析谓词", t, func() {
		Convey("比较节点", func() {
			w, err := Unmarshal([]byte(`{"field": "pages", "op": "gte", "value": 100}`))
			So(err, ShouldBeNil)
			So(w, ShouldResemble, &Comparison{Field: "pages", Operator: OpGte, Value: int64(100)})

			w, err = Unmarshal([]byte(`{"field": "price", "op": "lt", "value": 9.5}`))
			So(err, ShouldBeNil)
			So(w.(*Comparison).Value, ShouldEqual, 9.5)

			w, err = Unmarshal([]byte(`{"field": "genre", "op": "not_in", "value": ["horror", 3]}`))
			So(err, ShouldBeNil)
			So(w, ShouldResemble, &Comparison{Field: "genre", Operator: OpNotIn, Value: []any{"horror", int64(3)}})
		})

		Convey("组合节点", func() {
			w, err := Unmarshal([]byte(`{"and": [{"field": "a", "op": "eq", "value": null}, {"or": []}]}`))
			So(err, ShouldBeNil)
			So(w, ShouldResemble, &And{Children: []Where{
				&Comparison{Field: "a", Operator: OpEq},
				&Or{Children: []Where{}},
			}})
		})

		Convey("空值", func() {
			w, err := Unmarshal([]byte(`null`))
			So(err, ShouldBeNil)
			So(w, ShouldBeNil)
			w, err = Unmarshal(nil)
			So(err, ShouldBeNil)
			So(w, ShouldBeNil)
		})

		Convey("非法输入", func() {
			_, err := Unmarshal([]byte(`{"field": "a", "op": "between", "value": 1}`))
			So(err, ShouldNotBeNil)
			_, err = Unmarshal([]byte(`{"op": "eq", "value": 1}`))
			So(err, ShouldNotBeNil)
			_, err = Unmarshal([]byte(`{"and": [], "or": []}`))
			So(err, ShouldNotBeNil)
			_, err = Unmarshal([]byte(`[1, 2]`))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMarshal(t *testing.T) {
	Convey("测试谓词编码为 JSON", t, func() {
		w := AndOf(Eq("genre", "horror"), OrOf(Gt("pages", int64(100)), Eq("deleted", nil)))
		buf, err := Marshal(w)
		So(err, ShouldBeNil)
		So(string(buf), ShouldEqual,
			`{"and":[{"field":"genre","op":"eq","value":"horror"},{"or":[{"field":"pages","op":"gt","value":100},{"field":"deleted","op":"eq","value":null}]}]}`)

		back, err := Unmarshal(buf)
		So(err, ShouldBeNil)
		So(back, ShouldResemble, w)

		Convey("未知节点", func() {
			_, err := Marshal(AndOf(customWhere{}))
			So(errs.IsValidation(err), ShouldBeTrue)
		})

		Convey("嵌入结构体", func() {
			var req struct {
				Table  string   `json:"table"`
				Filter Document `json:"filter"`
			}
			So(json.Unmarshal([]byte(`{"table": "books", "filter": {"field": "title", "op": "like", "value": "dune"}}`), &req), ShouldBeNil)
			So(req.Filter.Where, ShouldResemble, Like("title", "dune"))

			out, err := json.Marshal(req)
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, `{"table":"books","filter":{"field":"title","op":"like","value":"dune"}}`)
		})
	})
}
