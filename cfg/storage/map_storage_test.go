package storage

import (
	"testing"
	"time"

	"github.com/hatlonely/rdbx/ref"
	. "github.com/smartystreets/goconvey/convey"
)

type level int

func (l *level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*l = 1
	case "high":
		*l = 2
	default:
		return &time.ParseError{Value: string(text)}
	}
	return nil
}

type poolOptions struct {
	MaxConns int           `cfg:"maxConns" def:"10"`
	Timeout  time.Duration `cfg:"timeout" def:"3s"`
}

type serverOptions struct {
	Name     string            `cfg:"name" validate:"required"`
	Port     int               `cfg:"port" validate:"min=1,max=65535"`
	Debug    bool              `cfg:"debug"`
	Level    level             `cfg:"level"`
	Tags     []string          `cfg:"tags" def:"a, b"`
	Labels   map[string]string `cfg:"labels"`
	Pool     poolOptions       `cfg:"pool"`
	Backup   *poolOptions      `cfg:"backup"`
	Database *ref.TypeOptions  `cfg:"database"`
	Ignored  string            `cfg:"-"`
}

func newTestStorage() *MapStorage {
	return NewMapStorage(map[string]any{
		"name":   "rdbx",
		"port":   "8080",
		"DEBUG":  "true",
		"level":  "high",
		"labels": map[string]any{"env": "test"},
		"pool": map[string]any{
			"maxConns": 20,
		},
		"database": map[string]any{
			"type": "SQL",
			"options": map[string]any{
				"driver":   "sqlite3",
				"database": ":memory:",
			},
		},
		"tables": []any{
			map[string]any{"name": "authors"},
			map[string]any{"name": "books", "fields": []any{map[string]any{"name": "title"}}},
		},
		"Ignored": "x",
	})
}

func TestMapStorage(t *testing.T) {
	Convey("MapStorage", t, func() {
		s := newTestStorage()

		Convey("Sub 支持多级 key 和数组下标", func() {
			var name string
			So(s.Sub("tables[1].name").ConvertTo(&name), ShouldBeNil)
			So(name, ShouldEqual, "books")

			So(s.Sub("tables[1].fields[0].name").ConvertTo(&name), ShouldBeNil)
			So(name, ShouldEqual, "title")

			So(s.Sub("database.options.driver").ConvertTo(&name), ShouldBeNil)
			So(name, ShouldEqual, "sqlite3")

			So(s.Sub("tables[5]").(*MapStorage).Data(), ShouldBeNil)
			So(s.Sub("missing.key").(*MapStorage).Data(), ShouldBeNil)
			So(s.Sub(""), ShouldEqual, s)
		})

		Convey("转换为结构体并填充默认值", func() {
			var opts serverOptions
			So(s.ConvertTo(&opts), ShouldBeNil)
			So(opts.Name, ShouldEqual, "rdbx")
			So(opts.Port, ShouldEqual, 8080)
			So(opts.Debug, ShouldBeTrue)
			So(opts.Level, ShouldEqual, level(2))
			So(opts.Tags, ShouldResemble, []string{"a", "b"})
			So(opts.Labels, ShouldResemble, map[string]string{"env": "test"})
			So(opts.Pool.MaxConns, ShouldEqual, 20)
			So(opts.Pool.Timeout, ShouldEqual, 3*time.Second)
			So(opts.Backup, ShouldBeNil)
			So(opts.Ignored, ShouldEqual, "")
		})

		Convey("TypeOptions 的 options 保留为子存储", func() {
			var opts serverOptions
			So(s.ConvertTo(&opts), ShouldBeNil)
			So(opts.Database.Type, ShouldEqual, "SQL")
			conv, ok := opts.Database.Options.(ref.Convertable)
			So(ok, ShouldBeTrue)

			var sql struct {
				Driver   string `cfg:"driver"`
				Database string `cfg:"database"`
				Host     string `cfg:"host" def:"localhost"`
			}
			So(conv.ConvertTo(&sql), ShouldBeNil)
			So(sql.Driver, ShouldEqual, "sqlite3")
			So(sql.Database, ShouldEqual, ":memory:")
			So(sql.Host, ShouldEqual, "localhost")
		})

		Convey("时间类型转换", func() {
			var v struct {
				A time.Duration `cfg:"a"`
				B time.Duration `cfg:"b"`
				C time.Time     `cfg:"c"`
			}
			st := NewMapStorage(map[string]any{"a": "1m30s", "b": 1.5, "c": "2024-01-02T03:04:05Z"})
			So(st.ConvertTo(&v), ShouldBeNil)
			So(v.A, ShouldEqual, 90*time.Second)
			So(v.B, ShouldEqual, 1500*time.Millisecond)
			So(v.C.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("类型不匹配时返回错误", func() {
			var v struct {
				Port int `cfg:"port"`
			}
			So(NewMapStorage(map[string]any{"port": "abc"}).ConvertTo(&v), ShouldNotBeNil)
			So(NewMapStorage(map[string]any{"port": 1}).ConvertTo(v), ShouldNotBeNil)
		})

		Convey("Equals 比较原始数据", func() {
			So(s.Sub("pool").Equals(newTestStorage().Sub("pool")), ShouldBeTrue)
			So(s.Sub("pool").Equals(s.Sub("labels")), ShouldBeFalse)
		})
	})
}

func TestValidateStorage(t *testing.T) {
	Convey("ValidateStorage", t, func() {
		Convey("校验通过", func() {
			var opts serverOptions
			So(NewValidateStorage(newTestStorage()).ConvertTo(&opts), ShouldBeNil)
		})

		Convey("校验失败", func() {
			var opts serverOptions
			s := NewValidateStorage(NewMapStorage(map[string]any{"port": 70000}))
			err := s.ConvertTo(&opts)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "validation failed")
		})

		Convey("子存储同样校验", func() {
			var pool poolOptions
			So(NewValidateStorage(newTestStorage()).Sub("pool").ConvertTo(&pool), ShouldBeNil)
			So(pool.MaxConns, ShouldEqual, 20)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		object  any
		wantErr bool
	}{
		{name: "nil", object: nil, wantErr: true},
		{name: "non pointer", object: poolOptions{}, wantErr: true},
		{name: "struct pointer", object: &poolOptions{}},
		{name: "bad default", object: &struct {
			N int `def:"ten"`
		}{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetDefaults(tt.object)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	opts := &poolOptions{MaxConns: 3}
	if err := SetDefaults(opts); err != nil {
		t.Fatal(err)
	}
	if opts.MaxConns != 3 || opts.Timeout != 3*time.Second {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}
