package cfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/query"
	. "github.com/smartystreets/goconvey/convey"
)

const storeYAML = `
store:
  database:
    namespace: github.com/hatlonely/rdbx/rdb/database
    type: SQL
    options:
      driver: sqlite3
      database: ":memory:"
  logger:
    type: Nop
  tables:
    - name: authors
      fields:
        - name: name
          type: text
          required: true
          indexed: unique
    - name: books
      fields:
        - name: title
          type: text
        - name: authorsId
          type: manyToOne
          indexed: foreign
          foreignTable: authors
server:
  port: 8080
  timeout: 3s
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

type serverOptions struct {
	Port    int           `cfg:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `cfg:"timeout" def:"1s"`
	Host    string        `cfg:"host" def:"0.0.0.0"`
}

func TestNewConfig(t *testing.T) {
	Convey("从 YAML 文件加载配置并打开 Store", t, func() {
		c, err := NewConfig(writeFile(t, "rdbx.yaml", storeYAML))
		So(err, ShouldBeNil)
		defer c.Close()

		var server serverOptions
		So(c.Sub("server").ConvertTo(&server), ShouldBeNil)
		So(server, ShouldResemble, serverOptions{Port: 8080, Timeout: 3 * time.Second, Host: "0.0.0.0"})

		var options rdb.StoreOptions
		So(c.Sub("store").ConvertTo(&options), ShouldBeNil)
		So(len(options.Tables), ShouldEqual, 2)

		store, err := rdb.NewStoreWithOptions(&options)
		So(err, ShouldBeNil)
		defer store.Close()

		ctx := context.Background()
		id, err := store.Insert(ctx, "authors", rdb.Record{"name": "Stephen King"})
		So(err, ShouldBeNil)
		_, err = store.Insert(ctx, "books", rdb.Record{"title": "It", "authorsId": id})
		So(err, ShouldBeNil)

		n, err := store.Count(ctx, "books", query.Eq("authorsId", id))
		So(err, ShouldBeNil)
		So(n, ShouldEqual, int64(1))
	})

	Convey("多级 Sub 与完整 key", t, func() {
		c, err := NewConfig(writeFile(t, "rdbx.yaml", storeYAML))
		So(err, ShouldBeNil)
		defer c.Close()

		sub := c.Sub("store").Sub("tables[1]")
		So(sub.Key(), ShouldEqual, "store.tables[1]")
		var name string
		So(sub.Sub("name").ConvertTo(&name), ShouldBeNil)
		So(name, ShouldEqual, "books")
		So(c.Sub(""), ShouldEqual, c)
	})

	Convey("校验失败", t, func() {
		c, err := NewConfig(writeFile(t, "rdbx.json", `{"server": {"port": 0}}`))
		So(err, ShouldBeNil)
		defer c.Close()

		var server serverOptions
		So(c.Sub("server").ConvertTo(&server), ShouldNotBeNil)
	})

	Convey("参数错误", t, func() {
		_, err := NewConfig("")
		So(err, ShouldNotBeNil)
		_, err = NewConfig("rdbx.xml")
		So(err, ShouldNotBeNil)
		_, err = NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
		_, err = NewConfig(writeFile(t, "bad.toml", "a = "))
		So(err, ShouldNotBeNil)
		_, err = NewConfigWithOptions(nil)
		So(err, ShouldNotBeNil)
	})
}

func TestNewConfigFromEnv(t *testing.T) {
	Convey("从环境变量加载配置", t, func() {
		t.Setenv("RDBXCFG_SERVER_PORT", "9090")
		t.Setenv("RDBXCFG_SERVER_TIMEOUT", "5s")

		c, err := NewConfigFromEnv("RDBXCFG_")
		So(err, ShouldBeNil)
		defer c.Close()

		var server serverOptions
		So(c.Sub("server").ConvertTo(&server), ShouldBeNil)
		So(server.Port, ShouldEqual, 9090)
		So(server.Timeout, ShouldEqual, 5*time.Second)
		So(server.Host, ShouldEqual, "0.0.0.0")
	})
}

func TestConfigOnChange(t *testing.T) {
	Convey("文件变更后只回调变更的 key", t, func() {
		file := writeFile(t, "rdbx.yaml", "server:\n  port: 8080\nstore:\n  name: a\n")
		c, err := NewConfig(file)
		So(err, ShouldBeNil)
		defer c.Close()
		c.SetLogger(log.NewNop())

		rootChanged := make(chan struct{}, 8)
		serverChanged := make(chan int, 8)
		storeChanged := make(chan struct{}, 8)
		c.OnChange(func(*Config) error {
			rootChanged <- struct{}{}
			return nil
		})
		c.Sub("server").OnChange(func(sub *Config) error {
			var server serverOptions
			if err := sub.ConvertTo(&server); err != nil {
				return err
			}
			serverChanged <- server.Port
			return nil
		})
		c.OnKeyChange("store", func(*Config) error {
			storeChanged <- struct{}{}
			return nil
		})
		So(c.Watch(), ShouldBeNil)

		// 先写临时文件再 rename，避免回调读到截断的文件
		time.Sleep(50 * time.Millisecond)
		tmp := file + ".tmp"
		So(os.WriteFile(tmp, []byte("server:\n  port: 9090\nstore:\n  name: a\n"), 0644), ShouldBeNil)
		So(os.Rename(tmp, file), ShouldBeNil)

		var port int
		timeout := time.After(3 * time.Second)
		for port != 9090 {
			select {
			case port = <-serverChanged:
			case <-timeout:
				So("timeout waiting for change", ShouldBeEmpty)
				return
			}
		}
		So(port, ShouldEqual, 9090)
		So(len(rootChanged), ShouldBeGreaterThan, 0)
		So(len(storeChanged), ShouldEqual, 0)

		var server serverOptions
		So(c.Sub("server").ConvertTo(&server), ShouldBeNil)
		So(server.Port, ShouldEqual, 9090)
	})
}

func TestConfigSave(t *testing.T) {
	Convey("Save 编码后写回文件", t, func() {
		file := writeFile(t, "rdbx.json", `{"server": {"port": 8080}}`)
		c, err := NewConfig(file)
		So(err, ShouldBeNil)
		defer c.Close()

		So(c.Save(map[string]any{"server": map[string]any{"port": 9090}}), ShouldBeNil)
		again, err := NewConfig(file)
		So(err, ShouldBeNil)
		defer again.Close()

		var server serverOptions
		So(again.Sub("server").ConvertTo(&server), ShouldBeNil)
		So(server.Port, ShouldEqual, 9090)
		So(c.Close(), ShouldBeNil)
		So(c.Close(), ShouldBeNil)
	})
}
