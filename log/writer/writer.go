package writer

import (
	"io"

	"github.com/hatlonely/rdbx/ref"
)

// Writer 日志输出器
type Writer interface {
	io.Writer
	io.Closer
}

const namespace = "github.com/hatlonely/rdbx/log/writer"

func init() {
	ref.MustRegister(namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	ref.MustRegister(namespace, "FileWriter", NewFileWriterWithOptions)
	ref.MustRegister(namespace, "MultiWriter", NewMultiWriterWithOptions)
}

// NewWriterWithOptions 按配置构造输出器，未指定类型时输出到标准输出
func NewWriterWithOptions(options *ref.TypeOptions) (Writer, error) {
	if options == nil || options.Type == "" {
		return NewConsoleWriterWithOptions(nil)
	}
	return ref.NewWithOptions[Writer](options)
}
