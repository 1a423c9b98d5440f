package writer

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// ConsoleWriterOptions 控制台输出配置
type ConsoleWriterOptions struct {
	// 输出目标：stdout, stderr
	Target string `cfg:"target" def:"stdout" validate:"omitempty,oneof=stdout stderr"`
}

// ConsoleWriter 控制台输出器，关闭时不关闭标准输出
type ConsoleWriter struct {
	w io.Writer
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	target := "stdout"
	if options != nil && options.Target != "" {
		target = options.Target
	}
	switch target {
	case "stdout":
		return &ConsoleWriter{w: os.Stdout}, nil
	case "stderr":
		return &ConsoleWriter{w: os.Stderr}, nil
	default:
		return nil, errors.Errorf("unsupported console target: %s", target)
	}
}

func (c *ConsoleWriter) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *ConsoleWriter) Close() error {
	return nil
}
