package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/hatlonely/rdbx/log/writer"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

// SLogOptions slog 日志配置
type SLogOptions struct {
	Level string `cfg:"level" def:"info" validate:"omitempty,oneof=debug info warn warning error"`
	// Format 输出格式：text, json
	Format     string `cfg:"format" def:"text" validate:"omitempty,oneof=text json"`
	TimeFormat string `cfg:"timeFormat"`
	AddSource  bool   `cfg:"addSource"`
	// Output 输出器，未配置时输出到标准输出
	Output *ref.TypeOptions `cfg:"output"`
	// Fields 附加到每条日志的字段
	Fields map[string]any `cfg:"fields"`
}

// SLog 基于 log/slog 的 Logger 实现
type SLog struct {
	slogger *slog.Logger
	closer  io.Closer
}

func NewSLogWithOptions(options *SLogOptions) (*SLog, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, err
	}

	w, err := writer.NewWriterWithOptions(options.Output)
	if err != nil {
		return nil, errors.WithMessage(err, "create writer failed")
	}

	handler, err := newHandler(w, options, level)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	slogger := slog.New(handler)
	if len(options.Fields) > 0 {
		args := make([]any, 0, len(options.Fields)*2)
		for k, v := range options.Fields {
			args = append(args, k, v)
		}
		slogger = slogger.With(args...)
	}

	return &SLog{slogger: slogger, closer: w}, nil
}

// NewSLog 包装已有的 io.Writer，主要用于测试
func NewSLog(w io.Writer, level slog.Level, format string) (*SLog, error) {
	handler, err := newHandler(w, &SLogOptions{Format: format}, level)
	if err != nil {
		return nil, err
	}
	return &SLog{slogger: slog.New(handler)}, nil
}

func newHandler(w io.Writer, options *SLogOptions, level slog.Level) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: options.AddSource}
	if options.TimeFormat != "" {
		timeFormat := options.TimeFormat
		handlerOpts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(a.Key, a.Value.Time().Format(timeFormat))
			}
			return a
		}
	}

	switch strings.ToLower(options.Format) {
	case "", "text":
		return slog.NewTextHandler(w, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(w, handlerOpts), nil
	default:
		return nil, errors.Errorf("unsupported format: %s", options.Format)
	}
}

// ParseLevel 解析日志级别，空字符串为 info
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown level: %s", level)
	}
}

func (l *SLog) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *SLog) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *SLog) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *SLog) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

func (l *SLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, args...)
}

func (l *SLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, args...)
}

func (l *SLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, args...)
}

func (l *SLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, args...)
}

func (l *SLog) With(args ...any) Logger {
	return &SLog{slogger: l.slogger.With(args...)}
}

func (l *SLog) WithGroup(name string) Logger {
	return &SLog{slogger: l.slogger.WithGroup(name)}
}

// Close 关闭底层输出器，派生出的 Logger 共享同一个输出器
func (l *SLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
