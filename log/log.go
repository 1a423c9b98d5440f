package log

import (
	"sync"

	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

type Logger = logger.Logger

type SLogOptions = logger.SLogOptions

func init() {
	ref.MustRegister("github.com/hatlonely/rdbx/log", "SLog", logger.NewSLogWithOptions)
	ref.MustRegister("github.com/hatlonely/rdbx/log", "Nop", logger.Nop)
}

var (
	mu            sync.RWMutex
	defaultLogger Logger
)

func init() {
	l, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "info", Format: "text"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

// Default 进程级默认日志器
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault 替换默认日志器，nil 被忽略
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// NewSLogWithOptions 创建 slog 日志器
func NewSLogWithOptions(options *SLogOptions) (Logger, error) {
	return logger.NewSLogWithOptions(options)
}

// NewNop 丢弃所有日志，用于测试
func NewNop() Logger {
	return logger.Nop()
}

// NewLoggerWithOptions 按 TypeOptions 创建日志器，nil 返回默认日志器
func NewLoggerWithOptions(options *ref.TypeOptions) (Logger, error) {
	if options == nil || options.Type == "" {
		return Default(), nil
	}
	l, err := ref.NewWithOptions[Logger](options)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}
	return l, nil
}

// Options 按组件名称配置日志器，default 同时作为缺省日志器
type Options map[string]*ref.TypeOptions

// Manager 按组件名称管理日志器
type Manager struct {
	loggers       map[string]Logger
	defaultLogger Logger
}

func NewManagerWithOptions(options Options) (*Manager, error) {
	m := &Manager{loggers: map[string]Logger{}, defaultLogger: Default()}
	for name, opts := range options {
		if opts == nil {
			continue
		}
		l, err := NewLoggerWithOptions(opts)
		if err != nil {
			return nil, errors.WithMessagef(err, "logger [%s]", name)
		}
		m.loggers[name] = l
		if name == "default" {
			m.defaultLogger = l
		}
	}
	return m, nil
}

// Get 返回组件的日志器，未配置时返回带 component 字段的缺省日志器
func (m *Manager) Get(name string) Logger {
	if l, ok := m.loggers[name]; ok {
		return l
	}
	return m.defaultLogger.With("component", name)
}
