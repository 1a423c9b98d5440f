// Package cfg 配置加载：Provider 读取原始数据，Decoder 解码为 Storage，
// Config 提供按 key 访问、结构体绑定和变更回调
package cfg

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/cfg/decoder"
	"github.com/hatlonely/rdbx/cfg/provider"
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

const (
	providerNamespace = "github.com/hatlonely/rdbx/cfg/provider"
	decoderNamespace  = "github.com/hatlonely/rdbx/cfg/decoder"
)

// Options 配置类初始化选项
type Options struct {
	Provider ref.TypeOptions  `cfg:"provider"`
	Decoder  ref.TypeOptions  `cfg:"decoder"`
	Logger   *ref.TypeOptions `cfg:"logger"`
}

// Config 配置管理器
// 子配置共享根配置的 provider 和回调，ConvertTo 之后按 validate tag 校验
type Config struct {
	root *Config
	key  string

	// 以下字段只在根配置上使用
	provider provider.Provider
	decoder  decoder.Decoder
	logger   log.Logger

	mu                  sync.RWMutex
	storage             storage.Storage
	onChangeHandlers    []func(*Config) error
	onKeyChangeHandlers map[string][]func(*Config) error

	closeOnce   sync.Once
	closeResult error
}

func NewConfigWithOptions(options *Options) (*Config, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	prov, err := ref.NewWithOptions[provider.Provider](&options.Provider)
	if err != nil {
		return nil, errors.WithMessage(err, "create provider failed")
	}
	dec, err := decoder.NewDecoderWithOptions(&options.Decoder)
	if err != nil {
		_ = prov.Close()
		return nil, errors.WithMessage(err, "create decoder failed")
	}
	logger, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		_ = prov.Close()
		return nil, errors.WithMessage(err, "create logger failed")
	}

	data, err := prov.Load()
	if err != nil {
		_ = prov.Close()
		return nil, errors.WithMessage(err, "load data from provider failed")
	}
	stor, err := dec.Decode(data)
	if err != nil {
		_ = prov.Close()
		return nil, errors.WithMessage(err, "decode data failed")
	}

	c := &Config{
		provider:            prov,
		decoder:             dec,
		logger:              logger.With("component", "cfg"),
		storage:             storage.NewValidateStorage(stor),
		onKeyChangeHandlers: map[string][]func(*Config) error{},
	}
	prov.OnChange(c.handleProviderChange)
	return c, nil
}

// NewConfig 从文件加载配置，按后缀选择解码器：
//
//	.json -> JsonDecoder
//	.yaml/.yml -> YamlDecoder
//	.toml -> TomlDecoder
//	.ini -> IniDecoder
//	.env -> EnvDecoder
//	.msgpack/.mp -> MsgpackDecoder
func NewConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}
	decoderType, err := decoderTypeOf(filename)
	if err != nil {
		return nil, err
	}
	return NewConfigWithOptions(&Options{
		Provider: ref.TypeOptions{
			Namespace: providerNamespace,
			Type:      "FileProvider",
			Options:   &provider.FileProviderOptions{FilePath: filename},
		},
		Decoder: ref.TypeOptions{
			Namespace: decoderNamespace,
			Type:      decoderType,
		},
	})
}

// NewConfigFromEnv 从带前缀的环境变量和 .env 文件加载配置
func NewConfigFromEnv(prefix string, envFiles ...string) (*Config, error) {
	return NewConfigWithOptions(&Options{
		Provider: ref.TypeOptions{
			Namespace: providerNamespace,
			Type:      "EnvProvider",
			Options:   &provider.EnvProviderOptions{Prefix: prefix, EnvFiles: envFiles},
		},
		Decoder: ref.TypeOptions{
			Namespace: decoderNamespace,
			Type:      "EnvDecoder",
		},
	})
}

func decoderTypeOf(filename string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		return "JsonDecoder", nil
	case ".yaml", ".yml":
		return "YamlDecoder", nil
	case ".toml":
		return "TomlDecoder", nil
	case ".ini":
		return "IniDecoder", nil
	case ".env":
		return "EnvDecoder", nil
	case ".msgpack", ".mp":
		return "MsgpackDecoder", nil
	default:
		return "", errors.Errorf("unsupported file extension: %s", ext)
	}
}

func (c *Config) getRoot() *Config {
	if c.root == nil {
		return c
	}
	return c.root
}

func (c *Config) currentStorage() storage.Storage {
	root := c.getRoot()
	root.mu.RLock()
	defer root.mu.RUnlock()
	return root.storage.Sub(c.key)
}

// Sub 获取子配置对象，key 为空时返回自身
func (c *Config) Sub(key string) *Config {
	if key == "" {
		return c
	}
	full := key
	if c.key != "" {
		full = c.key + "." + key
	}
	return &Config{root: c.getRoot(), key: full}
}

// Key 当前配置相对根配置的完整路径
func (c *Config) Key() string {
	return c.key
}

// ConvertTo 将配置数据转成结构体或者 map/slice 等任意结构，始终读取最新的数据
func (c *Config) ConvertTo(object any) error {
	return c.currentStorage().ConvertTo(object)
}

// SetLogger 设置日志记录器，作用于根配置
func (c *Config) SetLogger(logger log.Logger) {
	if logger == nil {
		return
	}
	root := c.getRoot()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.logger = logger
}

// OnChange 监听配置变更，子配置上注册等价于在根配置上 OnKeyChange
func (c *Config) OnChange(fn func(*Config) error) {
	if c.key != "" {
		c.getRoot().OnKeyChange(c.key, fn)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChangeHandlers = append(c.onChangeHandlers, fn)
}

// OnKeyChange 监听指定键的配置变更，key 相对当前配置
func (c *Config) OnKeyChange(key string, fn func(*Config) error) {
	full := c.Sub(key).key
	root := c.getRoot()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.onKeyChangeHandlers[full] = append(root.onKeyChangeHandlers[full], fn)
}

// Watch 启动 provider 的变更监听
func (c *Config) Watch() error {
	return c.getRoot().provider.Watch()
}

// Save 把对象编码后写回 provider
func (c *Config) Save(object any) error {
	root := c.getRoot()
	data, err := root.decoder.Encode(storage.NewMapStorage(object))
	if err != nil {
		return errors.WithMessage(err, "encode failed")
	}
	return root.provider.Save(data)
}

func (c *Config) handleProviderChange(data []byte) error {
	newStorage, err := c.decoder.Decode(data)
	if err != nil {
		c.logger.Warn("decode changed data failed", "error", err)
		return errors.WithMessage(err, "decode changed data failed")
	}

	c.mu.Lock()
	oldStorage := c.storage
	c.storage = storage.NewValidateStorage(newStorage)
	handlers := append([]func(*Config) error(nil), c.onChangeHandlers...)
	keyHandlers := map[string][]func(*Config) error{}
	for key, hs := range c.onKeyChangeHandlers {
		if !oldStorage.Sub(key).Equals(c.storage.Sub(key)) {
			keyHandlers[key] = append([]func(*Config) error(nil), hs...)
		}
	}
	logger := c.logger
	c.mu.Unlock()

	for _, handler := range handlers {
		c.run(logger, "", handler)
	}
	for key, hs := range keyHandlers {
		for _, handler := range hs {
			c.run(logger, key, handler)
		}
	}
	return nil
}

func (c *Config) run(logger log.Logger, key string, handler func(*Config) error) {
	start := time.Now()
	err := handler(c.Sub(key))
	if err != nil {
		logger.Warn("onChange handler failed", "key", key, "duration", time.Since(start), "error", err)
		return
	}
	logger.Info("onChange handler succeeded", "key", key, "duration", time.Since(start))
}

// Close 关闭根配置的 provider，多次调用返回第一次的结果
func (c *Config) Close() error {
	root := c.getRoot()
	root.closeOnce.Do(func() {
		root.closeResult = root.provider.Close()
	})
	return root.closeResult
}
