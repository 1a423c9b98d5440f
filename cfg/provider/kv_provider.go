package provider

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/kv"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

type KVProviderOptions struct {
	// Store 键值存储，如 RedisStore, BoltDBStore, LevelDBStore, PebbleStore
	Store *ref.TypeOptions `cfg:"store" validate:"required"`
	// Key 配置内容所在的键
	Key          string        `cfg:"key" validate:"required"`
	PollInterval time.Duration `cfg:"pollInterval" def:"5s"`
}

// KVProvider 把配置内容保存在键值存储的一个键中，Watch 后轮询内容变化
type KVProvider struct {
	store        kv.Store
	key          string
	pollInterval time.Duration
	logger       log.Logger

	mu       sync.RWMutex
	onChange []func(data []byte) error
	last     []byte
	watching bool

	once      sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func NewKVProviderWithOptions(options *KVProviderOptions) (*KVProvider, error) {
	if options == nil {
		return nil, errors.New("kv provider options is required")
	}
	if options.Key == "" {
		return nil, errors.New("key is required")
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 5 * time.Second
	}

	store, err := kv.NewStoreWithOptions(options.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "kv.NewStoreWithOptions failed")
	}

	return &KVProvider{
		store:        store,
		key:          options.Key,
		pollInterval: options.PollInterval,
		logger:       log.Default().With("component", "cfg.kv", "key", options.Key),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

func (p *KVProvider) Load() ([]byte, error) {
	data, err := p.store.Get(context.Background(), p.key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, errors.Errorf("config not found: %s", p.key)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "load config failed")
	}

	p.mu.Lock()
	p.last = data
	p.mu.Unlock()
	return data, nil
}

func (p *KVProvider) Save(data []byte) error {
	if err := p.store.Set(context.Background(), p.key, data); err != nil {
		return errors.WithMessage(err, "save config failed")
	}
	return nil
}

func (p *KVProvider) OnChange(fn func(data []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *KVProvider) Watch() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.watching = true
		p.mu.Unlock()
		go p.poll()
	})
	return nil
}

func (p *KVProvider) poll() {
	defer close(p.done)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkForChanges()
		case <-p.stopChan:
			return
		}
	}
}

// checkForChanges 内容与上次读取的不同时回调，键被删除时不回调
func (p *KVProvider) checkForChanges() {
	data, err := p.store.Get(context.Background(), p.key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return
	}
	if err != nil {
		p.logger.Warn("poll config failed", "error", err)
		return
	}

	p.mu.Lock()
	if bytes.Equal(data, p.last) {
		p.mu.Unlock()
		return
	}
	p.last = data
	handlers := make([]func(data []byte) error, len(p.onChange))
	copy(handlers, p.onChange)
	p.mu.Unlock()

	p.logger.Info("config changed", "size", len(data))
	for _, handler := range handlers {
		if err := handler(data); err != nil {
			p.logger.Warn("onChange handler failed", "error", err)
		}
	}
}

func (p *KVProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.once.Do(func() {})
		close(p.stopChan)

		p.mu.RLock()
		watching := p.watching
		p.mu.RUnlock()
		if watching {
			<-p.done
		}
		err = p.store.Close()
	})
	return err
}
