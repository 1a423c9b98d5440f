package provider

import (
	"context"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

// configData 配置表的一行，name 唯一，每次 Save 时 version 加一
type configData struct {
	ID        int64     `rdb:"id"`
	Name      string    `rdb:"name,required,unique"`
	Content   string    `rdb:"content"`
	Version   int64     `rdb:"version,required,default=0"`
	UpdatedAt time.Time `rdb:"updatedAt,type=updatedAt"`
}

type RdbProviderOptions struct {
	Database *ref.TypeOptions `cfg:"database" validate:"required"`
	Table    string           `cfg:"table" def:"config_data"`
	// Name 配置在表中的名称
	Name         string        `cfg:"name" validate:"required"`
	PollInterval time.Duration `cfg:"pollInterval" def:"5s"`
}

// RdbProvider 把配置保存在数据库表中，Watch 后按 PollInterval 轮询 version 列
type RdbProvider struct {
	store        *rdb.Store
	table        string
	name         string
	pollInterval time.Duration
	logger       log.Logger

	mu          sync.RWMutex
	onChange    []func(data []byte) error
	lastVersion int64
	watching    bool

	once      sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func NewRdbProviderWithOptions(options *RdbProviderOptions) (*RdbProvider, error) {
	if options == nil {
		return nil, errors.New("rdb provider options is required")
	}
	if options.Name == "" {
		return nil, errors.New("config name is required")
	}
	if options.Database == nil {
		return nil, errors.New("database config is required")
	}
	if options.Table == "" {
		options.Table = "config_data"
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 5 * time.Second
	}

	def, err := schema.FromStruct(configData{})
	if err != nil {
		return nil, errors.WithMessage(err, "schema.FromStruct failed")
	}
	def.Name = options.Table

	logger := log.Default().With("component", "cfg.rdb", "table", options.Table, "name", options.Name)
	store, err := rdb.NewStoreWithOptions(&rdb.StoreOptions{
		Database: options.Database,
		Tables:   []*schema.TableDefinition{def},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "rdb.NewStoreWithOptions failed")
	}

	return &RdbProvider{
		store:        store,
		table:        options.Table,
		name:         options.Name,
		pollInterval: options.PollInterval,
		logger:       logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

func (p *RdbProvider) find(ctx context.Context) (*configData, error) {
	records, err := p.store.Find(ctx, p.table, query.Eq("name", p.name))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	var data configData
	if err := rdb.Scan(records[0], &data); err != nil {
		return nil, errors.WithMessage(err, "rdb.Scan failed")
	}
	return &data, nil
}

func (p *RdbProvider) Load() ([]byte, error) {
	data, err := p.find(context.Background())
	if err != nil {
		return nil, errors.WithMessage(err, "load config failed")
	}
	if data == nil {
		return nil, errors.Errorf("config not found: %s", p.name)
	}

	p.mu.Lock()
	p.lastVersion = data.Version
	p.mu.Unlock()
	return []byte(data.Content), nil
}

func (p *RdbProvider) Save(content []byte) error {
	ctx := context.Background()
	err := p.store.WithTx(ctx, func(tx *rdb.Store) error {
		records, err := tx.Find(ctx, p.table, query.Eq("name", p.name))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			_, err := tx.Insert(ctx, p.table, rdb.Record{
				"name":    p.name,
				"content": string(content),
				"version": 1,
			})
			return err
		}
		var data configData
		if err := rdb.Scan(records[0], &data); err != nil {
			return err
		}
		return tx.Update(ctx, p.table, data.ID, rdb.Record{
			"content": string(content),
			"version": data.Version + 1,
		})
	})
	if err != nil {
		return errors.WithMessage(err, "save config failed")
	}
	return nil
}

func (p *RdbProvider) OnChange(fn func(data []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *RdbProvider) Watch() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.watching = true
		p.mu.Unlock()
		go p.poll()
	})
	return nil
}

func (p *RdbProvider) poll() {
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

// checkForChanges version 大于上次读取的版本时回调
func (p *RdbProvider) checkForChanges() {
	data, err := p.find(context.Background())
	if err != nil {
		p.logger.Warn("poll config failed", "error", err)
		return
	}
	if data == nil {
		return
	}

	p.mu.Lock()
	if data.Version <= p.lastVersion {
		p.mu.Unlock()
		return
	}
	p.lastVersion = data.Version
	handlers := make([]func(data []byte) error, len(p.onChange))
	copy(handlers, p.onChange)
	p.mu.Unlock()

	p.logger.Info("config changed", "version", data.Version)
	for _, handler := range handlers {
		if err := handler([]byte(data.Content)); err != nil {
			p.logger.Warn("onChange handler failed", "error", err)
		}
	}
}

// Close 等待轮询协程退出后关闭数据库
func (p *RdbProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// 之后的 Watch 不再启动轮询
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
