package kv

import (
	"context"

	"github.com/cockroachdb/fifo"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type PebbleStoreOptions struct {
	// DBPath 数据库目录
	DBPath string `cfg:"dbPath" validate:"required"`
	// CacheSize 块缓存大小，0 使用 pebble 默认值
	CacheSize int64 `cfg:"cacheSize"`
	// LoadBlockSema 并发读块的上限，0 表示不限制
	LoadBlockSema int64 `cfg:"loadBlockSema"`
	ReadOnly      bool  `cfg:"readOnly"`
	NoSync        bool  `cfg:"noSync"`
}

type PebbleStore struct {
	db           *pebble.DB
	writeOptions *pebble.WriteOptions
}

func NewPebbleStoreWithOptions(options *PebbleStoreOptions) (*PebbleStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	pebbleOptions := &pebble.Options{ReadOnly: options.ReadOnly}
	if options.CacheSize > 0 {
		cache := pebble.NewCache(options.CacheSize)
		defer cache.Unref()
		pebbleOptions.Cache = cache
	}
	if options.LoadBlockSema > 0 {
		pebbleOptions.LoadBlockSema = fifo.NewSemaphore(options.LoadBlockSema)
	}

	db, err := pebble.Open(options.DBPath, pebbleOptions)
	if err != nil {
		return nil, errors.Wrap(err, "pebble.Open failed")
	}

	writeOptions := pebble.Sync
	if options.NoSync {
		writeOptions = pebble.NoSync
	}
	return &PebbleStore{db: db, writeOptions: writeOptions}, nil
}

func (s *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.db.Set([]byte(key), value, s.writeOptions); err != nil {
		return errors.Wrapf(err, "pebble.Set failed. key: [%s]", key)
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "pebble.Get failed. key: [%s]", key)
	}
	defer closer.Close()

	// closer 关闭后 data 不再有效
	value := make([]byte, len(data))
	copy(value, data)
	return value, nil
}

func (s *PebbleStore) Del(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), s.writeOptions); err != nil {
		return errors.Wrapf(err, "pebble.Delete failed. key: [%s]", key)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
