package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBStoreOptions struct {
	// DBPath 数据库目录
	DBPath string `cfg:"dbPath" validate:"required"`
	// BlockCacheCapacity 块缓存容量，0 使用默认值 8MiB
	BlockCacheCapacity int `cfg:"blockCacheCapacity"`
	// WriteBuffer memdb 刷盘前的最大大小，0 使用默认值 4MiB
	WriteBuffer int `cfg:"writeBuffer"`
	// Compression 压缩算法：default, none, snappy
	Compression string `cfg:"compression" validate:"omitempty,oneof=default none snappy"`
	ReadOnly    bool   `cfg:"readOnly"`
	NoSync      bool   `cfg:"noSync"`
}

type LevelDBStore struct {
	db           *leveldb.DB
	writeOptions *opt.WriteOptions
}

func NewLevelDBStoreWithOptions(options *LevelDBStoreOptions) (*LevelDBStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	compression, err := leveldbParseCompression(options.Compression)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(options.DBPath, &opt.Options{
		BlockCacheCapacity: options.BlockCacheCapacity,
		WriteBuffer:        options.WriteBuffer,
		Compression:        compression,
		ReadOnly:           options.ReadOnly,
		NoSync:             options.NoSync,
	})
	if err != nil {
		return nil, errors.Wrap(err, "leveldb.OpenFile failed. path: "+options.DBPath)
	}

	return &LevelDBStore{
		db:           db,
		writeOptions: &opt.WriteOptions{Sync: !options.NoSync},
	}, nil
}

func leveldbParseCompression(compression string) (opt.Compression, error) {
	switch compression {
	case "", "default":
		return opt.DefaultCompression, nil
	case "none":
		return opt.NoCompression, nil
	case "snappy":
		return opt.SnappyCompression, nil
	default:
		return opt.DefaultCompression, errors.Errorf("unknown leveldb compression: %s", compression)
	}
}

func (s *LevelDBStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, s.writeOptions); err != nil {
		return errors.Wrapf(err, "leveldb.Put failed. key: [%s]", key)
	}
	return nil
}

func (s *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb.Get failed. key: [%s]", key)
	}
	return value, nil
}

func (s *LevelDBStore) Del(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), s.writeOptions); err != nil {
		return errors.Wrapf(err, "leveldb.Delete failed. key: [%s]", key)
	}
	return nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
