package kv

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltDBStoreOptions struct {
	// DBPath 数据库文件路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`
	// BucketName 键值所在的桶
	BucketName string `cfg:"bucketName" def:"default"`
	// Timeout 获取文件锁的等待时间，0 表示一直等待
	Timeout  time.Duration `cfg:"timeout" def:"1s"`
	ReadOnly bool          `cfg:"readOnly"`
	NoSync   bool          `cfg:"noSync"`
}

type BoltDBStore struct {
	db         *bolt.DB
	bucketName []byte
}

func NewBoltDBStoreWithOptions(options *BoltDBStoreOptions) (*BoltDBStore, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}
	if dir := filepath.Dir(options.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", dir)
		}
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:  options.Timeout,
		ReadOnly: options.ReadOnly,
		NoSync:   options.NoSync,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. path: %s", options.DBPath)
	}

	bucketName := options.BucketName
	if bucketName == "" {
		bucketName = "default"
	}
	store := &BoltDBStore{db: db, bucketName: []byte(bucketName)}

	if !options.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(store.bucketName)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "create bucket failed")
		}
	}

	return store, nil
}

func (s *BoltDBStore) Set(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return errors.New("bucket not found")
		}
		return bucket.Put([]byte(key), value)
	})
}

func (s *BoltDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return ErrKeyNotFound
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrKeyNotFound
		}
		// 事务结束后 data 不再有效
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltDBStore) Del(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *BoltDBStore) Close() error {
	return s.db.Close()
}
