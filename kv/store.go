// Package kv 字节键值存储，作为配置等小数据的持久化后端
package kv

import (
	"context"

	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

const namespace = "github.com/hatlonely/rdbx/kv"

var ErrKeyNotFound = errors.New("key not found")

func init() {
	ref.MustRegisterT[RedisStore](NewRedisStoreWithOptions)
	ref.MustRegisterT[BoltDBStore](NewBoltDBStoreWithOptions)
	ref.MustRegisterT[LevelDBStore](NewLevelDBStoreWithOptions)
	ref.MustRegisterT[PebbleStore](NewPebbleStoreWithOptions)
}

type Store interface {
	// Set 写入键值
	Set(ctx context.Context, key string, value []byte) error
	// Get 读取键值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Del 删除键，键不存在时也返回成功
	Del(ctx context.Context, key string) error
	Close() error
}

// NewStoreWithOptions 按类型构造存储，Namespace 为空时使用本包
func NewStoreWithOptions(options *ref.TypeOptions) (Store, error) {
	if options == nil {
		return nil, errors.New("store options is required")
	}
	if options.Namespace == "" {
		options = &ref.TypeOptions{Namespace: namespace, Type: options.Type, Options: options.Options}
	}
	store, err := ref.NewWithOptions[Store](options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	return store, nil
}
