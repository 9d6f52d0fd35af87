package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hnsync/pkg/config"
)

// ErrNotFound key 不存在或已过期
var ErrNotFound = errors.New("kv: key not found")

// Store 共享键值存储：get / put / delete，可选 TTL
// 不提供 CAS 和事务，上层正确性不依赖二者
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put ttl<=0 表示永不过期
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NewStore 按 store.driver 创建存储，返回关闭函数
func NewStore(cfg *config.Config) (Store, func() error, error) {
	switch cfg.Store.Driver {
	case "redis":
		client, err := NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client), client.Close, nil

	case "mysql":
		db, err := OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewGormStore(db, true)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "memory":
		return NewMemoryStore(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
