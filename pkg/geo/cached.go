package geo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
)

// CachedRouter 永久缓存正向结果（地理编码结果视为不变事实）
type CachedRouter struct {
	inner  Router
	store  kv.Store
	logger logger.Logger
}

// NewCachedRouter 创建带缓存的 Router
func NewCachedRouter(inner Router, store kv.Store, log logger.Logger) *CachedRouter {
	return &CachedRouter{inner: inner, store: store, logger: log}
}

// NormalizeAddress 地址缓存键归一化
func NormalizeAddress(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ResolveAddress 先查缓存再调用下游
func (c *CachedRouter) ResolveAddress(ctx context.Context, text string) (*Point, error) {
	norm := NormalizeAddress(text)
	if norm == "" {
		return nil, nil
	}
	key := "geo:addr:" + norm

	var cached Point
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}

	p, err := c.inner.ResolveAddress(ctx, text)
	if err != nil || p == nil {
		return p, err
	}
	c.save(ctx, key, p)
	return p, nil
}

// GetRouteInfo 先查缓存再调用下游
func (c *CachedRouter) GetRouteInfo(ctx context.Context, from, to Point) (*RouteInfo, error) {
	key := "geo:route:" + from.Key() + "|" + to.Key()

	var cached RouteInfo
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}

	r, err := c.inner.GetRouteInfo(ctx, from, to)
	if err != nil || r == nil {
		return r, err
	}
	c.save(ctx, key, r)
	return r, nil
}

func (c *CachedRouter) load(ctx context.Context, key string, v interface{}) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warnf(ctx, "[CachedRouter] cache read failed: key=%s, err=%v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warnf(ctx, "[CachedRouter] corrupt cache entry dropped: key=%s, err=%v", key, err)
		_ = c.store.Delete(ctx, key)
		return false
	}
	return true
}

func (c *CachedRouter) save(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Put(ctx, key, raw, 0); err != nil {
		c.logger.Warnf(ctx, "[CachedRouter] cache write failed: key=%s, err=%v", key, err)
	}
}
