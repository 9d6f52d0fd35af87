package lock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"hnsync/internal/model"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
)

var errNotAcquired = errors.New("lock held by another owner")

// Options 锁参数
type Options struct {
	TTL        time.Duration // 锁有效期
	RetryDelay time.Duration // WaitForLock 重试间隔
	Settle     time.Duration // 写入后回读前的等待
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		TTL:        5 * time.Minute,
		RetryDelay: time.Second,
		Settle:     25 * time.Millisecond,
	}
}

// Manager 基于 KV 存储的协作式分布式锁
// 存储没有 CAS，写入后回读确认归属
type Manager struct {
	store  kv.Store
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

// NewManager 创建锁管理器
func NewManager(store kv.Store, opts Options, log logger.Logger) *Manager {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	return &Manager{
		store:  store,
		opts:   opts,
		logger: log,
		now:    time.Now,
	}
}

// Acquire 尝试获取锁，存储错误视为未获取
func (m *Manager) Acquire(ctx context.Context, key, owner string) bool {
	// 1. 未过期且属于他人则放弃
	current, err := m.read(ctx, key)
	if err != nil {
		m.logger.Warnf(ctx, "[Lock] read failed: key=%s, err=%v", key, err)
		return false
	}
	if current != nil && current.OwnerID != owner && m.now().Before(current.ExpiresAt) {
		return false
	}

	// 2. 写入锁记录
	record := model.SyncLock{OwnerID: owner, ExpiresAt: m.now().Add(m.opts.TTL)}
	raw, err := json.Marshal(record)
	if err != nil {
		return false
	}
	if err := m.store.Put(ctx, key, raw, m.opts.TTL); err != nil {
		m.logger.Warnf(ctx, "[Lock] write failed: key=%s, err=%v", key, err)
		return false
	}

	// 3. 等待并发写入落定
	if m.opts.Settle > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.opts.Settle):
		}
	}

	// 4. 回读确认
	stored, err := m.read(ctx, key)
	if err != nil {
		m.logger.Warnf(ctx, "[Lock] read back failed: key=%s, err=%v", key, err)
		return false
	}
	return stored != nil && stored.OwnerID == owner
}

// WaitForLock 固定间隔重试获取锁，重试前清理已过期的锁
func (m *Manager) WaitForLock(ctx context.Context, key, owner string, maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	attempt := 0
	op := func() (bool, error) {
		attempt++
		if m.Acquire(ctx, key, owner) {
			return true, nil
		}
		m.clearExpired(ctx, key)
		return false, errNotAcquired
	}

	ok, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.opts.RetryDelay)),
		backoff.WithMaxTries(uint(maxRetries)),
	)
	if err != nil {
		m.logger.Warnf(ctx, "[Lock] not acquired after %d attempts: key=%s, err=%v", attempt, key, err)
		return false
	}
	m.logger.Debugf(ctx, "[Lock] acquired: key=%s, attempts=%d", key, attempt)
	return ok
}

// Release 仅当调用方是记录的持有者时删除
func (m *Manager) Release(ctx context.Context, key, owner string) {
	current, err := m.read(ctx, key)
	if err != nil {
		m.logger.Warnf(ctx, "[Lock] release read failed: key=%s, err=%v", key, err)
		return
	}
	if current == nil || current.OwnerID != owner {
		return
	}
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.Warnf(ctx, "[Lock] release delete failed: key=%s, err=%v", key, err)
	}
}

// clearExpired 删除崩溃持有者遗留的过期锁
func (m *Manager) clearExpired(ctx context.Context, key string) {
	current, err := m.read(ctx, key)
	if err != nil || current == nil {
		return
	}
	if !m.now().Before(current.ExpiresAt) {
		m.logger.Infof(ctx, "[Lock] removing expired lock: key=%s, owner=%s", key, current.OwnerID)
		_ = m.store.Delete(ctx, key)
	}
}

// read 读取锁记录；损坏记录按不存在处理
func (m *Manager) read(ctx context.Context, key string) (*model.SyncLock, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l model.SyncLock
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, nil
	}
	return &l, nil
}
