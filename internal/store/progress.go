package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hnsync/internal/model"
	"hnsync/pkg/kv"
)

// ProgressTTL 分批进度有效期
const ProgressTTL = time.Hour

// ProgressRepo 分批同步进度
type ProgressRepo struct {
	store kv.Store
}

// NewProgressRepo 创建 ProgressRepo
func NewProgressRepo(store kv.Store) *ProgressRepo {
	return &ProgressRepo{store: store}
}

// Load 读取进度；不存在或损坏时返回零值
func (r *ProgressRepo) Load(ctx context.Context, userID string) (model.SyncProgress, error) {
	var p model.SyncProgress
	raw, err := r.store.Get(ctx, ProgressKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("load progress: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.SyncProgress{}, nil
	}
	return p, nil
}

// Save 写入进度（1 小时过期）
func (r *ProgressRepo) Save(ctx context.Context, userID string, p model.SyncProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return r.store.Put(ctx, ProgressKey(userID), raw, ProgressTTL)
}

// Clear 一轮同步完成后清除
func (r *ProgressRepo) Clear(ctx context.Context, userID string) error {
	return r.store.Delete(ctx, ProgressKey(userID))
}
