package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hnsync/internal/model"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
)

// OrderRepo 用户工单快照（整体读改写）
type OrderRepo struct {
	store  kv.Store
	logger logger.Logger
}

// NewOrderRepo 创建 OrderRepo
func NewOrderRepo(store kv.Store, log logger.Logger) *OrderRepo {
	return &OrderRepo{store: store, logger: log}
}

// Load 读取快照，同时返回原始字节（用于回滚）
// 损坏的快照记录日志后重置为空集合，不向上传播
func (r *OrderRepo) Load(ctx context.Context, userID string) (model.OrderSet, []byte, error) {
	raw, err := r.store.Get(ctx, OrdersKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return model.OrderSet{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load orders: %w", err)
	}

	orders := model.OrderSet{}
	if err := json.Unmarshal(raw, &orders); err != nil {
		r.logger.Errorf(ctx, "[OrderRepo] corrupt order store reset to empty: user=%s, bytes=%d, err=%v",
			userID, len(raw), err)
		return model.OrderSet{}, raw, nil
	}

	for id, o := range orders {
		if o == nil {
			delete(orders, id)
			continue
		}
		if o.ID == "" {
			o.ID = id
		}
		o.Normalize()
	}
	return orders, raw, nil
}

// Save 写回整个快照
func (r *OrderRepo) Save(ctx context.Context, userID string, orders model.OrderSet) error {
	raw, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("marshal orders: %w", err)
	}
	if err := r.store.Put(ctx, OrdersKey(userID), raw, 0); err != nil {
		return fmt.Errorf("save orders: %w", err)
	}
	return nil
}

// Restore 原样写回快照；原快照不存在时删除 key
func (r *OrderRepo) Restore(ctx context.Context, userID string, raw []byte) error {
	if raw == nil {
		return r.store.Delete(ctx, OrdersKey(userID))
	}
	return r.store.Put(ctx, OrdersKey(userID), raw, 0)
}
