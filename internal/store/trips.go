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

// TripRepo 行程记录
type TripRepo struct {
	store  kv.Store
	logger logger.Logger
}

// NewTripRepo 创建 TripRepo
func NewTripRepo(store kv.Store, log logger.Logger) *TripRepo {
	return &TripRepo{store: store, logger: log}
}

// Get 读取行程；不存在或损坏时返回 nil
func (r *TripRepo) Get(ctx context.Context, userID, date string) (*model.TripRecord, error) {
	raw, err := r.store.Get(ctx, TripKey(userID, date))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %s: %w", date, err)
	}

	var trip model.TripRecord
	if err := json.Unmarshal(raw, &trip); err != nil {
		r.logger.Warnf(ctx, "[TripRepo] corrupt trip treated as absent: user=%s, date=%s, err=%v", userID, date, err)
		return nil, nil
	}
	return &trip, nil
}

// Put 写入行程
func (r *TripRepo) Put(ctx context.Context, trip *model.TripRecord) error {
	raw, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("marshal trip: %w", err)
	}
	if err := r.store.Put(ctx, TripKey(trip.UserID, trip.Date), raw, 0); err != nil {
		return fmt.Errorf("put trip %s: %w", trip.Date, err)
	}
	return nil
}
