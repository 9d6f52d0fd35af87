package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry KV 表结构
type Entry struct {
	Key       string         `gorm:"column:kv_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"column:kv_value"`
	ExpiresAt *time.Time     `gorm:"column:expires_at;index"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

// TableName 表名
func (Entry) TableName() string {
	return "hns_kv"
}

// GormStore 基于 MySQL 的 Store 实现，过期在读取时惰性清理
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenMySQL 打开 MySQL 连接
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewGormStore 创建 GormStore
func NewGormStore(db *gorm.DB, autoMigrate bool) (*GormStore, error) {
	if autoMigrate {
		if err := db.AutoMigrate(&Entry{}); err != nil {
			return nil, fmt.Errorf("auto migrate hns_kv failed: %w", err)
		}
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Get 读取
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("kv_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm get %s: %w", key, err)
	}

	if e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt) {
		// 惰性过期
		s.db.WithContext(ctx).Where("kv_key = ? AND expires_at = ?", key, *e.ExpiresAt).Delete(&Entry{})
		return nil, ErrNotFound
	}

	return []byte(e.Value), nil
}

// Put 写入（upsert）
func (s *GormStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := Entry{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: s.now(),
	}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		e.ExpiresAt = &exp
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "expires_at", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("gorm put %s: %w", key, err)
	}
	return nil
}

// Delete 删除
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("gorm delete %s: %w", key, err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
