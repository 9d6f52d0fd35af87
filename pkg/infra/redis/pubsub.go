package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultSyncChannel 同步完成通知频道
const DefaultSyncChannel = "hns_sync_complete"

// PubSub Redis 发布/订阅客户端
type PubSub struct {
	client redis.UniversalClient
}

// NewPubSub 创建 PubSub 实例
func NewPubSub(addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &PubSub{client: client}, nil
}

// NewPubSubWithClient 复用已有连接（与 KV 存储共用）
func NewPubSubWithClient(client redis.UniversalClient) *PubSub {
	return &PubSub{client: client}
}

// SyncNotification 同步完成通知消息
type SyncNotification struct {
	RequestID    string `json:"request_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"` // SUCCESS / INCOMPLETE / FAILED
	TripsWritten int    `json:"trips_written"`
	Conflicts    int    `json:"conflicts"`
	Timestamp    int64  `json:"timestamp"`
}

// PublishSyncComplete 发布同步完成通知
// 参数：
//   - ctx: 上下文
//   - channel: Redis 频道名称（默认 hns_sync_complete）
//   - notification: 通知消息
func (p *PubSub) PublishSyncComplete(ctx context.Context, channel string, notification *SyncNotification) error {
	if channel == "" {
		channel = DefaultSyncChannel
	}

	msgJSON, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Subscribe 订阅 Redis 频道
func (p *PubSub) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return p.client.Subscribe(ctx, channel)
}

// Close 关闭 Redis 连接
func (p *PubSub) Close() error {
	return p.client.Close()
}
