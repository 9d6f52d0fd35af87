package user

import (
	"context"

	"hnsync/internal/model"
	"hnsync/internal/orchestrator"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

// SyncService 同步引擎（orchestrator.Service 实现）
type SyncService interface {
	Sync(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Orders(ctx context.Context, userID string) ([]model.OrderRecord, error)
	Trip(ctx context.Context, userID, date string) (*model.TripRecord, error)
}

// CredentialStore 门户凭据存储
type CredentialStore interface {
	Save(ctx context.Context, userID, username, password string) error
	Delete(ctx context.Context, userID string) error
}

// UserHandler 用户同步 HTTP 处理器
type UserHandler struct {
	service     SyncService
	credentials CredentialStore   // 可为 nil（未配置加密密钥）
	queue       lmstfyx.Publisher // 可为 nil（不支持异步）
	queueName   string
	logger      logger.Logger
}

// NewUserHandler 创建处理器实例
func NewUserHandler(service SyncService, credentials CredentialStore, queue lmstfyx.Publisher, queueName string, log logger.Logger) *UserHandler {
	return &UserHandler{
		service:     service,
		credentials: credentials,
		queue:       queue,
		queueName:   queueName,
		logger:      log,
	}
}
