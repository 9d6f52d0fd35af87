package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hnsync/internal/domains/common/job"
	"hnsync/internal/model"
	"hnsync/internal/orchestrator"
	"hnsync/pkg/errorutil"
	"hnsync/pkg/infra/redis"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

// Syncer 同步引擎接口（orchestrator.Service 实现）
type Syncer interface {
	Sync(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Notifier 同步完成通知接口（Redis pub/sub 实现）
type Notifier interface {
	PublishSyncComplete(ctx context.Context, channel string, notification *redis.SyncNotification) error
}

// SyncPayload 同步任务业务数据
type SyncPayload struct {
	orchestrator.Request
	Continuation int `json:"continuation,omitempty"` // 第几次续跑，首次为 0
}

// SyncInput 同步入参
type SyncInput struct {
	RequestID string
	Payload   SyncPayload
}

// SyncServiceOptions 队列与续跑配置
type SyncServiceOptions struct {
	CallbackQueue     string
	ContinuationQueue string
	ContinuationDelay time.Duration
	MaxContinuations  int
	NotifyChannel     string
}

// SyncService 同步服务
// 职责：执行同步 → 预算耗尽时投递续跑任务 → 发送回调与通知
type SyncService struct {
	syncer    Syncer
	publisher lmstfyx.Publisher
	notifier  Notifier // 可选
	opts      SyncServiceOptions
	logger    logger.Logger
	now       func() time.Time
}

// NewSyncService 创建同步服务实例
func NewSyncService(syncer Syncer, publisher lmstfyx.Publisher, notifier Notifier, opts SyncServiceOptions, log logger.Logger) *SyncService {
	return &SyncService{
		syncer:    syncer,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
		logger:    log,
		now:       time.Now,
	}
}

// ExecuteSync 执行同步并发送回调
// 返回同步本身的错误；同步成功但回调发送失败时返回可重试错误
func (s *SyncService) ExecuteSync(ctx context.Context, input *SyncInput) (*model.SyncCallback, error) {
	// 1. 执行同步
	result, syncErr := s.syncer.Sync(ctx, input.Payload.Request)

	// 2. 预算耗尽：投递续跑任务
	continued := false
	if syncErr == nil && result.Incomplete {
		continued = s.continueLater(ctx, input)
	}

	// 3. 构造回调消息
	callback := s.buildCallback(input, result, syncErr, continued)

	// 4. 发送回调到 callback 队列（ttl=0 永不过期, delay=0 立即可用）
	callbackJSON, err := json.Marshal(callback)
	if err != nil {
		return callback, fmt.Errorf("failed to marshal callback: %w", err)
	}
	if pubErr := s.publisher.Publish(s.opts.CallbackQueue, callbackJSON, 0, 0); pubErr != nil {
		s.logger.Errorf(ctx, "[SyncService] publish callback failed: %v", pubErr)
		if syncErr == nil {
			syncErr = errorutil.RetriableWithDetails("publish callback failed", pubErr.Error())
		}
	}

	// 5. Redis 通知（尽力而为）
	s.notify(ctx, callback)

	return callback, syncErr
}

// continueLater 以相同参数投递延迟任务，进度记录保证从中断的阶段继续
func (s *SyncService) continueLater(ctx context.Context, input *SyncInput) bool {
	next := input.Payload.Continuation + 1
	if s.opts.MaxContinuations > 0 && next > s.opts.MaxContinuations {
		s.logger.Warnf(ctx, "[SyncService] continuation limit %d reached, not re-enqueuing", s.opts.MaxContinuations)
		return false
	}
	if s.opts.ContinuationQueue == "" {
		return false
	}

	payload := input.Payload
	payload.Continuation = next
	data, err := job.Marshal(job.New(input.RequestID, job.ActionSync, payload.UserID, payload))
	if err != nil {
		s.logger.Errorf(ctx, "[SyncService] build continuation failed: %v", err)
		return false
	}

	delay := uint32(s.opts.ContinuationDelay / time.Second)
	if err := s.publisher.Publish(s.opts.ContinuationQueue, data, 0, delay); err != nil {
		s.logger.Errorf(ctx, "[SyncService] publish continuation failed: %v", err)
		return false
	}
	s.logger.Infof(ctx, "[SyncService] continuation #%d enqueued, delay=%ds", next, delay)
	return true
}

// buildCallback 根据同步结果构造回调
func (s *SyncService) buildCallback(input *SyncInput, result *orchestrator.Result, syncErr error, continued bool) *model.SyncCallback {
	callback := &model.SyncCallback{
		RequestID:   input.RequestID,
		UserID:      input.Payload.UserID,
		Continued:   continued,
		ProcessedAt: s.now().Unix(),
	}

	if syncErr != nil {
		callback.Status = model.CallbackStatusFailed
		callback.Error = syncErr.Error()
		var e *errorutil.Error
		if errors.As(syncErr, &e) {
			callback.ErrorKind = string(e.Kind)
			callback.Retryable = e.Retryable
		}
		return callback
	}

	callback.Status = model.CallbackStatusSuccess
	if result.Incomplete {
		callback.Status = model.CallbackStatusIncomplete
	}
	callback.Orders = len(result.Orders)
	callback.TripsWritten = result.TripsWritten
	callback.Conflicts = result.Conflicts
	callback.StoppedAt = result.StoppedAt
	callback.Requests = result.Requests
	return callback
}

// notify 发布完成通知；失败只记录日志
func (s *SyncService) notify(ctx context.Context, callback *model.SyncCallback) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.PublishSyncComplete(ctx, s.opts.NotifyChannel, &redis.SyncNotification{
		RequestID:    callback.RequestID,
		UserID:       callback.UserID,
		Status:       callback.Status,
		TripsWritten: callback.TripsWritten,
		Conflicts:    len(callback.Conflicts),
		Timestamp:    callback.ProcessedAt,
	})
	if err != nil {
		s.logger.Warnf(ctx, "[SyncService] publish notification failed: %v", err)
	}
}
