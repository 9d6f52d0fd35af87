package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"hnsync/pkg/errorutil"
)

// withRollback 下载/行程阶段的任何错误或 panic 将工单存储恢复为同步开始时的快照
func (s *Service) withRollback(ctx context.Context, userID string, raw []byte, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Errorf(ctx, "[Sync] panic recovered: %v\n%s", p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
		if err == nil {
			return
		}
		// 会话错误同样回滚，但保持会话错误类型（提示用户重新连接）
		if errorutil.KindOf(err) == errorutil.KindSession {
			s.logger.Warnf(ctx, "[Sync] session lost mid-sync: %v", err)
			s.rollback(ctx, userID, raw)
			return
		}
		s.logger.Errorf(ctx, "[Sync] critical failure: %v", err)
		err = errorutil.Runtime(err, s.rollback(ctx, userID, raw))
	}()
	return fn()
}

// rollback 恢复工单快照并清除阶段进度；快照超过上限时不回滚，只告警
func (s *Service) rollback(ctx context.Context, userID string, raw []byte) bool {
	limit := s.cfg.Sync.RollbackMaxBytes
	if limit > 0 && len(raw) > limit {
		s.logger.Warnf(ctx, "[Sync] rollback disabled: snapshot %d bytes exceeds %d, order store left as-is", len(raw), limit)
		s.metrics.Rollback("skipped")
		return false
	}

	if err := s.orders.Restore(context.WithoutCancel(ctx), userID, raw); err != nil {
		s.logger.Errorf(ctx, "[Sync] rollback failed: %v", err)
		s.metrics.Rollback("failed")
		return false
	}
	s.logger.Warnf(ctx, "[Sync] order store rolled back to snapshot (%d bytes)", len(raw))
	s.metrics.Rollback("restored")

	// 快照之后发现的 id 随回滚丢弃，下次需要重新发现
	if err := s.progress.Clear(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Errorf(ctx, "[Sync] clear progress after rollback failed: %v", err)
	}
	return true
}
