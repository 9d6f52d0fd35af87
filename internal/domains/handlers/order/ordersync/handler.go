package ordersync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hnsync/internal/business"
	"hnsync/internal/domains/common"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/domains/common/response"
	"hnsync/pkg/errorutil"
)

const dateLayout = "2006-01-02"

// SyncHandler 工单同步 Handler
type SyncHandler struct {
	ctx     context.Context
	deps    *common.Deps
	meta    *job.Meta
	payload business.SyncPayload
}

// NewSyncHandler 创建同步 Handler
// 解析标准化 Job 消息
func NewSyncHandler(ctx context.Context, deps *common.Deps, meta *job.Meta, payload interface{}) (common.HandlerServ, error) {
	if deps == nil || deps.SyncService == nil {
		return nil, fmt.Errorf("sync service not configured")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}

	var bizData business.SyncPayload
	if err := json.Unmarshal(payloadBytes, &bizData); err != nil {
		return nil, fmt.Errorf("unmarshal business data failed: %w", err)
	}

	// 业务数据未带 user_id 时取 Job ID
	if bizData.UserID == "" {
		bizData.UserID = meta.ID
	}

	return &SyncHandler{
		ctx:     ctx,
		deps:    deps,
		meta:    meta,
		payload: bizData,
	}, nil
}

// GetProcess 处理同步请求
func (h *SyncHandler) GetProcess() *response.Response {
	result := response.NewSyncResult()

	err := h.process(result)

	resp := &response.Response{}
	resp.WrapResponse(result, h.meta, err)
	return resp
}

// process 校验后执行同步
func (h *SyncHandler) process(result *response.SyncResult) error {
	// 1. 参数校验（参数错误不可重试）
	if err := h.validate(); err != nil {
		return err
	}

	// 2. 执行同步并发送回调
	callback, err := h.deps.SyncService.ExecuteSync(h.ctx, &business.SyncInput{
		RequestID: h.meta.RequestID,
		Payload:   h.payload,
	})
	result.Callback = callback
	return err
}

// validate 检查全部参数，所有问题合并为一个错误返回
func (h *SyncHandler) validate() error {
	var problems []string

	if h.payload.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	for _, d := range h.payload.ForceDates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			problems = append(problems, fmt.Sprintf("force_dates: invalid date %q", d))
		}
	}
	if r := h.payload.PayRates; r.FuelPrice < 0 || r.VehicleMPG < 0 {
		problems = append(problems, "pay_rates: fuel_price and vehicle_mpg must not be negative")
	}
	if h.payload.Continuation < 0 {
		problems = append(problems, "continuation must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return errorutil.NonRetriable("invalid sync payload: " + strings.Join(problems, "; "))
}
