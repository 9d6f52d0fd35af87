package user

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hnsync/internal/api/ginx"
	"hnsync/internal/business"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/model"
	"hnsync/internal/orchestrator"
	"hnsync/pkg/logger"
)

// SyncRequest 同步请求体（全部可选）
type SyncRequest struct {
	PayRates    *model.PayRates `json:"pay_rates"`
	HomeAddress string          `json:"home_address"`
	SkipScan    bool            `json:"skip_scan"`
	RecentOnly  bool            `json:"recent_only"`
	ForceDates  []string        `json:"force_dates" binding:"omitempty,dive,datetime=2006-01-02"`
}

// toRequest 转换为引擎入参
func (r SyncRequest) toRequest(userID string) orchestrator.Request {
	req := orchestrator.Request{
		UserID:      userID,
		HomeAddress: r.HomeAddress,
		SkipScan:    r.SkipScan,
		RecentOnly:  r.RecentOnly,
		ForceDates:  r.ForceDates,
	}
	if r.PayRates != nil {
		req.PayRates = *r.PayRates
	}
	return req
}

// Sync 触发同步
// POST /api/v1/users/:user_id/sync?async=1
func (h *UserHandler) Sync(c *gin.Context) {
	userID := c.Param("user_id")

	var body SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			ginx.BadRequestWithValidation(c, err)
			return
		}
	}
	req := body.toRequest(userID)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.enqueue(c, req)
		return
	}

	result, err := h.service.Sync(c.Request.Context(), req)
	if err != nil {
		h.logger.Warnf(c.Request.Context(), "[API] sync %s failed: %v", userID, err)
		ginx.FromError(c, err)
		return
	}
	ginx.Success(c, result)
}

// enqueue 投递到 worker 队列
func (h *UserHandler) enqueue(c *gin.Context, req orchestrator.Request) {
	if h.queue == nil {
		ginx.Error(c, http.StatusNotImplemented, "async sync is not configured")
		return
	}

	ctx := c.Request.Context()
	requestID := logger.TraceID(ctx)
	data, err := job.Marshal(job.New(requestID, job.ActionSync, req.UserID, business.SyncPayload{Request: req}))
	if err != nil {
		ginx.InternalError(c, err.Error())
		return
	}
	if err := h.queue.Publish(h.queueName, data, 0, 0); err != nil {
		h.logger.Errorf(ctx, "[API] enqueue sync %s failed: %v", req.UserID, err)
		ginx.Error(c, http.StatusServiceUnavailable, "enqueue sync failed")
		return
	}

	h.logger.Infof(ctx, "[API] sync %s enqueued to %s", req.UserID, h.queueName)
	ginx.Processing(c, ginx.ProcessingData{
		RequestID: requestID,
		UserID:    req.UserID,
		PollURL:   fmt.Sprintf("/api/v1/users/%s/orders", req.UserID),
	})
}
