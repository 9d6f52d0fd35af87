package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bitleak/lmstfy/client"
	"github.com/google/uuid"

	"hnsync/internal/domains/common"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/domains/common/response"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

// GetProcess 返回核心处理函数（注入到 Processor）
func GetProcess(log logger.Logger, deps *common.Deps) lmstfyx.Proc {
	return func(ctx context.Context, lmstfyJob *client.Job) *lmstfyx.JobResp {
		startTime := time.Now()

		// 1. 解析 Job
		standardJob, meta, bizPayload, err := parseJob(ctx, lmstfyJob, log)
		if err != nil {
			log.Errorf(ctx, "[GetProcess] parseJob failed: %v", err)
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		}

		// 2. 注入 TraceID
		ctx = logger.WithTraceID(ctx, meta.RequestID)

		log.Infof(ctx, "[GetProcess] Processing job: action_type=%s, request_id=%s, id=%s",
			meta.ActionType, meta.RequestID, meta.ID)

		// 3. 从 HandlerMap 获取 Handler
		handlerFunc, ok := HandlerMap[standardJob.Payload.Data.ActionType]
		if !ok {
			log.Errorf(ctx, "[GetProcess] handler not found for action_type: %s", meta.ActionType)
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		}

		// 4. 调用 Handler（捕获 panic）
		var resp *lmstfyx.JobResp
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf(ctx, "[GetProcess] handler panic: %v\n%s", r, debug.Stack())
					resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
				}
			}()

			handler, err := handlerFunc(ctx, deps, meta, bizPayload)
			if err != nil {
				log.Errorf(ctx, "[GetProcess] handler creation failed: %v", err)
				resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
				return
			}

			resp = doJobReport(ctx, handler.GetProcess(), log)
		}()

		// 5. 记录处理时长
		log.Infof(ctx, "[GetProcess] Processing complete: action=%s, duration=%v", resp.Action, time.Since(startTime))

		return resp
	}
}

// parseJob 解析 Job
func parseJob(ctx context.Context, lmstfyJob *client.Job, log logger.Logger) (*job.Job, *job.Meta, interface{}, error) {
	// 1. 反序列化 Job
	var standardJob job.Job
	if err := json.Unmarshal(lmstfyJob.Data, &standardJob); err != nil {
		return nil, nil, nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	// 2. 校验必填字段
	if standardJob.Payload == nil || standardJob.Payload.Data == nil {
		return nil, nil, nil, fmt.Errorf("invalid job structure: payload.data is nil")
	}

	data := standardJob.Payload.Data

	// 3. 提取元数据
	meta := &job.Meta{
		RequestID:  data.RequestID,
		OrgID:      data.OrgID,
		ActionType: data.ActionType,
		ID:         data.ID,
	}

	// RequestID 为空则生成一个
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}

	log.Debugf(ctx, "[parseJob] Parsed: action_type=%s, request_id=%s, id=%s",
		meta.ActionType, meta.RequestID, meta.ID)

	return &standardJob, meta, data.Data, nil
}

// doJobReport 生成 JobResp（根据 Response 判断 ACK/Bury/Release）
func doJobReport(ctx context.Context, resp *response.Response, log logger.Logger) *lmstfyx.JobResp {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Errorf(ctx, "[doJobReport] marshal response failed: %v", err)
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
	}

	switch {
	case resp.Error == nil:
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess, Data: data}
	case resp.Retryable():
		log.Warnf(ctx, "[doJobReport] retryable failure: %s", resp.Error.Message)
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusRelease, Data: data}
	default:
		log.Errorf(ctx, "[doJobReport] non-retryable failure: %s", resp.Error.Message)
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury, Data: data}
	}
}
