package common

import (
	"context"

	"hnsync/internal/business"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/domains/common/response"
)

// Deps Handler 依赖
type Deps struct {
	SyncService *business.SyncService
}

// HandlerServProc Handler 构造函数类型
type HandlerServProc func(ctx context.Context, deps *Deps, meta *job.Meta, payload interface{}) (HandlerServ, error)

// HandlerServ Handler 接口
type HandlerServ interface {
	GetProcess() *response.Response
}
