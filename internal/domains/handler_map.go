package domains

import (
	"hnsync/internal/domains/common"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/domains/handlers/order/ordersync"
)

// HandlerMap 路由表（ActionType → Handler 映射）
var HandlerMap = map[string]common.HandlerServProc{
	job.ActionSync: ordersync.NewSyncHandler,
}
