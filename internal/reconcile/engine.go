package reconcile

import (
	"time"

	"hnsync/internal/model"
)

// ResyncWindow 未完成工单仍值得重新抓取的窗口
const ResyncWindow = 7 * 24 * time.Hour

// Engine 同步状态计算与合并
type Engine struct {
	loc    *time.Location
	window time.Duration
}

// New 创建 Engine；loc 为门户时区（用于解释计划日期）
func New(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc, window: ResyncWindow}
}

// Classify 计算同步状态与是否需要重新抓取
//   - complete：有完成离场时间，终态，不再重抓
//   - incomplete：只有未完成离场时间，窗口内才重抓
//   - future：没有离场时间，总是重抓
func (e *Engine) Classify(o *model.OrderRecord, now time.Time) (model.SyncStatus, bool) {
	switch {
	case o.DepartureCompleteTs != nil:
		return model.SyncStatusComplete, false
	case o.DepartureIncompleteTs != nil:
		return model.SyncStatusIncomplete, e.withinWindow(o, now)
	default:
		return model.SyncStatusFuture, true
	}
}

// withinWindow 以未完成离场时间为准，否则以计划日期为准；都没有视为在窗口内
func (e *Engine) withinWindow(o *model.OrderRecord, now time.Time) bool {
	var ref time.Time
	switch {
	case o.DepartureIncompleteTs != nil:
		ref = *o.DepartureIncompleteTs
	case o.ScheduledDate != "":
		d, err := time.ParseInLocation("2006-01-02", o.ScheduledDate, e.loc)
		if err != nil {
			return true
		}
		ref = d
	default:
		return true
	}
	return now.Sub(ref) <= e.window
}

// Merge 将新解析的工单合并到已有记录
// 返回合并结果，以及是否发生付款状态变更（窗口内 incomplete -> complete）
func (e *Engine) Merge(prev *model.OrderRecord, parsed model.OrderRecord, now time.Time) (model.OrderRecord, bool) {
	out := parsed
	if prev != nil {
		if out.ID == "" {
			out.ID = prev.ID
		}
		keepPrior(&out, prev)
	}

	out.Status = ""
	out.SyncStatus, out.NeedsResync = e.Classify(&out, now)
	stamp := now
	out.LastSyncTimestamp = &stamp

	paymentUpdated := prev != nil &&
		prev.SyncStatus == model.SyncStatusIncomplete &&
		e.withinWindow(prev, now) &&
		out.SyncStatus == model.SyncStatusComplete
	if paymentUpdated {
		out.LastPaymentUpdateTimestamp = &stamp
	}
	return out, paymentUpdated
}

// keepPrior 新解析丢失的字段沿用旧值
func keepPrior(out, prev *model.OrderRecord) {
	str := func(dst *string, old string) {
		if *dst == "" {
			*dst = old
		}
	}
	str(&out.Address, prev.Address)
	str(&out.City, prev.City)
	str(&out.State, prev.State)
	str(&out.Zip, prev.Zip)
	str(&out.ScheduledDate, prev.ScheduledDate)
	str(&out.BeginTime, prev.BeginTime)
	if out.JobType == "" {
		out.JobType = prev.JobType
	}
	if out.BaseDurationMinutes == 0 {
		out.BaseDurationMinutes = prev.BaseDurationMinutes
	}

	out.HasPoleMount = out.HasPoleMount || prev.HasPoleMount
	out.HasWifiExtender = out.HasWifiExtender || prev.HasWifiExtender
	out.HasVoip = out.HasVoip || prev.HasVoip

	if out.ArrivalTs == nil {
		out.ArrivalTs = prev.ArrivalTs
	}
	if out.DepartureCompleteTs == nil {
		out.DepartureCompleteTs = prev.DepartureCompleteTs
	}
	if out.DepartureIncompleteTs == nil {
		out.DepartureIncompleteTs = prev.DepartureIncompleteTs
	}
	if out.LastPaymentUpdateTimestamp == nil {
		out.LastPaymentUpdateTimestamp = prev.LastPaymentUpdateTimestamp
	}
}

// FlagResync 下载前的预处理：为所有已分类工单重新计算 NeedsResync
// 返回标记发生变化的工单数
func (e *Engine) FlagResync(orders model.OrderSet, now time.Time) int {
	changed := 0
	for _, o := range orders {
		if o.SyncStatus == "" {
			continue
		}
		status, resync := e.Classify(o, now)
		if o.SyncStatus != status || o.NeedsResync != resync {
			changed++
		}
		o.SyncStatus = status
		o.NeedsResync = resync
	}
	return changed
}
