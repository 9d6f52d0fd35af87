package crawl

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"time"

	"hnsync/internal/model"
	"hnsync/pkg/portal"
)

// Checkpoint 下载过程中的持久化回调
type Checkpoint func(ctx context.Context) error

// Due 需要下载详情的工单：pending、没有地址或需要重抓
func (e *Engine) Due(orders model.OrderSet, recentOnly bool) []string {
	cutoff := ""
	if recentOnly {
		cutoff = e.now().In(e.loc).Add(-e.opts.RecentWindow).Format("2006-01-02")
	}

	var due []string
	for id, o := range orders {
		if o.Status != model.OrderStatusPending && o.HasAddress() && !o.NeedsResync {
			continue
		}
		if recentOnly && o.ScheduledDate != "" && o.ScheduledDate < cutoff {
			continue
		}
		due = append(due, id)
	}

	// 新 id 优先
	sort.Slice(due, func(i, j int) bool {
		a, errA := strconv.ParseInt(due[i], 10, 64)
		b, errB := strconv.ParseInt(due[j], 10, 64)
		if errA == nil && errB == nil {
			return a > b
		}
		return due[i] > due[j]
	})
	return due
}

// Download 下载并合并工单详情
// 会话失效（刷新重试后仍是登录页）对整个同步是致命的；其它单个工单失败只记录日志
func (e *Engine) Download(ctx context.Context, run *Run, recentOnly bool, checkpoint Checkpoint) Result {
	start := run.Budget.Count()
	changed := false
	failed := 0

	due := e.Due(run.Orders, recentOnly)
	e.logger.Infof(ctx, "[Crawl] download start: due=%d, recent_only=%v", len(due), recentOnly)

	for _, id := range due {
		if run.Budget.SoftExceeded() {
			return finish(run, start, Result{Outcome: BudgetExceeded, Changed: changed})
		}
		if err := pause(ctx, e.opts.Delays.Download); err != nil {
			return finish(run, start, *stopResult(err, changed))
		}

		resp, err := e.fetch(ctx, run, e.urls.Order(id))
		if err != nil {
			if stop := stopResult(err, changed); stop != nil {
				return finish(run, start, *stop)
			}
			failed++
			e.logger.Warnf(ctx, "[Crawl] download %s failed, keeping prior state: %v", id, err)
			continue
		}

		prev := run.Orders[id]
		parsed := portal.ParseOrderPage(resp.Text(), id, e.loc)
		merged, paid := e.reconcile.Merge(prev, parsed, e.now())
		if prev == nil || paid || !sameContent(prev, &merged) {
			if prev != nil {
				run.markChanged(prev.ScheduledDate)
			}
			run.markChanged(merged.ScheduledDate)
		}
		run.Orders[id] = &merged
		run.Downloaded++
		changed = true

		if checkpoint != nil && e.opts.CheckpointEvery > 0 && run.Downloaded%e.opts.CheckpointEvery == 0 {
			if err := checkpoint(ctx); err != nil {
				return finish(run, start, Result{Outcome: Fatal, Err: err, Changed: changed})
			}
		}
	}

	e.logger.Infof(ctx, "[Crawl] download done: downloaded=%d, failed=%d", run.Downloaded, failed)
	return finish(run, start, Result{Outcome: OK, Changed: changed})
}

// sameContent 忽略同步时间戳与临时状态后比较
func sameContent(a, b *model.OrderRecord) bool {
	x, y := *a, *b
	x.LastSyncTimestamp, y.LastSyncTimestamp = nil, nil
	x.Status, y.Status = "", ""
	for _, o := range []*model.OrderRecord{&x, &y} {
		o.ArrivalTs = utc(o.ArrivalTs)
		o.DepartureCompleteTs = utc(o.DepartureCompleteTs)
		o.DepartureIncompleteTs = utc(o.DepartureIncompleteTs)
		o.LastPaymentUpdateTimestamp = utc(o.LastPaymentUpdateTimestamp)
	}
	return reflect.DeepEqual(x, y)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
