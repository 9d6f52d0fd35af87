package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hnsync/internal/model"
	"hnsync/internal/reconcile"
	"hnsync/internal/session"
	"hnsync/pkg/logger"
	"hnsync/pkg/portal"
)

// Outcome 阶段结果
type Outcome int

const (
	// OK 阶段完成
	OK Outcome = iota
	// BudgetExceeded 达到软上限：持久化后以 incomplete 返回
	BudgetExceeded
	// Aborted 达到硬上限或被取消：立即停止
	Aborted
	// Fatal 会话失效等致命错误
	Fatal
)

// String 日志用
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case BudgetExceeded:
		return "budget_exceeded"
	case Aborted:
		return "aborted"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result 阶段返回值
type Result struct {
	Outcome  Outcome
	Err      error
	Changed  bool  // 内存中的工单集合是否有变更（需要持久化）
	Requests int64 // 本阶段发出的请求数
}

// Done 阶段是否完整结束
func (r Result) Done() bool {
	return r.Outcome == OK
}

// Pager 带会话的页面抓取（*session.Session 实现）
type Pager interface {
	Fetch(ctx context.Context, url string) (*portal.Response, error)
}

// Delays 各阶段请求间隔
type Delays struct {
	Scan     time.Duration
	GapFill  time.Duration
	Backward time.Duration
	Download time.Duration
}

// Options 抓取参数
type Options struct {
	Delays            Delays
	MaxPagesPerLink   int // 每个菜单链接最多翻页数
	GapMax            int // 只探测间隔 (1, GapMax) 的空洞
	BackwardMaxMisses int // 连续未命中上限
	BackwardMaxProbes int // 总探测上限
	CheckpointEvery   int // 下载多少个工单后回调一次 checkpoint
	RecentWindow      time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Delays: Delays{
			Scan:     200 * time.Millisecond,
			GapFill:  100 * time.Millisecond,
			Backward: 100 * time.Millisecond,
			Download: 50 * time.Millisecond,
		},
		MaxPagesPerLink:   5,
		GapMax:            50,
		BackwardMaxMisses: 50,
		BackwardMaxProbes: 100,
		CheckpointEvery:   10,
		RecentWindow:      7 * 24 * time.Hour,
	}
}

// Run 单次调用的抓取状态
type Run struct {
	Pager  Pager
	Budget *portal.Budget
	Orders model.OrderSet

	// ChangedDates 本轮内容发生变化的计划日期
	ChangedDates map[string]bool
	// Downloaded 本轮成功下载的工单数
	Downloaded int
}

// NewRun 创建抓取状态
func NewRun(pager Pager, budget *portal.Budget, orders model.OrderSet) *Run {
	if orders == nil {
		orders = model.OrderSet{}
	}
	return &Run{
		Pager:        pager,
		Budget:       budget,
		Orders:       orders,
		ChangedDates: make(map[string]bool),
	}
}

func (r *Run) markChanged(dates ...string) {
	for _, d := range dates {
		if d != "" {
			r.ChangedDates[d] = true
		}
	}
}

// Engine 抓取引擎（无状态）
type Engine struct {
	urls      portal.URLs
	reconcile *reconcile.Engine
	loc       *time.Location
	opts      Options
	logger    logger.Logger
	now       func() time.Time
}

// NewEngine 创建抓取引擎
func NewEngine(urls portal.URLs, rec *reconcile.Engine, loc *time.Location, opts Options, log logger.Logger) *Engine {
	def := DefaultOptions()
	if opts.MaxPagesPerLink <= 0 {
		opts.MaxPagesPerLink = def.MaxPagesPerLink
	}
	if opts.GapMax <= 0 {
		opts.GapMax = def.GapMax
	}
	if opts.BackwardMaxMisses <= 0 {
		opts.BackwardMaxMisses = def.BackwardMaxMisses
	}
	if opts.BackwardMaxProbes <= 0 {
		opts.BackwardMaxProbes = def.BackwardMaxProbes
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = def.RecentWindow
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		urls:      urls,
		reconcile: rec,
		loc:       loc,
		opts:      opts,
		logger:    log,
		now:       time.Now,
	}
}

// stopResult 请求错误转换为阶段结果；per-item 错误返回 nil
func stopResult(err error, changed bool) *Result {
	switch {
	case errors.Is(err, portal.ErrHardLimit):
		return &Result{Outcome: Aborted, Err: err, Changed: changed}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Result{Outcome: Aborted, Err: err, Changed: changed}
	case errors.Is(err, session.ErrSessionExpired):
		return &Result{Outcome: Fatal, Err: err, Changed: changed}
	default:
		return nil
	}
}

// pause 礼貌延迟（可取消）
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finish 填充请求数
func finish(run *Run, start int64, res Result) Result {
	res.Requests = run.Budget.Count() - start
	return res
}

// fetch 页面请求；4xx / 5xx 作为单项失败返回
func (e *Engine) fetch(ctx context.Context, run *Run, target string) (*portal.Response, error) {
	resp, err := run.Pager.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// probe 探测单个 id：能解析出地址则入库（返回 true）
func (e *Engine) probe(ctx context.Context, run *Run, id int64, delay time.Duration) (bool, *Result) {
	if err := pause(ctx, delay); err != nil {
		return false, stopResult(err, false)
	}

	sid := fmt.Sprintf("%d", id)
	resp, err := e.fetch(ctx, run, e.urls.Order(sid))
	if err != nil {
		if stop := stopResult(err, false); stop != nil {
			return false, stop
		}
		e.logger.Debugf(ctx, "[Crawl] probe %s failed: %v", sid, err)
		return false, nil
	}

	parsed := portal.ParseOrderPage(resp.Text(), sid, e.loc)
	if !parsed.HasAddress() {
		return false, nil
	}

	merged, _ := e.reconcile.Merge(nil, parsed, e.now())
	run.Orders[sid] = &merged
	run.markChanged(merged.ScheduledDate)
	return true, nil
}
