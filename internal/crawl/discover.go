package crawl

import (
	"context"
)

// GapFill 对相邻已知 id 间隔在 (1, GapMax) 内的空洞逐个探测；解析不出地址的 id 丢弃
func (e *Engine) GapFill(ctx context.Context, run *Run) Result {
	start := run.Budget.Count()
	changed := false
	found := 0

	ids := run.Orders.NumericIDs()
	for i := 0; i+1 < len(ids); i++ {
		lo, hi := ids[i], ids[i+1]
		gap := hi - lo
		if gap <= 1 || gap >= int64(e.opts.GapMax) {
			continue
		}

		for id := lo + 1; id < hi; id++ {
			if run.Budget.SoftExceeded() {
				return finish(run, start, Result{Outcome: BudgetExceeded, Changed: changed})
			}
			ok, stop := e.probe(ctx, run, id, e.opts.Delays.GapFill)
			if stop != nil {
				stop.Changed = changed
				return finish(run, start, *stop)
			}
			if ok {
				changed = true
				found++
			}
		}
	}

	e.logger.Infof(ctx, "[Crawl] gap-fill done: found=%d", found)
	return finish(run, start, Result{Outcome: OK, Changed: changed})
}

// Backward 从最小 id 向下探测，连续未命中 BackwardMaxMisses 次或总计 BackwardMaxProbes 次即停止
func (e *Engine) Backward(ctx context.Context, run *Run) Result {
	start := run.Budget.Count()
	changed := false

	ids := run.Orders.NumericIDs()
	if len(ids) == 0 {
		return finish(run, start, Result{Outcome: OK})
	}

	misses, probes, found := 0, 0, 0
	for id := ids[0] - 1; id > 0; id-- {
		if probes >= e.opts.BackwardMaxProbes || misses >= e.opts.BackwardMaxMisses {
			break
		}
		if run.Budget.SoftExceeded() {
			return finish(run, start, Result{Outcome: BudgetExceeded, Changed: changed})
		}

		probes++
		ok, stop := e.probe(ctx, run, id, e.opts.Delays.Backward)
		if stop != nil {
			stop.Changed = changed
			return finish(run, start, *stop)
		}
		if ok {
			changed = true
			found++
			misses = 0
		} else {
			misses++
		}
	}

	e.logger.Infof(ctx, "[Crawl] backward done: probes=%d, found=%d", probes, found)
	return finish(run, start, Result{Outcome: OK, Changed: changed})
}
