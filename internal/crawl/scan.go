package crawl

import (
	"context"

	"hnsync/internal/model"
	"hnsync/pkg/portal"
)

// Scan 首页 + 菜单链接（含手动搜索页）翻页收集 id；新 id 以 pending 插入，已有记录不覆盖
func (e *Engine) Scan(ctx context.Context, run *Run) Result {
	start := run.Budget.Count()
	changed := false

	insert := func(ids []string) {
		for _, id := range ids {
			if _, ok := run.Orders[id]; ok {
				continue
			}
			run.Orders[id] = &model.OrderRecord{ID: id, Status: model.OrderStatusPending}
			changed = true
		}
	}

	// 1. 首页
	if run.Budget.SoftExceeded() {
		return finish(run, start, Result{Outcome: BudgetExceeded})
	}
	var menu []portal.Link
	home, err := e.fetch(ctx, run, e.urls.Home)
	if err != nil {
		if stop := stopResult(err, changed); stop != nil {
			return finish(run, start, *stop)
		}
		e.logger.Warnf(ctx, "[Crawl] scan home page failed, falling back to manual search: %v", err)
	} else {
		insert(portal.ExtractIDs(home.Text()))
		menu = portal.ExtractMenuLinks(home.Text())
	}

	// 2. 菜单链接（只跟随门户内链接），手动搜索页总是追加
	var targets []string
	seen := make(map[string]bool)
	for _, l := range menu {
		if u := e.urls.Resolve(l.URL); u != "" && !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}
	if !seen[e.urls.ManualSearch] {
		targets = append(targets, e.urls.ManualSearch)
	}

	// 3. 每个链接最多翻 MaxPagesPerLink 页
	visited := map[string]bool{e.urls.Home: true}
	for _, target := range targets {
		page := target
		for n := 0; n < e.opts.MaxPagesPerLink && page != "" && !visited[page]; n++ {
			if run.Budget.SoftExceeded() {
				return finish(run, start, Result{Outcome: BudgetExceeded, Changed: changed})
			}
			if err := pause(ctx, e.opts.Delays.Scan); err != nil {
				return finish(run, start, *stopResult(err, changed))
			}
			visited[page] = true

			resp, err := e.fetch(ctx, run, page)
			if err != nil {
				if stop := stopResult(err, changed); stop != nil {
					return finish(run, start, *stop)
				}
				e.logger.Warnf(ctx, "[Crawl] scan page failed: url=%s, err=%v", page, err)
				break
			}
			insert(portal.ExtractIDs(resp.Text()))
			page = portal.ExtractNextLink(resp.Text(), page)
			if page != "" && !e.urls.Internal(page) {
				e.logger.Warnf(ctx, "[Crawl] scan skipped off-portal next link: %s", page)
				page = ""
			}
		}
	}

	e.logger.Infof(ctx, "[Crawl] scan done: known=%d, links=%d", len(run.Orders), len(targets))
	return finish(run, start, Result{Outcome: OK, Changed: changed})
}
