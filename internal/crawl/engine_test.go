package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hnsync/internal/model"
	"hnsync/internal/reconcile"
	"hnsync/internal/session"
	"hnsync/pkg/config"
	"hnsync/pkg/logger"
	"hnsync/pkg/portal"
)

var testNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

// fakePager 以 url -> html 表应答
type fakePager struct {
	budget  *portal.Budget
	pages   map[string]string
	errs    map[string]error
	codes   map[string]int
	fetched []string
}

func newFakePager(soft, hard int64) *fakePager {
	return &fakePager{
		budget: portal.NewBudget(soft, hard),
		pages:  make(map[string]string),
		errs:   make(map[string]error),
		codes:  make(map[string]int),
	}
}

// addOrders 为每个 id 准备一个可解析的详情页
func (p *fakePager) addOrders(ids ...string) {
	urls := testURLs()
	for _, id := range ids {
		p.pages[urls.Order(id)] = orderHTML(id+" Main St", "03/18/2024")
	}
}

func (p *fakePager) Fetch(_ context.Context, url string) (*portal.Response, error) {
	if err := p.budget.Reserve(); err != nil {
		return nil, err
	}
	p.fetched = append(p.fetched, url)
	if err, ok := p.errs[url]; ok {
		return nil, err
	}
	if code, ok := p.codes[url]; ok {
		return &portal.Response{StatusCode: code, Body: []byte("<html>Server Error</html>"), URL: url}, nil
	}
	if html, ok := p.pages[url]; ok {
		return &portal.Response{StatusCode: 200, Body: []byte(html), URL: url}, nil
	}
	return &portal.Response{StatusCode: 404, Body: []byte("<html>Not found</html>"), URL: url}, nil
}

func testURLs() portal.URLs {
	return portal.NewURLs(config.PortalConfig{
		BaseURL:          "https://portal.test",
		LoginPath:        "/login",
		HomePath:         "/home",
		OrderPath:        "/serviceorder/view?id=%s",
		ManualSearchPath: "/serviceorder/search",
	})
}

func newTestEngine(opts Options) *Engine {
	e := NewEngine(testURLs(), reconcile.New(time.UTC), time.UTC, opts, logger.NewNop())
	e.now = func() time.Time { return testNow }
	return e
}

func orderHTML(address, date string) string {
	return fmt.Sprintf(`<table>
<tr><th>Address</th><td>%s</td></tr>
<tr><th>City</th><td>Springfield</td></tr>
<tr><th>State</th><td>IL</td></tr>
<tr><th>Scheduled Date</th><td>%s</td></tr>
<tr><th>Job Type</th><td>Repair</td></tr>
</table>`, address, date)
}

func orderLink(id int) string {
	return fmt.Sprintf(`<a href="/serviceorder/view?id=%d">%d</a>`, id, id)
}

func orderURLs(ids ...int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, testURLs().Order(fmt.Sprintf("%d", id)))
	}
	return out
}

func TestScan_InsertsPendingAndFollowsPagination(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()

	pager.pages[urls.Home] = `<nav><a href="/list">Orders</a></nav>` + orderLink(20000001) + orderLink(20000002)
	pager.pages["https://portal.test/list"] = orderLink(20000101) + `<a rel="next" href="/list?page=2">Next</a>`
	for n := 2; n <= 7; n++ {
		pager.pages[fmt.Sprintf("https://portal.test/list?page=%d", n)] =
			orderLink(20000100+n) + fmt.Sprintf(`<a rel="next" href="/list?page=%d">Next</a>`, n+1)
	}
	pager.pages[urls.ManualSearch] = orderLink(20000900)

	existing := &model.OrderRecord{ID: "20000001", Address: "1 A St", SyncStatus: model.SyncStatusComplete}
	run := NewRun(pager, pager.budget, model.OrderSet{"20000001": existing})

	res := e.Scan(context.Background(), run)
	require.Equal(t, OK, res.Outcome, res.Err)
	assert.True(t, res.Changed)

	// 已有记录不被覆盖
	assert.Same(t, existing, run.Orders["20000001"])
	assert.Equal(t, model.OrderStatusPending, run.Orders["20000002"].Status)

	// 每个链接最多 5 页：page 1..5
	for n := 1; n <= 5; n++ {
		assert.Contains(t, run.Orders, fmt.Sprintf("%d", 20000100+n))
	}
	assert.NotContains(t, run.Orders, "20000106")
	assert.NotContains(t, run.Orders, "20000107")

	// 手动搜索页总是追加
	assert.Contains(t, run.Orders, "20000900")
	assert.Equal(t, int64(1+5+1), res.Requests)
}

func TestScan_NeverLeavesThePortal(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()

	pager.pages[urls.Home] = `<nav><a href="https://evil.example/collect">Help</a>` +
		`<a href="http://portal.test/plain">Plain</a><a href="/list">Orders</a></nav>`
	pager.pages["https://portal.test/list"] = orderLink(20000101) +
		`<a rel="next" href="https://evil.example/list?page=2">Next</a>`
	pager.pages[urls.ManualSearch] = orderLink(20000900)

	run := NewRun(pager, pager.budget, nil)
	res := e.Scan(context.Background(), run)
	require.Equal(t, OK, res.Outcome, res.Err)

	assert.Equal(t, []string{urls.Home, "https://portal.test/list", urls.ManualSearch}, pager.fetched)
	assert.Contains(t, run.Orders, "20000101")
	assert.Contains(t, run.Orders, "20000900")
}

func TestScan_HomePageErrorFallsBackToManualSearch(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	pager.codes[urls.Home] = 502
	pager.pages[urls.ManualSearch] = orderLink(20000900)

	run := NewRun(pager, pager.budget, nil)
	res := e.Scan(context.Background(), run)
	require.Equal(t, OK, res.Outcome, res.Err)
	assert.Equal(t, []string{urls.Home, urls.ManualSearch}, pager.fetched)
	assert.Contains(t, run.Orders, "20000900")
}

func TestScan_SoftBudgetStopsEarly(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(1, 10)
	urls := testURLs()
	pager.pages[urls.Home] = orderLink(20000001)

	run := NewRun(pager, pager.budget, nil)
	res := e.Scan(context.Background(), run)

	assert.Equal(t, BudgetExceeded, res.Outcome)
	assert.True(t, res.Changed)
	assert.Contains(t, run.Orders, "20000001")
	assert.Len(t, pager.fetched, 1)
}

func TestGapFill_FetchesOnlyGapsStrictlyInsideBounds(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	pager.pages[urls.Order("1002")] = orderHTML("2 B St", "03/19/2024")

	run := NewRun(pager, pager.budget, model.OrderSet{
		"1000": {ID: "1000"},
		"1003": {ID: "1003"},
		"1053": {ID: "1053"}, // 间隔 50：跳过
		"1102": {ID: "1102"}, // 间隔 49：探测 48 个
		"1103": {ID: "1103"}, // 间隔 1：无空洞
	})

	res := e.GapFill(context.Background(), run)
	require.Equal(t, OK, res.Outcome)
	assert.True(t, res.Changed)

	assert.Len(t, pager.fetched, 2+48)
	assert.Equal(t, orderURLs(1001, 1002), pager.fetched[:2])
	for _, u := range pager.fetched {
		assert.NotContains(t, u, "id=1004")
		assert.NotContains(t, u, "id=1052")
	}

	require.Contains(t, run.Orders, "1002")
	assert.Equal(t, "2 B St", run.Orders["1002"].Address)
	assert.NotContains(t, run.Orders, "1001", "unresolved ids are discarded")
	assert.True(t, run.ChangedDates["2024-03-19"])
}

func TestBackward_StopsAfterConsecutiveMisses(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	run := NewRun(pager, pager.budget, model.OrderSet{"5000": {ID: "5000"}})

	res := e.Backward(context.Background(), run)
	require.Equal(t, OK, res.Outcome)
	assert.False(t, res.Changed)
	assert.Len(t, pager.fetched, 50)
	assert.Equal(t, orderURLs(4999)[0], pager.fetched[0])
	assert.Equal(t, orderURLs(4950)[0], pager.fetched[49])
}

func TestBackward_NeverExceedsLookupCap(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	for id := 4998; id > 4000; id -= 2 {
		pager.pages[urls.Order(fmt.Sprintf("%d", id))] = orderHTML(fmt.Sprintf("%d Elm St", id), "03/01/2024")
	}
	run := NewRun(pager, pager.budget, model.OrderSet{"5000": {ID: "5000"}})

	res := e.Backward(context.Background(), run)
	require.Equal(t, OK, res.Outcome)
	assert.True(t, res.Changed)
	assert.Len(t, pager.fetched, 100)
	assert.Len(t, run.Orders, 1+50)
}

func TestBackward_StopsAtIDOne(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	run := NewRun(pager, pager.budget, model.OrderSet{"3": {ID: "3"}})

	res := e.Backward(context.Background(), run)
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, orderURLs(2, 1), pager.fetched)
}

func TestDownload_NewestFirstAndMerge(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	for _, id := range []string{"10000001", "10000002", "10000003"} {
		pager.pages[urls.Order(id)] = orderHTML(id+" Oak Ave", "03/18/2024")
	}

	run := NewRun(pager, pager.budget, model.OrderSet{
		"10000001": {ID: "10000001", Status: model.OrderStatusPending},
		"10000003": {ID: "10000003", Status: model.OrderStatusPending},
		"10000002": {ID: "10000002", Address: "old", City: "X", State: "IL", NeedsResync: true, SyncStatus: model.SyncStatusFuture},
		"9":        {ID: "9", Address: "done", SyncStatus: model.SyncStatusComplete},
	})

	res := e.Download(context.Background(), run, false, nil)
	require.Equal(t, OK, res.Outcome)
	assert.True(t, res.Changed)
	assert.Equal(t, orderURLs(10000003, 10000002, 10000001), pager.fetched)
	assert.Equal(t, 3, run.Downloaded)

	o := run.Orders["10000001"]
	assert.Equal(t, "10000001 Oak Ave", o.Address)
	assert.Empty(t, o.Status)
	assert.Equal(t, model.JobTypeRepair, o.JobType)
	assert.Equal(t, model.SyncStatusFuture, o.SyncStatus)
	assert.True(t, run.ChangedDates["2024-03-18"])
}

func TestDownload_RecentOnly(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)

	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": {ID: "2", Address: "a", NeedsResync: true, ScheduledDate: "2024-03-01"},
		"3": {ID: "3", Address: "b", NeedsResync: true, ScheduledDate: "2024-03-15"},
	})

	assert.Equal(t, []string{"3", "1"}, e.Due(run.Orders, true))
	assert.Equal(t, []string{"3", "2", "1"}, e.Due(run.Orders, false))
}

func TestDownload_SoftBudgetReturnsIncomplete(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(2, 10)
	pager.addOrders("1", "2", "3")
	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": {ID: "2", Status: model.OrderStatusPending},
		"3": {ID: "3", Status: model.OrderStatusPending},
	})

	res := e.Download(context.Background(), run, false, nil)
	assert.Equal(t, BudgetExceeded, res.Outcome)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, run.Downloaded)
	assert.Equal(t, model.OrderStatusPending, run.Orders["1"].Status)
}

func TestDownload_HardLimitAborts(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 1)
	pager.addOrders("1", "2")
	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": {ID: "2", Status: model.OrderStatusPending},
	})

	res := e.Download(context.Background(), run, false, nil)
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, portal.ErrHardLimit)
	assert.True(t, res.Changed)
}

func TestDownload_SessionExpiredIsFatal(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	pager.errs[testURLs().Order("2")] = session.ErrSessionExpired
	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": {ID: "2", Status: model.OrderStatusPending},
	})

	res := e.Download(context.Background(), run, false, nil)
	assert.Equal(t, Fatal, res.Outcome)
	assert.ErrorIs(t, res.Err, session.ErrSessionExpired)
	assert.Len(t, pager.fetched, 1, "newest id fails first and stops the stage")
}

func TestDownload_PerItemFailureKeepsPriorState(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	pager.errs[urls.Order("2")] = errors.New("connection reset")
	pager.pages[urls.Order("1")] = orderHTML("1 A St", "03/18/2024")

	prior := &model.OrderRecord{ID: "2", Status: model.OrderStatusPending}
	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": prior,
	})

	res := e.Download(context.Background(), run, false, nil)
	require.Equal(t, OK, res.Outcome)
	assert.Same(t, prior, run.Orders["2"])
	assert.Equal(t, model.OrderStatusPending, run.Orders["2"].Status)
	assert.Equal(t, "1 A St", run.Orders["1"].Address)
}

func TestDownload_ErrorStatusKeepsPriorState(t *testing.T) {
	e := newTestEngine(Options{})
	pager := newFakePager(0, 0)
	urls := testURLs()
	pager.codes[urls.Order("2")] = 500
	pager.codes[urls.Order("3")] = 404
	pager.addOrders("1")

	prior := &model.OrderRecord{ID: "2", Status: model.OrderStatusPending}
	resync := &model.OrderRecord{ID: "3", Address: "3 C St", NeedsResync: true, SyncStatus: model.SyncStatusFuture}
	run := NewRun(pager, pager.budget, model.OrderSet{
		"1": {ID: "1", Status: model.OrderStatusPending},
		"2": prior,
		"3": resync,
	})

	res := e.Download(context.Background(), run, false, nil)
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, 1, run.Downloaded)
	assert.Len(t, pager.fetched, 3)

	assert.Same(t, prior, run.Orders["2"])
	assert.Equal(t, model.OrderStatusPending, prior.Status)
	assert.Nil(t, prior.LastSyncTimestamp)

	assert.Same(t, resync, run.Orders["3"])
	assert.True(t, resync.NeedsResync)
	assert.Equal(t, "3 C St", resync.Address)

	assert.False(t, run.ChangedDates[""])
	assert.True(t, run.ChangedDates["2024-03-18"])
}

func TestDownload_Checkpoint(t *testing.T) {
	e := newTestEngine(Options{CheckpointEvery: 2})
	pager := newFakePager(0, 0)
	pager.addOrders("1", "2", "3", "4", "5", "7", "8")
	orders := model.OrderSet{}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("%d", i)
		orders[id] = &model.OrderRecord{ID: id, Status: model.OrderStatusPending}
	}
	run := NewRun(pager, pager.budget, orders)

	calls := 0
	res := e.Download(context.Background(), run, false, func(context.Context) error {
		calls++
		return nil
	})
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, 2, calls)

	failing := NewRun(pager, pager.budget, model.OrderSet{
		"7": {ID: "7", Status: model.OrderStatusPending},
		"8": {ID: "8", Status: model.OrderStatusPending},
	})
	res = e.Download(context.Background(), failing, false, func(context.Context) error {
		return errors.New("store unavailable")
	})
	assert.Equal(t, Fatal, res.Outcome)
	assert.True(t, strings.Contains(res.Err.Error(), "store unavailable"))
}

func TestStages_CancelledContextAborts(t *testing.T) {
	e := newTestEngine(Options{Delays: Delays{Download: time.Hour}})
	pager := newFakePager(0, 0)
	run := NewRun(pager, pager.budget, model.OrderSet{"1": {ID: "1", Status: model.OrderStatusPending}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Download(ctx, run, false, nil)
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, pager.fetched)
}
