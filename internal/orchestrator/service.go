package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hnsync/internal/crawl"
	"hnsync/internal/credentials"
	"hnsync/internal/lock"
	"hnsync/internal/model"
	"hnsync/internal/reconcile"
	"hnsync/internal/session"
	"hnsync/internal/store"
	"hnsync/internal/trip"
	"hnsync/pkg/config"
	"hnsync/pkg/errorutil"
	"hnsync/pkg/geo"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
	"hnsync/pkg/metrics"
	"hnsync/pkg/portal"
)

// Request 同步入参
type Request struct {
	UserID      string         `json:"user_id"`
	PayRates    model.PayRates `json:"pay_rates"`
	HomeAddress string         `json:"home_address,omitempty"`
	SkipScan    bool           `json:"skip_scan,omitempty"`
	RecentOnly  bool           `json:"recent_only,omitempty"`
	ForceDates  []string       `json:"force_dates,omitempty"`
}

// Result 同步结果
type Result struct {
	Orders       []model.OrderRecord  `json:"orders"`
	Incomplete   bool                 `json:"incomplete"`
	StoppedAt    string               `json:"stopped_at,omitempty"` // 预算耗尽时所在阶段
	Conflicts    []model.ConflictInfo `json:"conflicts"`
	TripsWritten int                  `json:"trips_written"`
	Requests     int64                `json:"requests"`
}

// Deps 外部依赖
type Deps struct {
	Store       kv.Store
	Credentials credentials.Source
	Router      geo.Router
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// Service 同步编排
type Service struct {
	cfg *config.Config

	orders    *store.OrderRepo
	trips     *store.TripRepo
	progress  *store.ProgressRepo
	locks     *lock.Manager
	sessions  *session.Manager
	crawler   *crawl.Engine
	reconcile *reconcile.Engine
	builder   *trip.Builder

	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

// New 创建同步服务
func New(cfg *config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	loc := cfg.Location()
	urls := portal.NewURLs(cfg.Portal)
	rec := reconcile.New(loc)
	tripRepo := store.NewTripRepo(deps.Store, log)

	return &Service{
		cfg:      cfg,
		orders:   store.NewOrderRepo(deps.Store, log),
		trips:    tripRepo,
		progress: store.NewProgressRepo(deps.Store),
		locks: lock.NewManager(deps.Store, lock.Options{
			TTL:        cfg.Sync.LockTTL,
			RetryDelay: cfg.Sync.LockRetryDelay,
			Settle:     cfg.Sync.LockSettle,
		}, log),
		sessions: session.NewManager(deps.Store, deps.Credentials, urls, session.Options{
			CookieTTL:   cfg.Sync.SessionTTL,
			MaxAge:      cfg.Sync.SessionMaxAge,
			MaxRequests: cfg.Sync.SessionMaxRequests,
		}, log),
		crawler: crawl.NewEngine(urls, rec, loc, crawl.Options{
			Delays: crawl.Delays{
				Scan:     cfg.Sync.Delays.Scan,
				GapFill:  cfg.Sync.Delays.GapFill,
				Backward: cfg.Sync.Delays.Backward,
				Download: cfg.Sync.Delays.Download,
			},
			CheckpointEvery: cfg.Sync.CheckpointEvery,
		}, log),
		reconcile: rec,
		builder:   trip.NewBuilder(deps.Router, tripRepo, loc, log),
		metrics:   deps.Metrics,
		logger:    log,
		now:       time.Now,
	}
}

// Orders 读取用户工单快照
func (s *Service) Orders(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	orders, _, err := s.orders.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return orders.List(), nil
}

// Trip 读取用户某日行程；不存在返回 nil
func (s *Service) Trip(ctx context.Context, userID, date string) (*model.TripRecord, error) {
	return s.trips.Get(ctx, userID, date)
}

// Sync 执行一次同步：加锁 -> 会话 -> 抓取各阶段 -> 对账 -> 行程 -> 解锁
func (s *Service) Sync(ctx context.Context, req Request) (res *Result, err error) {
	if req.UserID == "" {
		return nil, errorutil.NonRetriable("user_id is required")
	}
	req = s.withDefaults(req)

	owner := uuid.NewString()
	ctx = logger.WithUserID(ctx, req.UserID)
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, owner)
	}
	started := s.now()
	defer func() {
		s.metrics.Sync(outcomeOf(res, err))
		s.logger.Infof(ctx, "[Sync] finished: outcome=%s, elapsed=%s", outcomeOf(res, err), s.now().Sub(started))
	}()

	// 1. 加锁
	lockKey := store.LockKey(req.UserID)
	if !s.locks.WaitForLock(ctx, lockKey, owner, s.cfg.Sync.LockRetries) {
		return nil, errorutil.Lock(req.UserID)
	}
	defer s.locks.Release(context.WithoutCancel(ctx), lockKey, owner)

	// 2. 快照
	orders, raw, err := s.orders.Load(ctx, req.UserID)
	if err != nil {
		return nil, errorutil.RetriableWithDetails("load orders failed", err.Error())
	}

	// 3. 会话
	client := portal.NewClient(portal.NewBudget(s.cfg.Portal.SoftLimit, s.cfg.Portal.HardLimit), s.cfg.Portal.Timeout, s.cfg.Portal.UserAgent)
	sess := s.sessions.Open(client, req.UserID)
	cookie, err := sess.EnsureSessionCookie(ctx)
	if err != nil {
		return nil, errorutil.Session(err)
	}
	if cookie == "" {
		return nil, errorutil.Session(credentials.ErrNoCredentials)
	}

	run := crawl.NewRun(sess, client.Budget(), orders)
	res = &Result{}
	defer func() {
		if res != nil {
			res.Orders = run.Orders.List()
			res.Requests = client.Budget().Count()
		}
	}()

	// 4. 发现阶段（按进度续跑）
	if !req.SkipScan {
		stopped, err := s.discover(ctx, req.UserID, run, res)
		if err != nil {
			return nil, err
		}
		if stopped {
			return res, nil
		}
	}

	// 5. 下载 + 行程（失败回滚）
	if err := s.withRollback(ctx, req.UserID, raw, func() error {
		return s.downloadAndBuild(ctx, req, run, res)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// withDefaults 未指定的计费参数与住址取配置
func (s *Service) withDefaults(req Request) Request {
	if req.PayRates == (model.PayRates{}) {
		req.PayRates = s.cfg.Sync.PayRates
	}
	if req.HomeAddress == "" {
		req.HomeAddress = s.cfg.Sync.HomeAddress
	}
	return req
}

type stageFunc func(ctx context.Context, run *crawl.Run) crawl.Result

// discover 依次执行 scan / gap-fill / backward；返回 true 表示预算耗尽提前返回
func (s *Service) discover(ctx context.Context, userID string, run *crawl.Run, res *Result) (bool, error) {
	progress, err := s.progress.Load(ctx, userID)
	if err != nil {
		s.logger.Warnf(ctx, "[Sync] load progress failed, starting over: %v", err)
		progress = model.SyncProgress{}
	}
	if progress.StartedAt.IsZero() {
		progress.StartedAt = s.now().UTC()
	}

	stages := []struct {
		name string
		done *bool
		fn   stageFunc
	}{
		{"scan", &progress.ScanDone, s.crawler.Scan},
		{"gap_fill", &progress.GapFillDone, s.crawler.GapFill},
		{"backward", &progress.BackwardDone, s.crawler.Backward},
	}

	for _, st := range stages {
		if *st.done {
			s.logger.Debugf(ctx, "[Sync] stage %s already done, skipping", st.name)
			continue
		}

		r := s.runStage(ctx, st.name, run, st.fn)
		if r.Changed {
			if err := s.persist(ctx, userID, run.Orders); err != nil {
				return false, errorutil.RetriableWithDetails("persist orders failed", err.Error())
			}
		}

		switch r.Outcome {
		case crawl.OK:
			*st.done = true
			s.saveProgress(ctx, userID, progress)
		case crawl.BudgetExceeded, crawl.Aborted:
			s.saveProgress(ctx, userID, progress)
			res.Incomplete = true
			res.StoppedAt = st.name
			return true, nil
		case crawl.Fatal:
			if errors.Is(r.Err, session.ErrSessionExpired) {
				return false, errorutil.Session(r.Err)
			}
			return false, errorutil.RetriableWithDetails("stage "+st.name+" failed", r.Err.Error())
		}
	}
	return false, nil
}

// downloadAndBuild 重抓标记 -> 下载 -> 行程
func (s *Service) downloadAndBuild(ctx context.Context, req Request, run *crawl.Run, res *Result) error {
	// 1. 先持久化重抓标记，再由下载阶段消费
	if n := s.reconcile.FlagResync(run.Orders, s.now()); n > 0 {
		s.logger.Infof(ctx, "[Sync] flagged %d orders for resync", n)
		if err := s.persist(ctx, req.UserID, run.Orders); err != nil {
			return err
		}
	}

	// 2. 下载
	checkpoint := func(ctx context.Context) error {
		return s.persist(ctx, req.UserID, run.Orders)
	}
	r := s.runStage(ctx, "download", run, func(ctx context.Context, run *crawl.Run) crawl.Result {
		return s.crawler.Download(ctx, run, req.RecentOnly, checkpoint)
	})
	if r.Changed {
		if err := s.persist(ctx, req.UserID, run.Orders); err != nil {
			return err
		}
	}
	switch r.Outcome {
	case crawl.BudgetExceeded, crawl.Aborted:
		res.Incomplete = true
		res.StoppedAt = "download"
	case crawl.Fatal:
		if errors.Is(r.Err, session.ErrSessionExpired) {
			return errorutil.Session(r.Err)
		}
		return r.Err
	}

	// 3. 行程（只依赖已持久化的工单，不消耗门户预算）
	out, err := s.builder.Build(ctx, trip.Input{
		UserID:       req.UserID,
		Orders:       run.Orders,
		ChangedDates: run.ChangedDates,
		ForceDates:   req.ForceDates,
		RecentOnly:   req.RecentOnly,
		HomeAddress:  req.HomeAddress,
		PayRates:     req.PayRates,
	})
	if err != nil {
		return err
	}
	res.Conflicts = out.Conflicts
	res.TripsWritten = len(out.Written)
	s.metrics.Conflicts(len(out.Conflicts))
	s.metrics.TripsWritten(len(out.Written))

	// 4. 完整结束后清空阶段进度，下次从头发现
	if !res.Incomplete {
		if err := s.progress.Clear(context.WithoutCancel(ctx), req.UserID); err != nil {
			s.logger.Warnf(ctx, "[Sync] clear progress failed: %v", err)
		}
	}
	return nil
}

// runStage 执行单个阶段并记录指标
func (s *Service) runStage(ctx context.Context, name string, run *crawl.Run, fn stageFunc) crawl.Result {
	ctx = logger.WithStage(ctx, name)
	t0 := s.now()
	r := fn(ctx, run)
	elapsed := s.now().Sub(t0)

	s.metrics.Stage(name, r.Outcome.String(), r.Requests, elapsed)
	if r.Err != nil {
		s.logger.Warnf(ctx, "[Sync] stage %s: outcome=%s, requests=%d, err=%v", name, r.Outcome, r.Requests, r.Err)
	} else {
		s.logger.Infof(ctx, "[Sync] stage %s: outcome=%s, requests=%d, known=%d", name, r.Outcome, r.Requests, len(run.Orders))
	}
	return r
}

// persist 写回工单快照（调用方取消后仍需落盘）
func (s *Service) persist(ctx context.Context, userID string, orders model.OrderSet) error {
	return s.orders.Save(context.WithoutCancel(ctx), userID, orders)
}

func (s *Service) saveProgress(ctx context.Context, userID string, p model.SyncProgress) {
	if err := s.progress.Save(context.WithoutCancel(ctx), userID, p); err != nil {
		s.logger.Warnf(ctx, "[Sync] save progress failed: %v", err)
	}
}

// outcomeOf 指标标签
func outcomeOf(res *Result, err error) string {
	if err != nil {
		return string(errorutil.KindOf(err))
	}
	if res != nil && res.Incomplete {
		return "incomplete"
	}
	return "ok"
}
