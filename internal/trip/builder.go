package trip

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hnsync/internal/model"
	"hnsync/internal/store"
	"hnsync/pkg/geo"
	"hnsync/pkg/logger"
)

// ConflictWindow 人工编辑保护窗口：更早日期的人工编辑视为放弃同步，静默跳过
const ConflictWindow = 7 * 24 * time.Hour

// Input 一次行程构建的输入
type Input struct {
	UserID       string
	Orders       model.OrderSet
	ChangedDates map[string]bool
	ForceDates   []string
	RecentOnly   bool
	HomeAddress  string
	PayRates     model.PayRates
}

// Outcome 行程构建结果
type Outcome struct {
	Written   []string             // 已写入的日期
	Conflicts []model.ConflictInfo // 与人工编辑冲突的日期
	Skipped   []string             // 无法计算（地址/路线不可解析）的日期
}

// Builder 行程构建器
type Builder struct {
	router geo.Router
	trips  *store.TripRepo
	loc    *time.Location
	logger logger.Logger
	now    func() time.Time
}

// NewBuilder 创建行程构建器
func NewBuilder(router geo.Router, trips *store.TripRepo, loc *time.Location, log logger.Logger) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		router: router,
		trips:  trips,
		loc:    loc,
		logger: log,
		now:    time.Now,
	}
}

// Build 为受影响的日期派生并写入行程
// 存储错误会返回给调用方（触发回滚）；地址或路线不可解析只跳过对应日期
func (b *Builder) Build(ctx context.Context, in Input) (*Outcome, error) {
	now := b.now()
	out := &Outcome{}

	forced := make(map[string]bool, len(in.ForceDates))
	for _, d := range in.ForceDates {
		forced[d] = true
	}

	dates := b.candidateDates(in.Orders, in.RecentOnly, now)
	if len(dates) == 0 {
		return out, nil
	}

	var home *geo.Point
	homeResolved := false
	resolveHome := func() *geo.Point {
		if homeResolved {
			return home
		}
		homeResolved = true
		if in.HomeAddress == "" {
			b.logger.Warnf(ctx, "[Trip] no home address configured, trips cannot be derived")
			return nil
		}
		p, err := b.router.ResolveAddress(ctx, in.HomeAddress)
		if err != nil {
			b.logger.Warnf(ctx, "[Trip] resolve home address failed: %v", err)
			return nil
		}
		home = p
		return home
	}

	byDate := in.Orders.ByDate()
	for _, date := range dates {
		orders := eligible(byDate[date])

		// 1. 是否需要重建
		existing, err := b.trips.Get(ctx, in.UserID, date)
		if err != nil {
			return out, fmt.Errorf("load trip %s: %w", date, err)
		}
		if !forced[date] && !in.ChangedDates[date] && existing != nil && !paymentUpdatedSince(orders, existing.SyncedAt) {
			continue
		}

		// 2. 人工编辑保护
		if existing != nil && existing.EditedByHuman() && !forced[date] {
			if !b.withinConflictWindow(date, now) {
				b.logger.Debugf(ctx, "[Trip] skip %s: edited by user outside conflict window", date)
				continue
			}
			info := model.ConflictInfo{
				Date:            date,
				CurrentEarnings: existing.TotalEarnings,
				CurrentStops:    len(existing.Stops),
				LastModified:    *existing.LastModified,
			}
			if p := resolveHome(); p != nil {
				if would := b.derive(ctx, in, date, orders, *p); would != nil {
					info.WouldSyncEarnings = would.TotalEarnings
					info.WouldSyncStops = len(would.Stops)
					info.WouldSyncAddress = would.StartAddress
				}
			}
			out.Conflicts = append(out.Conflicts, info)
			b.logger.Infof(ctx, "[Trip] conflict on %s: trip edited by user at %s", date, existing.LastModified.Format(time.RFC3339))
			continue
		}

		// 3. 计算
		p := resolveHome()
		if p == nil {
			out.Skipped = append(out.Skipped, date)
			continue
		}
		trip := b.derive(ctx, in, date, orders, *p)
		if trip == nil {
			out.Skipped = append(out.Skipped, date)
			continue
		}

		// 4. 提交
		if err := b.commit(ctx, trip, now); err != nil {
			return out, err
		}
		out.Written = append(out.Written, date)
	}

	b.logger.Infof(ctx, "[Trip] build done: written=%d, conflicts=%d, skipped=%d", len(out.Written), len(out.Conflicts), len(out.Skipped))
	return out, nil
}

// commit 写入行程；引擎写入从不设置 LastModified
func (b *Builder) commit(ctx context.Context, trip *model.TripRecord, now time.Time) error {
	trip.SyncedAt = now.UTC()
	trip.LastModified = nil
	if err := b.trips.Put(ctx, trip); err != nil {
		return fmt.Errorf("save trip %s: %w", trip.Date, err)
	}
	return nil
}

// candidateDates 有可用工单且不晚于今天的日期（recentOnly 时限定最近 7 天）
func (b *Builder) candidateDates(orders model.OrderSet, recentOnly bool, now time.Time) []string {
	today := now.In(b.loc).Format("2006-01-02")
	cutoff := now.In(b.loc).Add(-ConflictWindow).Format("2006-01-02")

	var dates []string
	for date, list := range orders.ByDate() {
		if date > today || len(eligible(list)) == 0 {
			continue
		}
		if recentOnly && date < cutoff {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// withinConflictWindow 日期是否在最近 7 天内
func (b *Builder) withinConflictWindow(date string, now time.Time) bool {
	d, err := time.ParseInLocation("2006-01-02", date, b.loc)
	if err != nil {
		return false
	}
	return now.Sub(d) <= ConflictWindow
}

func eligible(orders []*model.OrderRecord) []*model.OrderRecord {
	out := make([]*model.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o.IsTripEligible() {
			out = append(out, o)
		}
	}
	return out
}

// paymentUpdatedSince 是否有工单在行程写入之后发生了付款状态更新
func paymentUpdatedSince(orders []*model.OrderRecord, syncedAt time.Time) bool {
	for _, o := range orders {
		if o.LastPaymentUpdateTimestamp != nil && o.LastPaymentUpdateTimestamp.After(syncedAt) {
			return true
		}
	}
	return false
}
