package trip

import (
	"context"
	"math"
	"sort"
	"time"

	"hnsync/internal/model"
	"hnsync/pkg/geo"
)

const (
	minDurationMinutes = 10
	maxDurationMinutes = 600

	installDefaultMinutes = 90
	otherDefaultMinutes   = 60

	// 通勤 + 站间行驶超过该值才计算驾驶补贴
	driveBonusThresholdMinutes = 330
)

type stop struct {
	order *model.OrderRecord
	at    time.Time
	timed bool
	point *geo.Point
}

// derive 计算单日行程；无法确定起点（锚点或通勤路线不可解析）时返回 nil
func (b *Builder) derive(ctx context.Context, in Input, date string, orders []*model.OrderRecord, home geo.Point) *model.TripRecord {
	stops := b.orderStops(date, orders)
	if len(stops) == 0 || !stops[0].timed {
		b.logger.Warnf(ctx, "[Trip] skip %s: no order with a usable time", date)
		return nil
	}

	// 1. 地理编码
	for i := range stops {
		p, err := b.router.ResolveAddress(ctx, stops[i].order.FullAddress())
		if err != nil {
			b.logger.Warnf(ctx, "[Trip] resolve %s failed: %v", stops[i].order.ID, err)
			continue
		}
		stops[i].point = p
	}
	anchor := stops[0]
	if anchor.point == nil {
		b.logger.Warnf(ctx, "[Trip] skip %s: anchor order %s address unresolvable", date, anchor.order.ID)
		return nil
	}
	commute := b.route(ctx, home, *anchor.point)
	if commute == nil {
		b.logger.Warnf(ctx, "[Trip] skip %s: no route from home to anchor order %s", date, anchor.order.ID)
		return nil
	}

	// 2. 路段：home -> ... -> home
	legs := make([]geo.RouteInfo, len(stops))
	legs[0] = *commute
	prev := anchor.point
	for i := 1; i < len(stops); i++ {
		if stops[i].point == nil {
			continue
		}
		if r := b.route(ctx, *prev, *stops[i].point); r != nil {
			legs[i] = *r
		}
		prev = stops[i].point
	}
	var back geo.RouteInfo
	if r := b.route(ctx, *prev, home); r != nil {
		back = *r
	}

	driveMinutes := back.Minutes()
	miles := back.Miles()
	for _, l := range legs {
		driveMinutes += l.Minutes()
		miles += l.Miles()
	}

	// 3. 时间线与收入
	rates := in.PayRates
	bonus := 0.0
	if driveMinutes > driveBonusThresholdMinutes {
		bonus = rates.DriveTimeBonus
	}

	start := anchor.at.Add(-time.Duration(commute.Minutes()) * time.Minute)
	cursor := start
	onSite := 0
	earnings := 0.0
	tripStops := make([]model.TripStop, 0, len(stops))
	for i, s := range stops {
		cursor = cursor.Add(time.Duration(legs[i].Minutes()) * time.Minute)
		arrival := cursor
		dur := durationMinutes(s.order)
		cursor = cursor.Add(time.Duration(dur) * time.Minute)
		onSite += dur

		pay := 0.0
		if s.order.IsPaid() {
			pay = stopPay(s.order, rates) + bonus
		}
		earnings += pay

		tripStops = append(tripStops, model.TripStop{
			OrderID:         s.order.ID,
			Address:         s.order.FullAddress(),
			JobType:         s.order.JobType,
			ArrivalTime:     arrival.Format("15:04"),
			DepartureTime:   cursor.Format("15:04"),
			DurationMinutes: dur,
			MilesFromPrev:   round2(legs[i].Miles()),
			Earnings:        round2(pay),
			Paid:            s.order.IsPaid(),
		})
	}
	end := cursor.Add(time.Duration(back.Minutes()) * time.Minute)

	fuel := 0.0
	if rates.VehicleMPG > 0 {
		fuel = miles / rates.VehicleMPG * rates.FuelPrice
	}

	startAddress := home.Formatted
	if startAddress == "" {
		startAddress = in.HomeAddress
	}
	return &model.TripRecord{
		ID:            model.TripID(in.UserID, date),
		UserID:        in.UserID,
		Date:          date,
		Source:        model.TripSource,
		StartAddress:  startAddress,
		StartTime:     start.Format("15:04"),
		EndTime:       end.Format("15:04"),
		Stops:         tripStops,
		TotalMiles:    round2(miles),
		TotalMinutes:  driveMinutes + onSite,
		DriveMinutes:  driveMinutes,
		TotalEarnings: round2(earnings),
		FuelCost:      round2(fuel),
		NetProfit:     round2(earnings - fuel),
	}
}

// orderStops 按当天实际到达时间（否则计划时间）排序；无可用时间的排在最后
func (b *Builder) orderStops(date string, orders []*model.OrderRecord) []stop {
	stops := make([]stop, 0, len(orders))
	for _, o := range orders {
		s := stop{order: o}
		if o.ArrivalTs != nil && o.ArrivalTs.In(b.loc).Format("2006-01-02") == date {
			s.at, s.timed = o.ArrivalTs.In(b.loc), true
		} else if t, ok := o.ScheduledAt(b.loc); ok {
			s.at, s.timed = t, true
		}
		stops = append(stops, s)
	}
	sort.SliceStable(stops, func(i, j int) bool {
		if stops[i].timed != stops[j].timed {
			return stops[i].timed
		}
		return stops[i].at.Before(stops[j].at)
	})
	return stops
}

// route 路线查询；失败按不可达处理
func (b *Builder) route(ctx context.Context, from, to geo.Point) *geo.RouteInfo {
	r, err := b.router.GetRouteInfo(ctx, from, to)
	if err != nil {
		b.logger.Warnf(ctx, "[Trip] route %s -> %s failed: %v", from.Key(), to.Key(), err)
		return nil
	}
	return r
}

// durationMinutes 实际时长落在 [10, 600) 内才采用；缺少时间戳时用门户给出的预估时长，否则按类型默认
func durationMinutes(o *model.OrderRecord) int {
	if dep := o.DepartureTs(); o.ArrivalTs != nil && dep != nil {
		if d := int(dep.Sub(*o.ArrivalTs).Minutes()); d >= minDurationMinutes && d < maxDurationMinutes {
			return d
		}
		return defaultDuration(o.JobType)
	}
	if d := o.BaseDurationMinutes; d >= minDurationMinutes && d < maxDurationMinutes {
		return d
	}
	return defaultDuration(o.JobType)
}

func defaultDuration(t model.JobType) int {
	if t.IsInstallClass() {
		return installDefaultMinutes
	}
	return otherDefaultMinutes
}

// stopPay 单站收入（不含驾驶补贴）
func stopPay(o *model.OrderRecord, r model.PayRates) float64 {
	pay := r.Base(o.JobType)
	if o.HasPoleMount {
		pay += r.PoleMount
	}
	if o.HasWifiExtender {
		pay += r.WifiExtender
	}
	if o.HasVoip {
		pay += r.Voip
	}
	return pay
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
