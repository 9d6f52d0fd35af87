package trip

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hnsync/internal/model"
	"hnsync/internal/store"
	"hnsync/pkg/geo"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
)

var testNow = time.Date(2024, 3, 20, 18, 0, 0, 0, time.UTC)

const homeAddress = "100 Home Rd, Springfield, IL"

// fakeRouter 每个地址一个坐标，所有路段固定距离/时长
type fakeRouter struct {
	points map[string]*geo.Point
	leg    geo.RouteInfo
	failed map[string]bool
}

func newFakeRouter() *fakeRouter {
	r := &fakeRouter{
		points: make(map[string]*geo.Point),
		leg:    geo.RouteInfo{DistanceMeters: 16093.44, DurationSeconds: 1200}, // 10 英里 / 20 分钟
		failed: make(map[string]bool),
	}
	r.add(homeAddress)
	return r
}

func (r *fakeRouter) add(address string) {
	n := float64(len(r.points) + 1)
	r.points[address] = &geo.Point{Lat: 39 + n/100, Lon: -89 - n/100, Formatted: address}
}

func (r *fakeRouter) ResolveAddress(_ context.Context, text string) (*geo.Point, error) {
	if r.failed[text] {
		return nil, errors.New("geocoder unavailable")
	}
	return r.points[text], nil
}

func (r *fakeRouter) GetRouteInfo(_ context.Context, _, _ geo.Point) (*geo.RouteInfo, error) {
	leg := r.leg
	return &leg, nil
}

func newTestBuilder(router geo.Router) (*Builder, *store.TripRepo) {
	repo := store.NewTripRepo(kv.NewMemoryStore(), logger.NewNop())
	b := NewBuilder(router, repo, time.UTC, logger.NewNop())
	b.now = func() time.Time { return testNow }
	return b, repo
}

func order(router *fakeRouter, id, street, date, begin string, jt model.JobType) *model.OrderRecord {
	o := &model.OrderRecord{
		ID:            id,
		Address:       street,
		City:          "Springfield",
		State:         "IL",
		ScheduledDate: date,
		BeginTime:     begin,
		JobType:       jt,
		SyncStatus:    model.SyncStatusFuture,
	}
	router.add(o.FullAddress())
	return o
}

func rates() model.PayRates {
	return model.PayRates{
		Install:        100,
		ReInstall:      80,
		Repair:         50,
		Upgrade:        40,
		PoleMount:      15,
		WifiExtender:   10,
		Voip:           5,
		DriveTimeBonus: 25,
		FuelPrice:      3,
		VehicleMPG:     25,
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		name  string
		order model.OrderRecord
		want  int
	}{
		{"actual within bounds", model.OrderRecord{JobType: model.JobTypeRepair, ArrivalTs: ts("2024-03-18 09:00"), DepartureCompleteTs: ts("2024-03-18 09:45")}, 45},
		{"below floor install", model.OrderRecord{JobType: model.JobTypeInstall, ArrivalTs: ts("2024-03-18 09:00"), DepartureCompleteTs: ts("2024-03-18 09:02")}, 90},
		{"below floor repair", model.OrderRecord{JobType: model.JobTypeRepair, ArrivalTs: ts("2024-03-18 09:00"), DepartureCompleteTs: ts("2024-03-18 09:02")}, 60},
		{"ceiling is exclusive", model.OrderRecord{JobType: model.JobTypeReInstall, ArrivalTs: ts("2024-03-18 08:00"), DepartureCompleteTs: ts("2024-03-18 18:00")}, 90},
		{"floor is inclusive", model.OrderRecord{JobType: model.JobTypeUpgrade, ArrivalTs: ts("2024-03-18 08:00"), DepartureIncompleteTs: ts("2024-03-18 08:10")}, 10},
		{"estimate without timestamps", model.OrderRecord{JobType: model.JobTypeRepair, BaseDurationMinutes: 120}, 120},
		{"nothing known", model.OrderRecord{JobType: model.JobTypeUpgrade}, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			assert.Equal(t, tt.want, durationMinutes(&o))
		})
	}
}

func TestBuild_DerivesTrip(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)

	a := order(router, "1001", "1 A St", "2024-03-18", "09:00", model.JobTypeRepair)
	c := order(router, "1002", "2 B St", "2024-03-18", "13:00", model.JobTypeInstall)
	c.HasPoleMount = true

	out, err := b.Build(context.Background(), Input{
		UserID:      "u1",
		Orders:      model.OrderSet{"1002": c, "1001": a},
		HomeAddress: homeAddress,
		PayRates:    rates(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-18"}, out.Written)
	assert.Empty(t, out.Conflicts)

	trip, err := repo.Get(context.Background(), "u1", "2024-03-18")
	require.NoError(t, err)
	require.NotNil(t, trip)

	assert.Equal(t, "hns_u1_2024-03-18", trip.ID)
	assert.Equal(t, model.TripSource, trip.Source)
	assert.Equal(t, homeAddress, trip.StartAddress)
	assert.Equal(t, "08:40", trip.StartTime)
	assert.Equal(t, "12:10", trip.EndTime)

	require.Len(t, trip.Stops, 2)
	assert.Equal(t, "1001", trip.Stops[0].OrderID)
	assert.Equal(t, "09:00", trip.Stops[0].ArrivalTime)
	assert.Equal(t, "10:00", trip.Stops[0].DepartureTime)
	assert.Equal(t, "1002", trip.Stops[1].OrderID)
	assert.Equal(t, "10:20", trip.Stops[1].ArrivalTime)
	assert.Equal(t, 90, trip.Stops[1].DurationMinutes)

	assert.Equal(t, 60, trip.DriveMinutes)
	assert.Equal(t, 60+60+90, trip.TotalMinutes)
	assert.InDelta(t, 30, trip.TotalMiles, 0.01)
	assert.InDelta(t, 165, trip.TotalEarnings, 0.001)
	assert.InDelta(t, 3.6, trip.FuelCost, 0.001)
	assert.InDelta(t, 161.4, trip.NetProfit, 0.001)
	assert.Nil(t, trip.LastModified)
	assert.Equal(t, testNow, trip.SyncedAt)
}

func TestBuild_ArrivalTimestampOrdersStops(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)

	early := order(router, "1", "1 A St", "2024-03-18", "08:00", model.JobTypeRepair)
	early.ArrivalTs = ts("2024-03-18 14:00")
	late := order(router, "2", "2 B St", "2024-03-18", "11:00", model.JobTypeRepair)
	untimed := order(router, "3", "3 C St", "2024-03-18", "", model.JobTypeRepair)

	_, err := b.Build(context.Background(), Input{
		UserID:      "u1",
		Orders:      model.OrderSet{"1": early, "2": late, "3": untimed},
		HomeAddress: homeAddress,
		PayRates:    rates(),
	})
	require.NoError(t, err)

	trip, err := repo.Get(context.Background(), "u1", "2024-03-18")
	require.NoError(t, err)
	require.NotNil(t, trip)
	var ids []string
	for _, s := range trip.Stops {
		ids = append(ids, s.OrderID)
	}
	assert.Equal(t, []string{"2", "1", "3"}, ids)
	assert.Equal(t, "10:40", trip.StartTime)
}

func TestBuild_DriveBonusAndUnpaidStops(t *testing.T) {
	router := newFakeRouter()
	router.leg = geo.RouteInfo{DistanceMeters: 160934.4, DurationSeconds: 2 * 3600}
	b, repo := newTestBuilder(router)

	paid := order(router, "1", "1 A St", "2024-03-18", "09:00", model.JobTypeRepair)
	unpaid := order(router, "2", "2 B St", "2024-03-18", "12:00", model.JobTypeInstall)
	unpaid.ArrivalTs = ts("2024-03-18 14:00")
	unpaid.DepartureIncompleteTs = ts("2024-03-18 14:30")

	_, err := b.Build(context.Background(), Input{
		UserID:      "u1",
		Orders:      model.OrderSet{"1": paid, "2": unpaid},
		HomeAddress: homeAddress,
		PayRates:    rates(),
	})
	require.NoError(t, err)

	trip, err := repo.Get(context.Background(), "u1", "2024-03-18")
	require.NoError(t, err)
	require.NotNil(t, trip)
	require.Len(t, trip.Stops, 2)

	assert.Equal(t, 360, trip.DriveMinutes)
	assert.InDelta(t, 50+25, trip.Stops[0].Earnings, 0.001)
	assert.False(t, trip.Stops[1].Paid)
	assert.Zero(t, trip.Stops[1].Earnings)
	assert.Equal(t, 30, trip.Stops[1].DurationMinutes)
	assert.InDelta(t, 75, trip.TotalEarnings, 0.001)
	assert.Equal(t, 360+60+30, trip.TotalMinutes)
}

func TestBuild_DateSelection(t *testing.T) {
	router := newFakeRouter()
	b, _ := newTestBuilder(router)

	orders := model.OrderSet{
		"1": order(router, "1", "1 A St", "2024-03-21", "09:00", model.JobTypeRepair), // 未来
		"2": order(router, "2", "2 B St", "2024-03-01", "09:00", model.JobTypeRepair), // 超出最近 7 天
		"3": order(router, "3", "3 C St", "2024-03-19", "09:00", model.JobTypeRepair),
		"4": {ID: "4", ScheduledDate: "2024-03-17", BeginTime: "09:00"}, // 无地址
	}

	out, err := b.Build(context.Background(), Input{
		UserID: "u1", Orders: orders, RecentOnly: true, HomeAddress: homeAddress, PayRates: rates(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-19"}, out.Written)

	out, err = b.Build(context.Background(), Input{
		UserID: "u1", Orders: orders, HomeAddress: homeAddress, PayRates: rates(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01"}, out.Written, "existing unchanged trips are not rebuilt")
}

func TestBuild_SkipsUnresolvable(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)
	o := order(router, "1", "1 A St", "2024-03-18", "09:00", model.JobTypeRepair)

	out, err := b.Build(context.Background(), Input{UserID: "u1", Orders: model.OrderSet{"1": o}, PayRates: rates()})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-18"}, out.Skipped)

	router.failed[o.FullAddress()] = true
	out, err = b.Build(context.Background(), Input{UserID: "u1", Orders: model.OrderSet{"1": o}, HomeAddress: homeAddress, PayRates: rates()})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-18"}, out.Skipped)
	assert.Empty(t, out.Written)

	trip, err := repo.Get(context.Background(), "u1", "2024-03-18")
	require.NoError(t, err)
	assert.Nil(t, trip)
}

func TestBuild_ConflictAndForce(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)
	ctx := context.Background()

	date := "2024-03-17"
	edited := testNow.Add(-48 * time.Hour)
	require.NoError(t, repo.Put(ctx, &model.TripRecord{
		ID:            model.TripID("u1", date),
		UserID:        "u1",
		Date:          date,
		Source:        model.TripSource,
		Stops:         []model.TripStop{{OrderID: "1"}},
		TotalEarnings: 999,
		SyncedAt:      testNow.Add(-72 * time.Hour),
		LastModified:  &edited,
	}))

	o := order(router, "1", "1 A St", date, "09:00", model.JobTypeRepair)
	in := Input{
		UserID:       "u1",
		Orders:       model.OrderSet{"1": o},
		ChangedDates: map[string]bool{date: true},
		HomeAddress:  homeAddress,
		PayRates:     rates(),
	}

	out, err := b.Build(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, out.Written)
	require.Len(t, out.Conflicts, 1)
	c := out.Conflicts[0]
	assert.Equal(t, date, c.Date)
	assert.Equal(t, 999.0, c.CurrentEarnings)
	assert.Equal(t, 1, c.CurrentStops)
	assert.True(t, edited.Equal(c.LastModified))
	assert.InDelta(t, 50, c.WouldSyncEarnings, 0.001)
	assert.Equal(t, 1, c.WouldSyncStops)
	assert.Equal(t, homeAddress, c.WouldSyncAddress)

	kept, err := repo.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.Equal(t, 999.0, kept.TotalEarnings)

	in.ForceDates = []string{date}
	out, err = b.Build(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{date}, out.Written)
	assert.Empty(t, out.Conflicts)

	forced, err := repo.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.InDelta(t, 50, forced.TotalEarnings, 0.001)
	assert.Nil(t, forced.LastModified)
	assert.False(t, forced.EditedByHuman())
}

func TestBuild_OldEditSkippedSilently(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)
	ctx := context.Background()

	date := "2024-03-01"
	edited := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Put(ctx, &model.TripRecord{
		ID: model.TripID("u1", date), UserID: "u1", Date: date,
		TotalEarnings: 1, SyncedAt: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC), LastModified: &edited,
	}))

	out, err := b.Build(ctx, Input{
		UserID:       "u1",
		Orders:       model.OrderSet{"1": order(router, "1", "1 A St", date, "09:00", model.JobTypeRepair)},
		ChangedDates: map[string]bool{date: true},
		HomeAddress:  homeAddress,
		PayRates:     rates(),
	})
	require.NoError(t, err)
	assert.Empty(t, out.Written)
	assert.Empty(t, out.Conflicts)

	kept, err := repo.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.Equal(t, 1.0, kept.TotalEarnings)
}

func TestBuild_PaymentUpdateTriggersRebuild(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)
	ctx := context.Background()

	date := "2024-03-18"
	o := order(router, "1", "1 A St", date, "09:00", model.JobTypeRepair)
	o.ArrivalTs = ts("2024-03-18 09:00")
	o.DepartureIncompleteTs = ts("2024-03-18 10:00")
	in := Input{UserID: "u1", Orders: model.OrderSet{"1": o}, HomeAddress: homeAddress, PayRates: rates()}

	_, err := b.Build(ctx, in)
	require.NoError(t, err)
	first, err := repo.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.Zero(t, first.TotalEarnings)

	// 门户补录完成时间
	b.now = func() time.Time { return testNow.Add(time.Hour) }
	paidAt := testNow.Add(30 * time.Minute)
	o.DepartureCompleteTs = ts("2024-03-18 10:00")
	o.LastPaymentUpdateTimestamp = &paidAt

	out, err := b.Build(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{date}, out.Written)

	second, err := repo.Get(ctx, "u1", date)
	require.NoError(t, err)
	assert.InDelta(t, 50, second.TotalEarnings, 0.001)
}

func TestBuild_IsIdempotent(t *testing.T) {
	router := newFakeRouter()
	b, repo := newTestBuilder(router)
	ctx := context.Background()

	orders := model.OrderSet{}
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("%d", i)
		orders[id] = order(router, id, id+" Main St", "2024-03-18", fmt.Sprintf("%02d:00", 8+i), model.JobTypeRepair)
	}
	in := Input{
		UserID:       "u1",
		Orders:       orders,
		ChangedDates: map[string]bool{"2024-03-18": true},
		HomeAddress:  homeAddress,
		PayRates:     rates(),
	}

	_, err := b.Build(ctx, in)
	require.NoError(t, err)
	first, err := repo.Get(ctx, "u1", "2024-03-18")
	require.NoError(t, err)

	out, err := b.Build(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, out.Conflicts)

	second, err := repo.Get(ctx, "u1", "2024-03-18")
	require.NoError(t, err)
	require.Len(t, second.Stops, 4)
	assert.Equal(t, first.Stops, second.Stops)

	seen := make(map[string]bool)
	for _, s := range second.Stops {
		assert.False(t, seen[s.OrderID], "duplicate stop %s", s.OrderID)
		seen[s.OrderID] = true
	}
}
