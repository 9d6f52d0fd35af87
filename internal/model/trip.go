package model

import (
	"fmt"
	"time"
)

// TripSource 引擎写入的行程来源标记
const TripSource = "hns_sync"

// TripID 行程主键：hns_{userId}_{date}
func TripID(userID, date string) string {
	return fmt.Sprintf("hns_%s_%s", userID, date)
}

// TripStop 行程中的一个站点（对应一个工单）
type TripStop struct {
	OrderID         string  `json:"orderId"`
	Address         string  `json:"address"`
	JobType         JobType `json:"jobType,omitempty"`
	ArrivalTime     string  `json:"arrivalTime,omitempty"`
	DepartureTime   string  `json:"departureTime,omitempty"`
	DurationMinutes int     `json:"durationMinutes"`
	MilesFromPrev   float64 `json:"milesFromPrev"`
	Earnings        float64 `json:"earnings"`
	Paid            bool    `json:"paid"`
}

// TripRecord 每个用户每天一条的派生行程
type TripRecord struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Date          string     `json:"date"`
	Source        string     `json:"source"`
	StartAddress  string     `json:"startAddress"`
	StartTime     string     `json:"startTime"`
	EndTime       string     `json:"endTime"`
	Stops         []TripStop `json:"stops"`
	TotalMiles    float64    `json:"totalMiles"`
	TotalMinutes  int        `json:"totalMinutes"`
	DriveMinutes  int        `json:"driveMinutes"`
	TotalEarnings float64    `json:"totalEarnings"`
	FuelCost      float64    `json:"fuelCost"`
	NetProfit     float64    `json:"netProfit"`
	SyncedAt      time.Time  `json:"syncedAt"`

	// LastModified 仅由人工编辑写入，引擎从不设置
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// EditedByHuman 人工编辑晚于引擎最后一次写入
func (t *TripRecord) EditedByHuman() bool {
	return t.LastModified != nil && t.LastModified.After(t.SyncedAt)
}

// ConflictInfo 与人工编辑行程的冲突（仅返回给调用方，不持久化）
type ConflictInfo struct {
	Date              string    `json:"date"`
	CurrentEarnings   float64   `json:"currentEarnings"`
	CurrentStops      int       `json:"currentStops"`
	LastModified      time.Time `json:"lastModified"`
	WouldSyncEarnings float64   `json:"wouldSyncEarnings"`
	WouldSyncStops    int       `json:"wouldSyncStops"`
	WouldSyncAddress  string    `json:"wouldSyncAddress"`
}

// PayRates 计费参数
type PayRates struct {
	Install        float64 `json:"install" mapstructure:"install"`
	ReInstall      float64 `json:"reInstall" mapstructure:"re_install"`
	Repair         float64 `json:"repair" mapstructure:"repair"`
	Upgrade        float64 `json:"upgrade" mapstructure:"upgrade"`
	PoleMount      float64 `json:"poleMount" mapstructure:"pole_mount"`
	WifiExtender   float64 `json:"wifiExtender" mapstructure:"wifi_extender"`
	Voip           float64 `json:"voip" mapstructure:"voip"`
	DriveTimeBonus float64 `json:"driveTimeBonus" mapstructure:"drive_time_bonus"`
	FuelPrice      float64 `json:"fuelPrice" mapstructure:"fuel_price"` // 每加仑
	VehicleMPG     float64 `json:"vehicleMpg" mapstructure:"vehicle_mpg"`
}

// Base 工单类型基础单价
func (r PayRates) Base(t JobType) float64 {
	switch t {
	case JobTypeInstall:
		return r.Install
	case JobTypeReInstall:
		return r.ReInstall
	case JobTypeRepair:
		return r.Repair
	case JobTypeUpgrade:
		return r.Upgrade
	default:
		return 0
	}
}

// SyncLock 分布式锁记录
type SyncLock struct {
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SyncProgress 分批同步的阶段进度
type SyncProgress struct {
	ScanDone     bool      `json:"scanDone"`
	GapFillDone  bool      `json:"gapFillDone"`
	BackwardDone bool      `json:"backwardDone"`
	StartedAt    time.Time `json:"startedAt"`
}
