package model

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// JobType 工单类型
type JobType string

const (
	JobTypeInstall   JobType = "Install"
	JobTypeReInstall JobType = "Re-Install"
	JobTypeRepair    JobType = "Repair"
	JobTypeUpgrade   JobType = "Upgrade"
)

// IsInstallClass 安装类工单（默认时长 90 分钟）
func (t JobType) IsInstallClass() bool {
	return t == JobTypeInstall || t == JobTypeReInstall
}

// OrderStatus 下载过程中的临时状态，字段填充后清空
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusFailed  OrderStatus = "failed"
)

// SyncStatus 工单在门户端的完成状态
type SyncStatus string

const (
	SyncStatusComplete   SyncStatus = "complete"
	SyncStatusIncomplete SyncStatus = "incomplete"
	SyncStatusFuture     SyncStatus = "future"
)

// OrderRecord 门户工单（每个用户独立存储）
type OrderRecord struct {
	ID                  string  `json:"id"`
	Address             string  `json:"address,omitempty"`
	City                string  `json:"city,omitempty"`
	State               string  `json:"state,omitempty"`
	Zip                 string  `json:"zip,omitempty"`
	ScheduledDate       string  `json:"scheduledDate,omitempty"` // YYYY-MM-DD
	BeginTime           string  `json:"beginTime,omitempty"`     // HH:MM（24 小时制）
	JobType             JobType `json:"jobType,omitempty"`
	BaseDurationMinutes int     `json:"baseDurationMinutes,omitempty"`

	HasPoleMount    bool `json:"hasPoleMount,omitempty"`
	HasWifiExtender bool `json:"hasWifiExtender,omitempty"`
	HasVoip         bool `json:"hasVoip,omitempty"`

	ArrivalTs             *time.Time `json:"arrivalTs,omitempty"`
	DepartureCompleteTs   *time.Time `json:"departureCompleteTs,omitempty"`
	DepartureIncompleteTs *time.Time `json:"departureIncompleteTs,omitempty"`

	Status      OrderStatus `json:"status,omitempty"`
	SyncStatus  SyncStatus  `json:"syncStatus,omitempty"`
	NeedsResync bool        `json:"needsResync,omitempty"`

	LastSyncTimestamp          *time.Time `json:"lastSyncTimestamp,omitempty"`
	LastPaymentUpdateTimestamp *time.Time `json:"lastPaymentUpdateTimestamp,omitempty"`
}

// HasAddress 是否已解析出街道地址
func (o *OrderRecord) HasAddress() bool {
	return strings.TrimSpace(o.Address) != ""
}

// IsTripEligible 可参与行程计算：有地址，或同时有城市和州
func (o *OrderRecord) IsTripEligible() bool {
	if o.HasAddress() {
		return true
	}
	return strings.TrimSpace(o.City) != "" && strings.TrimSpace(o.State) != ""
}

// FullAddress 拼接用于地理编码的完整地址
func (o *OrderRecord) FullAddress() string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(o.Address); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(o.City); s != "" {
		parts = append(parts, s)
	}
	stateZip := strings.TrimSpace(strings.TrimSpace(o.State) + " " + strings.TrimSpace(o.Zip))
	if stateZip != "" {
		parts = append(parts, stateZip)
	}
	return strings.Join(parts, ", ")
}

// IsPaid 未完成离场（incomplete departure）的工单不计收入
func (o *OrderRecord) IsPaid() bool {
	return !(o.DepartureIncompleteTs != nil && o.DepartureCompleteTs == nil)
}

// DepartureTs 实际离场时间（完成优先）
func (o *OrderRecord) DepartureTs() *time.Time {
	if o.DepartureCompleteTs != nil {
		return o.DepartureCompleteTs
	}
	return o.DepartureIncompleteTs
}

// ScheduledAt 计划日期 + 开始时间；缺少开始时间时返回 false
func (o *OrderRecord) ScheduledAt(loc *time.Location) (time.Time, bool) {
	if o.ScheduledDate == "" || o.BeginTime == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", o.ScheduledDate+" "+o.BeginTime, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Normalize 修正持久化数据中违反不变量的记录
func (o *OrderRecord) Normalize() {
	if o.DepartureCompleteTs != nil {
		o.SyncStatus = SyncStatusComplete
		o.NeedsResync = false
	}
}

// OrderSet 用户的工单快照（id -> 工单）
type OrderSet map[string]*OrderRecord

// Clone 深拷贝（记录级）
func (s OrderSet) Clone() OrderSet {
	out := make(OrderSet, len(s))
	for id, o := range s {
		cp := *o
		out[id] = &cp
	}
	return out
}

// SortedIDs 按数值升序返回 id，非数字 id 排在最后
func (s OrderSet) SortedIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

// NumericIDs 所有数字 id（升序）
func (s OrderSet) NumericIDs() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// List 按 id 排序的工单列表
func (s OrderSet) List() []OrderRecord {
	out := make([]OrderRecord, 0, len(s))
	for _, id := range s.SortedIDs() {
		out = append(out, *s[id])
	}
	return out
}

// ByDate 按计划日期分组
func (s OrderSet) ByDate() map[string][]*OrderRecord {
	out := make(map[string][]*OrderRecord)
	for _, id := range s.SortedIDs() {
		o := s[id]
		if o.ScheduledDate == "" {
			continue
		}
		out[o.ScheduledDate] = append(out[o.ScheduledDate], o)
	}
	return out
}
