package model

// SyncCallback 同步结果回调消息（发送到 callback 队列）
type SyncCallback struct {
	RequestID    string         `json:"request_id"`           // 对应请求的 request_id（链路追踪）
	UserID       string         `json:"user_id"`              // 用户 ID
	Status       string         `json:"status"`               // SUCCESS / INCOMPLETE / FAILED
	Orders       int            `json:"orders"`               // 快照中的工单数
	TripsWritten int            `json:"trips_written"`        // 本次写入的行程数
	Conflicts    []ConflictInfo `json:"conflicts,omitempty"`  // 人工编辑冲突
	StoppedAt    string         `json:"stopped_at,omitempty"` // 预算耗尽时所在阶段
	Continued    bool           `json:"continued,omitempty"`  // 是否已投递续跑任务
	Requests     int64          `json:"requests"`             // 门户请求数
	Error        string         `json:"error,omitempty"`      // 错误信息（失败时返回）
	ErrorKind    string         `json:"error_kind,omitempty"` // lock / session / runtime / input
	Retryable    bool           `json:"retryable,omitempty"`  // 失败是否可重试
	ProcessedAt  int64          `json:"processed_at"`         // 处理时间戳（Unix timestamp）
}

// 回调状态常量
const (
	CallbackStatusSuccess    = "SUCCESS"
	CallbackStatusIncomplete = "INCOMPLETE"
	CallbackStatusFailed     = "FAILED"
)
