package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindLock    Kind = "lock"    // 未获取到同步锁
	KindSession Kind = "session" // 门户会话失效，需要用户重新连接
	KindRuntime Kind = "runtime" // 同步过程中的运行时错误
	KindInput   Kind = "input"   // 参数错误
)

// Error 错误结构（包含可重试标记）
type Error struct {
	Code       int    `json:"code"`
	Kind       Kind   `json:"kind,omitempty"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`

	cause error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return e.Message
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.cause
}

// Retriable 创建可重试错误（网络错误、临时故障等）
func Retriable(message string) *Error {
	return &Error{
		Code:      500,
		Kind:      KindRuntime,
		Message:   message,
		Retryable: true,
	}
}

// RetriableWithDetails 创建可重试错误（带详细信息）
func RetriableWithDetails(message string, details string) *Error {
	e := Retriable(message)
	e.DevDetails = details
	return e
}

// NonRetriable 创建不可重试错误（参数错误、业务规则错误等）
func NonRetriable(message string) *Error {
	return &Error{
		Code:      400,
		Kind:      KindInput,
		Message:   message,
		Retryable: false,
	}
}

// Lock 未获取到同步锁（另一个同步正在进行），稍后可重试
func Lock(userID string) *Error {
	return &Error{
		Code:      409,
		Kind:      KindLock,
		Message:   fmt.Sprintf("sync already in progress for user %s", userID),
		Retryable: true,
	}
}

// Session 会话失效，需要用户重新连接门户账号
func Session(cause error) *Error {
	e := &Error{
		Code:      401,
		Kind:      KindSession,
		Message:   "Session expired. Please reconnect.",
		Retryable: false,
		cause:     cause,
	}
	if cause != nil {
		e.DevDetails = cause.Error()
	}
	return e
}

// Runtime 同步运行时错误；rolledBack 表示工单快照是否已回滚
func Runtime(cause error, rolledBack bool) *Error {
	msg := "sync failed"
	if cause != nil {
		msg = fmt.Sprintf("sync failed: %v", cause)
	}
	if !rolledBack {
		msg += " (order store NOT rolled back)"
	}
	return &Error{
		Code:      500,
		Kind:      KindRuntime,
		Message:   msg,
		Retryable: true,
		cause:     cause,
	}
}

// KindOf 返回错误分类；非 *Error 视为运行时错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntime
}

// Wrap 包装错误（自动判断是否可重试）
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	// 如果已经是 Error 类型，直接返回
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	// 默认为不可重试错误
	return &Error{
		Code:       500,
		Kind:       KindRuntime,
		Message:    err.Error(),
		Retryable:  false,
		DevDetails: fmt.Sprintf("%+v", err),
		cause:      err,
	}
}

// UnWrapResponse 解包错误（用于 Response）
func UnWrapResponse(err error) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err)
}
