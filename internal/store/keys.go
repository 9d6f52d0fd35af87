package store

import "hnsync/internal/model"

// OrdersKey 工单快照 key
func OrdersKey(userID string) string { return "orders:" + userID }

// LockKey 同步锁 key
func LockKey(userID string) string { return "sync_lock:" + userID }

// SessionKey 会话 cookie key
func SessionKey(userID string) string { return "session:" + userID }

// CredentialsKey 加密凭据 key
func CredentialsKey(userID string) string { return "credentials:" + userID }

// ProgressKey 分批进度 key
func ProgressKey(userID string) string { return "sync_progress:" + userID }

// TripKey 行程 key（与行程 id 相同）
func TripKey(userID, date string) string { return model.TripID(userID, date) }
