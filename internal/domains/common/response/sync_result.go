package response

import (
	"hnsync/internal/domains/common/job"
	"hnsync/internal/model"
	"hnsync/pkg/errorutil"
)

// SyncResult 同步结果（实现 ResultI 接口）
type SyncResult struct {
	UserID   string              `json:"user_id"`
	Status   string              `json:"status"`
	Callback *model.SyncCallback `json:"callback,omitempty"`
	Error    *errorutil.Error    `json:"error,omitempty"`
}

// NewSyncResult 创建同步结果
func NewSyncResult() *SyncResult {
	return &SyncResult{}
}

// Set 实现 ResultI 接口
func (r *SyncResult) Set(meta *job.Meta, err error) {
	r.UserID = meta.ID
	switch {
	case err != nil:
		r.Status = model.CallbackStatusFailed
		r.Error = errorutil.Wrap(err)
	case r.Callback != nil:
		r.Status = r.Callback.Status
	default:
		r.Status = model.CallbackStatusSuccess
	}
}

// GetStatus 实现 ResultI 接口
func (r *SyncResult) GetStatus() string {
	return r.Status
}
