package job

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ActionSync 同步任务动作类型（路由键）
const ActionSync = "hns_sync"

// Job 标准 Job 结构
type Job struct {
	Payload *JobPayload `json:"payload"`
}

// JobPayload Job 负载
type JobPayload struct {
	Data *JobPayloadData `json:"data"`
}

// JobPayloadData Job 数据
type JobPayloadData struct {
	// 元信息
	RequestID  string `json:"request_id"`  // 请求 ID（TraceID）
	OrgID      string `json:"org_id"`      // 组织 ID
	ActionType string `json:"action_type"` // 动作类型（路由键）
	ID         string `json:"id"`          // 业务 ID（同步任务为 user_id）

	// 业务数据
	Data interface{} `json:"data"` // 具体业务数据

	// 扩展
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Meta 元数据
type Meta struct {
	RequestID  string // 请求 ID
	OrgID      string // 组织 ID
	ActionType string // 动作类型
	ID         string // 业务 ID
}

// New 构造标准 Job；requestID 为空时生成
func New(requestID, actionType, id string, data interface{}) *Job {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &Job{
		Payload: &JobPayload{
			Data: &JobPayloadData{
				RequestID:  requestID,
				OrgID:      "0",
				ActionType: actionType,
				ID:         id,
				Data:       data,
			},
		},
	}
}

// Marshal 序列化为队列消息
func Marshal(j *Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job failed: %w", err)
	}
	return data, nil
}

// Key 在途互斥键（动作类型 + 业务 ID）；无法解析时返回空串
func Key(data []byte) string {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil || j.Payload == nil || j.Payload.Data == nil {
		return ""
	}
	d := j.Payload.Data
	if d.ID == "" {
		return ""
	}
	return d.ActionType + ":" + d.ID
}
