package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeGenerationBatch = "generation:batch"
)

// QueueDefault 是批量任务所在的队列。
const QueueDefault = "default"

// GenerationPayload 描述一次批量生成。Source 为 members 时使用 MemberIDs（为空表示全部），
// 为 spreadsheet 时从 SheetKey 读取已上传的表格。
type GenerationPayload struct {
	JobID         string            `json:"job_id"`
	TemplateID    uint              `json:"template_id"`
	Source        string            `json:"source"`
	MemberIDs     []uint            `json:"member_ids,omitempty"`
	SheetKey      string            `json:"sheet_key,omitempty"`
	SheetName     string            `json:"sheet_name,omitempty"`
	Description   string            `json:"description,omitempty"`
	IssueDate     string            `json:"issue_date,omitempty"`
	ExpiredDate   string            `json:"expired_date,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
	CorrelationID string            `json:"correlation_id"`
}

// NewGenerationTask 构造批量生成任务；任务 id 与 JobID 相同，便于取消与去重。
func NewGenerationTask(p GenerationPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("generation payload has no job id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.TaskID(p.JobID)}, opts...)
	return asynq.NewTask(TypeGenerationBatch, payload, opts...), nil
}

// ProgressChannel 是任务进度的 Redis Pub/Sub 频道，worker 发布、WebSocket 订阅。
func ProgressChannel(jobID string) string {
	return "job_progress:" + jobID
}
