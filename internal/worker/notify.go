package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"certgen/internal/generation"
	"certgen/internal/tasks"
)

// 消息类型。
const (
	MessageProgress = "progress"
	MessageFinished = "finished"
)

// ProgressMessage 是通过 Redis Pub/Sub 转发给前端的任务消息。
// 注意：这里的字段名与前端解析保持一致。
type ProgressMessage struct {
	Type          string               `json:"type"`
	JobID         string               `json:"job_id"`
	State         string               `json:"state"`
	Done          int                  `json:"done"`
	Generated     int                  `json:"generated"`
	Failed        int                  `json:"failed"`
	Total         int                  `json:"total"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	ErrorCode     int                  `json:"error_code"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	Failures      []generation.Failure `json:"failures,omitempty"`
}

// Publisher 是发布进度所需的最小 redis 接口。
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

func publish(ctx context.Context, p Publisher, msg ProgressMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal progress message: %w", err)
	}
	channel := tasks.ProgressChannel(msg.JobID)
	if err := p.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish progress to %q: %w", channel, err)
	}
	return nil
}
