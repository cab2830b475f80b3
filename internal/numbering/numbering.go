// Package numbering issues certificate numbers.
package numbering

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "CERT"
	keyPrefix     = "certno"
	// 按月计数的 key 保留到次月之后。
	counterTTL = 62 * 24 * time.Hour
)

// Generator 根据签发日期返回唯一编号。
type Generator interface {
	Generate(ctx context.Context, issueDate time.Time) (string, error)
}

// Counter 是 RedisSequence 依赖的最小 redis 接口。
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client Counter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// RedisSequence 生成形如 CERT-202403-0007 的编号，序号按前缀和年月递增。
type RedisSequence struct {
	client Counter
	prefix string
}

// NewRedisSequence returns a generator backed by redis INCR.
func NewRedisSequence(client Counter, prefix string) *RedisSequence {
	return &RedisSequence{client: client, prefix: normalizePrefix(prefix)}
}

func (s *RedisSequence) Generate(ctx context.Context, issueDate time.Time) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("certificate number sequence not configured")
	}
	period := issueDate.Format("200601")
	key := fmt.Sprintf("%s:%s:%s", keyPrefix, s.prefix, period)
	n, err := incrWithTTL(ctx, s.client, key, counterTTL)
	if err != nil {
		return "", fmt.Errorf("increment %s: %w", key, err)
	}
	return fmt.Sprintf("%s-%s-%04d", s.prefix, period, n), nil
}

// Snowflake 是基于时间戳的编号，用作主生成器失败时的回退。
type Snowflake struct {
	prefix string

	once sync.Once
	node *snowflake.Node
	err  error
	id   int64
}

// NewSnowflake 创建回退生成器；nodeID 取值 0..1023。
func NewSnowflake(nodeID int64, prefix string) *Snowflake {
	return &Snowflake{prefix: normalizePrefix(prefix), id: nodeID}
}

func (s *Snowflake) Generate(_ context.Context, issueDate time.Time) (string, error) {
	s.once.Do(func() {
		s.node, s.err = snowflake.NewNode(s.id)
	})
	if s.err != nil {
		return "", fmt.Errorf("snowflake node %d: %w", s.id, s.err)
	}
	return fmt.Sprintf("%s-%s-%s", s.prefix, issueDate.Format("200601"), strings.ToUpper(s.node.Generate().Base36())), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
