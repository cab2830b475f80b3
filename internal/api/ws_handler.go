package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"certgen/internal/database"
	"certgen/internal/tasks"
)

// JobGetter 读取任务当前状态。
type JobGetter interface {
	Get(ctx context.Context, id string) (*database.GenerationJob, error)
}

// WsHandler 把任务进度从 Redis Pub/Sub 转发到 WebSocket。
type WsHandler struct {
	redisClient    *redis.Client
	jobs           JobGetter
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient *redis.Client, jobs JobGetter, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		jobs:           jobs,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// 快照消息与 worker 的进度消息字段一致。
type wsSnapshot struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Done      int    `json:"done"`
	Generated int    `json:"generated"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	ErrorCode int    `json:"error_code"`
}

// HandleConnection 升级连接：先发送任务当前快照，再转发后续进度；任务结束后关闭连接。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		writeStoreError(c, err, "failed to query job")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("job_id", jobID),
	)

	// 先订阅再发快照，避免两者之间的消息丢失。
	pubsub := h.redisClient.Subscribe(ctx, tasks.ProgressChannel(jobID))
	defer pubsub.Close()

	snapshot, _ := json.Marshal(wsSnapshot{
		Type:      "snapshot",
		JobID:     job.ID,
		State:     job.Status,
		Done:      job.Generated + job.Failed,
		Generated: job.Generated,
		Failed:    job.Failed,
		Total:     job.Total,
		ErrorCode: job.ErrorCode,
	})
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		log.Info("write snapshot failed", slog.Any("error", err))
		return
	}
	if job.FinishedAt != nil {
		writeClose(conn, websocket.CloseNormalClosure, "job finished")
		return
	}

	errCh := make(chan error, 2)
	go h.readLoop(conn, errCh, cancel)
	go h.forwardLoop(ctx, conn, pubsub, errCh, cancel, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Info("websocket connection closed", slog.Any("error", err))
		} else {
			log.Info("websocket connection closed")
		}
	}
}

// readLoop 只用于检测客户端断开。
func (h *WsHandler) readLoop(conn *websocket.Conn, errCh chan<- error, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) forwardLoop(
	ctx context.Context,
	conn *websocket.Conn,
	pubsub *redis.PubSub,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
			if isFinishedMessage(msg.Payload) {
				log.Info("job finished, closing websocket")
				writeClose(conn, websocket.CloseNormalClosure, "job finished")
				errCh <- nil
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}

func isFinishedMessage(payload string) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return false
	}
	return msg.Type == "finished"
}
