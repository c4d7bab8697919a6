package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/judge/model"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

type Streamer interface {
	Stream(ctx context.Context, submissionID string, emit func(model.StatusEvent) error) error
}

// StreamController serves live submission events as NDJSON or over WebSocket.
type StreamController struct {
	streamer Streamer
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewStreamController(streamer Streamer, m *metrics.Metrics) *StreamController {
	return &StreamController{
		streamer: streamer,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Requests are authenticated by bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NDJSON handles GET /submissions/:id/stream. Headers are written with the first event,
// so failures before that still get the JSON error envelope.
func (h *StreamController) NDJSON(c *gin.Context) {
	submissionID := c.Param("id")
	defer h.metrics.StreamOpened()()

	started := false
	err := h.streamer.Stream(c.Request.Context(), submissionID, func(event model.StatusEvent) error {
		if !started {
			c.Header("Content-Type", "application/x-ndjson")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := c.Writer.Write(append(line, '\n')); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err == nil {
		return
	}
	if !started {
		response.Error(c, err)
		return
	}
	logger.Warn(c.Request.Context(), "stream ended with error", zap.String("submission_id", submissionID), zap.Error(err))
}

// WebSocket handles GET /submissions/:id/ws. Each event is one text frame.
func (h *StreamController) WebSocket(c *gin.Context) {
	submissionID := c.Param("id")
	defer h.metrics.StreamOpened()()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		conn       *websocket.Conn
		upgradeErr error
	)
	err := h.streamer.Stream(ctx, submissionID, func(event model.StatusEvent) error {
		if conn == nil {
			conn, upgradeErr = h.upgrader.Upgrade(c.Writer, c.Request, nil)
			if upgradeErr != nil {
				return upgradeErr
			}
			go discardReads(conn, cancel)
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, payload)
	})
	if upgradeErr != nil {
		// The upgrader has already answered the request.
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(upgradeErr))
		return
	}
	if conn == nil {
		if err != nil {
			response.Error(c, err)
		}
		return
	}
	defer conn.Close()
	if err != nil {
		logger.Warn(ctx, "websocket stream ended with error", zap.String("submission_id", submissionID), zap.Error(err))
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// discardReads drains client frames so control messages are processed, and cancels
// the stream once the client goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
