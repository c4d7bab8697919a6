package controller

import (
	"context"

	"judgeflow/internal/judge/queue"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// QueueController reports queue depth and the configured execution backend.
type QueueController struct {
	queue    QueueInspector
	identity string
}

func NewQueueController(q QueueInspector, backendIdentity string) *QueueController {
	return &QueueController{queue: q, identity: backendIdentity}
}

type QueueResponse struct {
	QueueLength     int64  `json:"queue_length"`
	Processing      int64  `json:"processing"`
	DeadLetters     int64  `json:"dead_letters"`
	BackendIdentity string `json:"backend_identity"`
}

// Get handles GET /queue.
func (h *QueueController) Get(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.ServiceUnavailable, "queue unavailable"))
		return
	}
	response.Success(c, QueueResponse{
		QueueLength:     stats.QueueLength,
		Processing:      stats.Processing,
		DeadLetters:     stats.Dead,
		BackendIdentity: h.identity,
	})
}
