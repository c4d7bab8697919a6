package controller

import "github.com/gin-gonic/gin"

// Handlers groups the judge API controllers.
type Handlers struct {
	Submit *SubmitController
	Stream *StreamController
	Queue  *QueueController
}

// Register mounts the judge API on api. auth guards the submission routes.
func Register(api gin.IRouter, h Handlers, auth gin.HandlerFunc) {
	submissions := api.Group("/submissions", auth)
	submissions.POST("", h.Submit.Create)
	submissions.GET("/:id", h.Submit.GetStatus)
	submissions.GET("/:id/stream", h.Stream.NDJSON)
	submissions.GET("/:id/ws", h.Stream.WebSocket)

	api.GET("/queue", h.Queue.Get)
}
