package api

import (
	"net/http"

	"audioseg/config"
	"audioseg/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm TaskService, p task.Pipeline, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	h := NewHandler(tm, p, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Streaming binding: progress lines on the response itself.
		v1.POST("/process", h.handleProcess)

		// Polling binding
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
	}
	return r
}
