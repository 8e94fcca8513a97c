package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// QueueDepth reports how many jobs are waiting
type QueueDepth interface {
	Len() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	service string
	queue   QueueDepth
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service string, queue QueueDepth) *HealthHandler {
	return &HealthHandler{service: service, queue: queue}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   h.service,
	}
	if h.queue != nil {
		body["queued"] = h.queue.Len()
	}
	c.JSON(http.StatusOK, body)
}
