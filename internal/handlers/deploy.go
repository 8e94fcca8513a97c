package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/middleware"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/queue"
	"github.com/imyashkale/deployer/internal/repository"
)

// JobQueue accepts deploy jobs
type JobQueue interface {
	Enqueue(job *queue.DeployJob) error
}

// DeployHandler triggers pipeline runs and lists recorded ones
type DeployHandler struct {
	service models.ServiceDescriptor
	targets []models.DeploymentTarget
	queue   JobQueue
	repo    repository.DeploymentRepository
	newID   func() (uuid.UUID, error)
}

// NewDeployHandler creates a deploy handler. repo may be nil when history
// is disabled.
func NewDeployHandler(
	service models.ServiceDescriptor,
	targets []models.DeploymentTarget,
	jobs JobQueue,
	repo repository.DeploymentRepository,
) *DeployHandler {
	return &DeployHandler{
		service: service,
		targets: targets,
		queue:   jobs,
		repo:    repo,
		newID:   uuid.NewV7,
	}
}

// Trigger queues a pipeline run for the environment in the path
func (h *DeployHandler) Trigger(c *gin.Context) {
	env, err := models.ParseEnvironment(c.Param("environment"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": err.Error(),
		})
		return
	}

	if _, ok := models.SelectTarget(h.targets, env); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "target_not_found",
			"message": "No deployment configured for environment " + string(env),
		})
		return
	}

	var req models.TriggerDeploymentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": err.Error(),
			})
			return
		}
	}

	id, err := h.newID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to allocate job id",
		})
		return
	}

	job := &queue.DeployJob{
		ID:          id.String(),
		Environment: string(env),
		DryRun:      req.DryRun,
		SkipBuild:   req.SkipBuild,
		SkipUpload:  req.SkipUpload,
		Product:     req.Product,
		EnqueuedAt:  time.Now(),
	}

	if err := h.queue.Enqueue(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":   "queue_unavailable",
			"message": err.Error(),
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"environment": job.Environment,
		"subject":     c.GetString(middleware.SubjectKey),
	}).Info("Deployment triggered")

	c.JSON(http.StatusAccepted, models.TriggerDeploymentResponse{
		JobID:       job.ID,
		Environment: job.Environment,
		Status:      "queued",
	})
}

// List returns the recorded runs of the service, newest first
func (h *DeployHandler) List(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "history_disabled",
			"message": "Deployment history is not configured",
		})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	deployments, err := h.repo.List(c.Request.Context(), h.service.Name, limit)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to list deployments")
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Failed to retrieve deployments",
		})
		return
	}

	responses := make([]models.DeploymentResponse, 0, len(deployments))
	for _, deployment := range deployments {
		responses = append(responses, deployment.ToResponse())
	}

	c.JSON(http.StatusOK, models.DeploymentListResponse{
		Deployments: responses,
		Total:       len(responses),
	})
}
