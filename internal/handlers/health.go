package handlers

import (
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/internal/services"
	"github.com/gin-gonic/gin"
)

// HealthHandler provides the health check endpoint.
type HealthHandler struct {
	index *services.ProximityIndex
}

func NewHealthHandler(index *services.ProximityIndex) *HealthHandler {
	return &HealthHandler{index: index}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Queue mode
	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	var pendingRequests int64
	models.GetDB().Model(&models.Membership{}).
		Where("status = ?", models.StatusPending).
		Count(&pendingRequests)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "gather",
		"components": gin.H{
			"database":         dbStatus,
			"queue_mode":       queueMode,
			"indexed_groups":   h.index.Len(),
			"pending_requests": pendingRequests,
		},
	})
}
