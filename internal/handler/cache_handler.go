package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bustickets/service-tracking/internal/application"
	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/response"
)

// CacheHandler exposes the offline cache and connectivity controls:
// the explicit clear-all operation and an ops hook to force the
// connected flag (useful for drills and integration tests).
type CacheHandler struct {
	service *application.OfflineService
	monitor *connectivity.Monitor
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(service *application.OfflineService, monitor *connectivity.Monitor) *CacheHandler {
	return &CacheHandler{service: service, monitor: monitor}
}

// RegisterRoutes registers the cache and connectivity routes.
func (h *CacheHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.DELETE("/cache", h.ClearAll)
	r.GET("/connectivity", h.GetConnectivity)
	r.POST("/connectivity", h.SetConnectivity)
}

// ClearAll handles DELETE /api/v1/cache: removes every cached entry
// under the cache namespaces. The offline action queue is untouched.
func (h *CacheHandler) ClearAll(c *gin.Context) {
	cleared := h.service.ClearAllCachedData(c.Request.Context())
	response.Success(c, gin.H{"cleared": cleared})
}

// GetConnectivity handles GET /api/v1/connectivity.
func (h *CacheHandler) GetConnectivity(c *gin.Context) {
	response.Success(c, gin.H{"connected": h.monitor.IsConnected()})
}

type setConnectivityRequest struct {
	Connected *bool `json:"connected" binding:"required"`
}

// SetConnectivity handles POST /api/v1/connectivity. Flipping the flag
// to true triggers the offline queue replay, same as a real reconnect.
func (h *CacheHandler) SetConnectivity(c *gin.Context) {
	var req setConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "connected flag is required")
		return
	}

	h.monitor.Set(*req.Connected)
	response.Success(c, gin.H{"connected": h.monitor.IsConnected()})
}
