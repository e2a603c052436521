package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/bustickets/service-tracking/internal/application"
	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/response"
)

// ShareHandler handles HTTP requests for location sharing.
type ShareHandler struct {
	service *application.ShareService
}

// NewShareHandler creates a new ShareHandler.
func NewShareHandler(service *application.ShareService) *ShareHandler {
	return &ShareHandler{service: service}
}

// RegisterRoutes registers the share routes.
func (h *ShareHandler) RegisterRoutes(r *gin.RouterGroup) {
	tracking := r.Group("/tracking")
	tracking.POST("/:bookingId/share", h.CreateShare)
	tracking.GET("/shares", h.ListActive)
	tracking.DELETE("/share/:token", h.RevokeShare)

	// Public deep-link route: the token is the only credential.
	tracking.GET("/shared/:token", h.GetShared)
}

type createShareRequest struct {
	BusInfo       shareDomain.BusInfo `json:"bus_info"`
	ExpiryMinutes int                 `json:"expiry_minutes"`
}

// CreateShare handles POST /api/v1/tracking/:bookingId/share.
func (h *ShareHandler) CreateShare(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if bookingID == "" {
		response.BadRequest(c, "booking id is required")
		return
	}

	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := h.service.Create(c.Request.Context(), bookingID, req.BusInfo, req.ExpiryMinutes)
	if err != nil {
		if errors.Is(err, application.ErrShareCreateFailed) {
			response.Error(c, err)
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	response.Created(c, result)
}

// GetShared handles GET /api/v1/tracking/shared/:token (public).
func (h *ShareHandler) GetShared(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "token is required")
		return
	}

	rec, err := h.service.Get(c.Request.Context(), token)
	if err != nil {
		response.NotFound(c, "share not found or expired")
		return
	}

	response.Success(c, gin.H{
		"token":      rec.Token(),
		"booking_id": rec.BookingID(),
		"bus_info":   rec.BusInfo(),
		"created_at": rec.CreatedAt(),
		"expires_at": rec.ExpiresAt(),
		"location":   rec.Location(),
		"share_link": h.service.ShareLink(rec.Token()),
	})
}

// RevokeShare handles DELETE /api/v1/tracking/share/:token. Revoking
// an unknown token succeeds: the end state is the same.
func (h *ShareHandler) RevokeShare(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "token is required")
		return
	}

	h.service.Revoke(c.Request.Context(), token)
	response.NoContent(c)
}

// ListActive handles GET /api/v1/tracking/shares.
func (h *ShareHandler) ListActive(c *gin.Context) {
	response.Success(c, h.service.ListActive(c.Request.Context()))
}
