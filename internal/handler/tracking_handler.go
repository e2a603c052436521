package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/application"
	"github.com/bustickets/service-tracking/internal/response"
	"github.com/bustickets/service-tracking/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, restrict to specific origins.
		return true
	},
}

// TrackingHandler handles HTTP and WebSocket requests for tracking.
type TrackingHandler struct {
	service *application.TrackingService
	hub     *ws.Hub
	logger  *zap.Logger
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(service *application.TrackingService, hub *ws.Hub, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{service: service, hub: hub, logger: logger}
}

// RegisterRoutes registers the REST API routes for tracking.
func (h *TrackingHandler) RegisterRoutes(r *gin.RouterGroup) {
	tracking := r.Group("/tracking")
	tracking.GET("/:bookingId", h.GetTracking)
	tracking.POST("/:bookingId/refresh", h.Refresh)
}

// RegisterWSRoute registers the WebSocket route on the engine.
func (h *TrackingHandler) RegisterWSRoute(r *gin.Engine) {
	r.GET("/ws/tracking/:bookingId", h.HandleWebSocket)
}

// GetTracking handles GET /api/v1/tracking/:bookingId. The response is
// flagged offline with its capture time when connectivity is down.
func (h *TrackingHandler) GetTracking(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if bookingID == "" {
		response.BadRequest(c, "booking id is required")
		return
	}

	view, err := h.service.GetTracking(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, application.ErrNoTrackingData) {
			response.NotFound(c, "no tracking data for booking")
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, view)
}

// Refresh handles POST /api/v1/tracking/:bookingId/refresh. While
// offline the refresh no-ops with 503 so the client can show "waiting
// for connection".
func (h *TrackingHandler) Refresh(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if bookingID == "" {
		response.BadRequest(c, "booking id is required")
		return
	}

	view, err := h.service.Refresh(c.Request.Context(), bookingID)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrWaitingForConnection):
			response.ServiceUnavailable(c, "waiting for connection")
		case errors.Is(err, application.ErrNoTrackingData):
			response.NotFound(c, "no tracking data for booking")
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, view)
}

// HandleWebSocket upgrades the connection and subscribes the client to
// a booking's live updates.
func (h *TrackingHandler) HandleWebSocket(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if bookingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &ws.Client{
		Conn:      conn,
		BookingID: bookingID,
		Send:      make(chan []byte, 64),
	}
	h.hub.Register(client)

	go client.WritePump(h.hub)
	go client.ReadPump(h.hub)
}
