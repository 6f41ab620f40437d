package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/services"
	"voxlobby/internal/infrastructure/middleware"
)

// LobbyHandler serves the lobby over HTTP: the password gate, the room list,
// and room creation. Joining the audio session itself happens client-side
// through the session coordinator, not through this API.
type LobbyHandler struct {
	registry  *services.RoomRegistry
	permanent map[domain.RoomID]struct{}
	secret    string
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
}

func NewLobbyHandler(
	registry *services.RoomRegistry,
	permanent []domain.RoomID,
	secret string,
	limiter *rate.Limiter,
	logger *zap.SugaredLogger,
) *LobbyHandler {
	set := make(map[domain.RoomID]struct{}, len(permanent))
	for _, id := range permanent {
		set[id] = struct{}{}
	}
	return &LobbyHandler{
		registry:  registry,
		permanent: set,
		secret:    secret,
		limiter:   limiter,
		logger:    logger,
	}
}

func (h *LobbyHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.POST("/api/v1/login", h.Login)

	api := router.Group("/api/v1")
	api.Use(middleware.SharedSecret(h.secret))
	{
		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", middleware.RateLimit(h.limiter), h.CreateRoom)
	}
}

func (h *LobbyHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *LobbyHandler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect password"})
		return
	}
	c.SetCookie(middleware.SessionCookie, h.secret, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type roomResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CreatedAt    int64  `json:"created_at"`
	Participants int    `json:"participants"`
	Permanent    bool   `json:"permanent"`
}

func (h *LobbyHandler) ListRooms(c *gin.Context) {
	rooms, err := h.registry.Rooms(c.Request.Context())
	if err != nil {
		h.logger.Warnw("failed to list rooms", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "directory unavailable"})
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		_, permanent := h.permanent[room.ID]
		out = append(out, roomResponse{
			ID:           string(room.ID),
			Name:         room.Name,
			CreatedAt:    room.CreatedAt,
			Participants: room.Participants,
			Permanent:    permanent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *LobbyHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), req.Name)
	switch {
	case errors.Is(err, domain.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Warnw("failed to create room", "name", req.Name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "directory unavailable"})
		return
	}

	c.JSON(http.StatusCreated, roomResponse{
		ID:           string(room.ID),
		Name:         room.Name,
		CreatedAt:    room.CreatedAt,
		Participants: room.Participants,
	})
}
