package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/auth"
	"github.com/MarcoPoloResearchLab/pinboard/internal/builder"
	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"github.com/MarcoPoloResearchLab/pinboard/internal/pins"
	"github.com/MarcoPoloResearchLab/pinboard/internal/preferences"
	"github.com/MarcoPoloResearchLab/pinboard/internal/syncview"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "pinboard_user_id"
	defaultHeartbeatInterval = 25 * time.Second
	healthCheckTimeout       = 2 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingPinRepository    = errors.New("pin repository dependency required")
	errMissingStoryRepository  = errors.New("story repository dependency required")
	errMissingStoryFeed        = errors.New("story feed dependency required")
	errMissingPreferences      = errors.New("preference store dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// PinRepository is the pin persistence exposed over HTTP.
type PinRepository interface {
	Save(ctx context.Context, req pins.SaveRequest) error
	Delete(ctx context.Context, id string) bool
	RemoveAllForBasemap(ctx context.Context, basemapTag string) int
	List(ctx context.Context) ([]pins.Pin, error)
}

// StoryRepository is the story persistence exposed over HTTP.
type StoryRepository interface {
	Create(ctx context.Context, name string) (string, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) bool
	RemoveAll(ctx context.Context) int
}

// Settings are the presentation values hosts read to drive their builders.
type Settings struct {
	MarkerSize        int
	MarginDegrees     float64
	AnimationDuration time.Duration
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	SessionValidator  SessionValidator
	Pins              PinRepository
	Stories           StoryRepository
	StoryFeed         syncview.Source
	Preferences       preferences.Store
	StoriesLocation   *time.Location
	Settings          Settings
	Dispatch          builder.Dispatch
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler validates the dependencies and builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Pins == nil {
		return nil, errMissingPinRepository
	}
	if deps.Stories == nil {
		return nil, errMissingStoryRepository
	}
	if deps.StoryFeed == nil {
		return nil, errMissingStoryFeed
	}
	if deps.Preferences == nil {
		return nil, errMissingPreferences
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := deps.StoriesLocation
	if location == nil {
		location = time.UTC
	}
	dispatch := deps.Dispatch
	if dispatch == nil {
		dispatch = builder.GoDispatch
	}
	settings := deps.Settings
	if settings.MarginDegrees <= 0 {
		settings.MarginDegrees = builder.DefaultMarginDegrees
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:    deps.SessionValidator,
		pins:        deps.Pins,
		stories:     deps.Stories,
		storyFeed:   deps.StoryFeed,
		preferences: deps.Preferences,
		location:    location,
		settings:    settings,
		dispatch:    dispatch,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/settings", handler.handleSettings)
	protected.GET("/pins", handler.handleListPins)
	protected.GET("/pins/:id/region", handler.handlePinRegion)
	protected.POST("/pins", handler.handleSavePin)
	protected.DELETE("/pins/:id", handler.handleDeletePin)
	protected.DELETE("/pins", handler.handleRemovePinsForBasemap)
	protected.GET("/stories/stream", handler.handleStoriesStream)
	protected.POST("/stories", handler.handleCreateStory)
	protected.PATCH("/stories/:id", handler.handleRenameStory)
	protected.DELETE("/stories/:id", handler.handleDeleteStory)
	protected.DELETE("/stories", handler.handleRemoveAllStories)
	protected.GET("/preferences/basemap", handler.handleGetBasemap)
	protected.PUT("/preferences/basemap", handler.handleSetBasemap)

	return router, nil
}

type httpHandler struct {
	sessions    SessionValidator
	pins        PinRepository
	stories     StoryRepository
	storyFeed   syncview.Source
	preferences preferences.Store
	location    *time.Location
	settings    Settings
	dispatch    builder.Dispatch
	heartbeat   time.Duration
	logger      *zap.Logger
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

// pinger is implemented by preference stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if remote, ok := h.preferences.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := remote.Ping(ctx); err != nil {
			h.logger.Warn("preference store unreachable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type savePinPayload struct {
	Color     string   `json:"color"`
	Name      string   `json:"name"`
	ID        string   `json:"id"`
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	IsUpdate  bool     `json:"isUpdate"`
	Basemap   string   `json:"basemap"`
}

func (h *httpHandler) handleListPins(c *gin.Context) {
	stored, err := h.pins.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pins": stored})
}

func (h *httpHandler) handlePinRegion(c *gin.Context) {
	stored, err := h.pins.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	id := c.Param("id")
	for _, pin := range stored {
		if pin.Metadata.ID != id {
			continue
		}
		location := pin.Data.Location
		c.JSON(http.StatusOK, builder.RegionAround(location.Longitude, location.Latitude, h.settings.MarginDegrees))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
}

func (h *httpHandler) handleSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"markerSize":          h.settings.MarkerSize,
		"marginDegrees":       h.settings.MarginDegrees,
		"animationDurationMs": h.settings.AnimationDuration.Milliseconds(),
	})
}

func (h *httpHandler) handleSavePin(c *gin.Context) {
	var payload savePinPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Longitude == nil || payload.Latitude == nil || strings.TrimSpace(payload.Color) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if payload.IsUpdate && strings.TrimSpace(payload.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_id"})
		return
	}

	req := pins.SaveRequest{
		Color:      payload.Color,
		Name:       payload.Name,
		ID:         payload.ID,
		Longitude:  *payload.Longitude,
		Latitude:   *payload.Latitude,
		IsUpdate:   payload.IsUpdate,
		BasemapTag: payload.Basemap,
	}
	target := req.ID
	if !req.IsUpdate {
		target = pins.DeriveID(req.Longitude, req.Latitude)
	}

	writeCtx := context.WithoutCancel(c.Request.Context())
	h.dispatch(func() {
		_ = h.pins.Save(writeCtx, req)
	})
	c.JSON(http.StatusAccepted, gin.H{"id": target})
}

func (h *httpHandler) handleDeletePin(c *gin.Context) {
	deleted := h.pins.Delete(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleRemovePinsForBasemap(c *gin.Context) {
	tag := strings.TrimSpace(c.Query("basemap"))
	if tag == "" {
		active, ok, err := h.preferences.ActiveBasemapTag(c.Request.Context())
		if err != nil {
			h.logger.Error("failed to read active basemap", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preferences_unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "no_active_basemap"})
			return
		}
		tag = active
	}
	removed := h.pins.RemoveAllForBasemap(c.Request.Context(), tag)
	c.JSON(http.StatusOK, gin.H{"basemap": tag, "removed": removed})
}

type storyPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateStory(c *gin.Context) {
	var payload storyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id, err := h.stories.Create(c.Request.Context(), payload.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *httpHandler) handleRenameStory(c *gin.Context) {
	var payload storyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.stories.Rename(c.Request.Context(), c.Param("id"), payload.Name)
	switch {
	case errors.Is(err, documents.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename_failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *httpHandler) handleDeleteStory(c *gin.Context) {
	deleted := h.stories.Delete(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleRemoveAllStories(c *gin.Context) {
	removed := h.stories.RemoveAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type basemapPayload struct {
	Basemap string `json:"basemap"`
}

func (h *httpHandler) handleGetBasemap(c *gin.Context) {
	tag, ok, err := h.preferences.ActiveBasemapTag(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read active basemap", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preferences_unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_basemap"})
		return
	}
	c.JSON(http.StatusOK, basemapPayload{Basemap: tag})
}

func (h *httpHandler) handleSetBasemap(c *gin.Context) {
	var payload basemapPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.preferences.SetActiveBasemapTag(c.Request.Context(), payload.Basemap)
	switch {
	case errors.Is(err, preferences.ErrEmptyBasemapTag):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_basemap"})
	case err != nil:
		h.logger.Error("failed to save active basemap", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preferences_unavailable"})
	default:
		c.Status(http.StatusNoContent)
	}
}
