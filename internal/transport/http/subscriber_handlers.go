package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
	"github.com/vovakirdan/presencebridge/internal/store"
)

// SubscriberHandlers lets an admin inspect and edit subscriber settings.
type SubscriberHandlers struct {
	svc *subscribers.Service
	log *zerolog.Logger
}

func NewSubscriberHandlers(svc *subscribers.Service, logger *zerolog.Logger) *SubscriberHandlers {
	return &SubscriberHandlers{svc: svc, log: logger}
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type languageRequest struct {
	Language string `json:"language" binding:"required"`
}

type toggleRequest struct {
	Username string `json:"username" binding:"required"`
}

// noonRequest updates the NOON flags. Username, when present, re-links the
// subscriber first.
type noonRequest struct {
	Enabled  *bool   `json:"enabled"`
	Confirm  bool    `json:"confirm"`
	Username *string `json:"username"`
}

// GetSubscriber returns one subscriber.
// GET /api/subscribers/:id
func (h *SubscriberHandlers) GetSubscriber(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	settings, err := h.svc.Get(c.Request.Context(), id)
	h.respond(c, settings, err)
}

// DeleteSubscriber removes a subscriber.
// DELETE /api/subscribers/:id
func (h *SubscriberHandlers) DeleteSubscriber(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.log.Info().Int64("subscriber_id", id).Msg("subscriber deleted via api")
	c.Status(http.StatusNoContent)
}

// SetNotificationMode handles PUT /api/subscribers/:id/notifications
func (h *SubscriberHandlers) SetNotificationMode(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	var req modeRequest
	if !bind(c, &req) {
		return
	}
	settings, err := h.svc.SetNotificationMode(c.Request.Context(), id, req.Mode)
	h.respond(c, settings, err)
}

// SetMuteMode handles PUT /api/subscribers/:id/mute-mode
func (h *SubscriberHandlers) SetMuteMode(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	var req modeRequest
	if !bind(c, &req) {
		return
	}
	settings, err := h.svc.SetMuteMode(c.Request.Context(), id, req.Mode)
	h.respond(c, settings, err)
}

// ToggleMute handles POST /api/subscribers/:id/mute/toggle
func (h *SubscriberHandlers) ToggleMute(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if !bind(c, &req) {
		return
	}
	muted, settings, err := h.svc.ToggleMute(c.Request.Context(), id, req.Username)
	if err != nil {
		h.logFailure(err, c.FullPath())
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MuteToggleResponse{
		Username:   req.Username,
		Muted:      muted,
		Subscriber: subscriberToResponse(settings),
	})
}

// SetNoon handles PUT /api/subscribers/:id/noon
func (h *SubscriberHandlers) SetNoon(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	var req noonRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var (
		settings *store.Settings
		err      error
	)
	if req.Username != nil {
		if settings, err = h.svc.LinkUsername(ctx, id, *req.Username); err != nil {
			h.respond(c, nil, err)
			return
		}
	}
	if req.Enabled != nil {
		if settings, err = h.svc.SetNoon(ctx, id, *req.Enabled); err != nil {
			h.respond(c, nil, err)
			return
		}
	}
	if req.Confirm {
		if settings, err = h.svc.ConfirmNoon(ctx, id); err != nil {
			h.respond(c, nil, err)
			return
		}
	}
	if settings == nil {
		settings, err = h.svc.Get(ctx, id)
	}
	h.respond(c, settings, err)
}

// SetLanguage handles PUT /api/subscribers/:id/language
func (h *SubscriberHandlers) SetLanguage(c *gin.Context) {
	id, ok := subscriberID(c)
	if !ok {
		return
	}
	var req languageRequest
	if !bind(c, &req) {
		return
	}
	settings, err := h.svc.SetLanguage(c.Request.Context(), id, req.Language)
	h.respond(c, settings, err)
}

func (h *SubscriberHandlers) respond(c *gin.Context, settings *store.Settings, err error) {
	if err != nil {
		h.logFailure(err, c.FullPath())
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscriberToResponse(settings))
}

func (h *SubscriberHandlers) logFailure(err error, route string) {
	h.log.Debug().Err(err).Str("route", route).Msg("subscriber request failed")
}

func subscriberID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid subscriber id"})
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}
