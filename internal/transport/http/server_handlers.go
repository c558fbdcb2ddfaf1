package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/core"
	"github.com/vovakirdan/presencebridge/internal/proto"
	"github.com/vovakirdan/presencebridge/internal/voice"
)

// Registry is the read and control surface of the presence router.
type Registry interface {
	Servers(ctx context.Context) ([]core.ServerStatus, error)
	Server(ctx context.Context, key string) (core.ServerStatus, error)
	OnlineUsers(ctx context.Context, key string) ([]voice.User, error)
	Accounts(ctx context.Context, key string) ([]voice.Account, bool, error)
	Reconnect(ctx context.Context, key string) error
	Subscribe(buffer int) (<-chan proto.PresenceChange, func())
}

// ServerHandlers exposes the configured voice servers.
type ServerHandlers struct {
	registry Registry
	log      *zerolog.Logger
}

func NewServerHandlers(registry Registry, logger *zerolog.Logger) *ServerHandlers {
	return &ServerHandlers{registry: registry, log: logger}
}

// ListServers returns all servers.
// GET /api/servers
func (h *ServerHandlers) ListServers(c *gin.Context) {
	statuses, err := h.registry.Servers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list servers")
		writeError(c, err)
		return
	}
	out := make([]ServerResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, serverToResponse(st))
	}
	c.JSON(http.StatusOK, out)
}

// GetServer returns one server.
// GET /api/servers/:key
func (h *ServerHandlers) GetServer(c *gin.Context) {
	st, err := h.registry.Server(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, serverToResponse(st))
}

// ListUsers returns the cached online users.
// GET /api/servers/:key/users
func (h *ServerHandlers) ListUsers(c *gin.Context) {
	users, err := h.registry.OnlineUsers(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usersToResponse(users))
}

// ListAccounts returns the cached registered accounts.
// GET /api/servers/:key/accounts
func (h *ServerHandlers) ListAccounts(c *gin.Context) {
	accounts, loaded, err := h.registry.Accounts(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccountsResponse{Loaded: loaded, Accounts: accountsToResponse(accounts)})
}

// Reconnect forces a reconnect cycle.
// POST /api/servers/:key/reconnect
func (h *ServerHandlers) Reconnect(c *gin.Context) {
	key := c.Param("key")
	if err := h.registry.Reconnect(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	h.log.Info().Str("server", key).Str("by", c.GetString(ContextKeyUsername)).Msg("reconnect requested via api")
	c.Status(http.StatusAccepted)
}
