package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/presencebridge/internal/auth"
	"github.com/vovakirdan/presencebridge/internal/config"
	"github.com/vovakirdan/presencebridge/internal/service/subscribers"
)

// Deps are the services the admin API is built on.
type Deps struct {
	Registry    Registry
	Subscribers *subscribers.Service
	Auth        *auth.Service
	// Gatherer backs /metrics. nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// LoginLimiter throttles POST /api/login. nil disables throttling.
	LoginLimiter *rate.Limiter
}

// NewServer builds an HTTP server with the admin routes.
func NewServer(cfg config.HTTPConfig, deps Deps, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the presence stream on a plain mux next to the gin
// engine. gin's writer refuses the hijack websocket.Accept needs.
func NewHandler(deps Deps, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws/presence", RequireAdmin(deps.Auth, logger, NewPresenceStream(deps.Registry, 0, logger)))
	mux.Handle("/", NewEngine(deps, logger))
	return mux
}

// NewEngine registers the REST routes on a fresh gin engine.
func NewEngine(deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(deps.Auth, logger)
	servers := NewServerHandlers(deps.Registry, logger)
	subs := NewSubscriberHandlers(deps.Subscribers, logger)

	r.GET("/health", api.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	r.POST("/api/login", RateLimit(deps.LoginLimiter), api.Login)

	guard := []gin.HandlerFunc{AuthMiddleware(deps.Auth, logger), AdminOnly(HasAdminRole, DenyForbidden)}

	authed := r.Group("/api", guard...)
	{
		authed.GET("/servers", servers.ListServers)
		authed.GET("/servers/:key", servers.GetServer)
		authed.GET("/servers/:key/users", servers.ListUsers)
		authed.GET("/servers/:key/accounts", servers.ListAccounts)
		authed.POST("/servers/:key/reconnect", servers.Reconnect)

		authed.GET("/subscribers/:id", subs.GetSubscriber)
		authed.DELETE("/subscribers/:id", subs.DeleteSubscriber)
		authed.PUT("/subscribers/:id/notifications", subs.SetNotificationMode)
		authed.PUT("/subscribers/:id/mute-mode", subs.SetMuteMode)
		authed.POST("/subscribers/:id/mute/toggle", subs.ToggleMute)
		authed.PUT("/subscribers/:id/noon", subs.SetNoon)
		authed.PUT("/subscribers/:id/language", subs.SetLanguage)
	}

	return r
}
