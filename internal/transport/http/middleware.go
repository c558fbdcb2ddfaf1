package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/auth"
)

const (
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
	// ContextKeyRole is the context key for storing the token role.
	ContextKeyRole = "role"
)

// AuthMiddleware creates a middleware that validates JWT tokens. The token
// comes from the Authorization header, or from the token query parameter for
// WebSocket clients that cannot set headers.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.Request)
		if !ok {
			logger.Debug().Msg("missing or malformed authorization")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AdminOnly lets a request through when isAdmin accepts it and hands it to
// deny otherwise.
func AdminOnly(isAdmin func(*gin.Context) bool, deny gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			deny(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// HasAdminRole checks the role stored by AuthMiddleware.
func HasAdminRole(c *gin.Context) bool {
	return c.GetString(ContextKeyRole) == auth.RoleAdmin
}

// DenyForbidden renders the default 403 response.
func DenyForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin role required"})
}

// RequireAdmin guards a plain net/http handler with the same checks as
// AuthMiddleware followed by AdminOnly(HasAdminRole, DenyForbidden). WebSocket
// handlers are mounted this way so Accept gets the raw ResponseWriter.
func RequireAdmin(authService *auth.Service, logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			logger.Debug().Msg("missing or malformed authorization")
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing authorization"})
			return
		}
		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		if claims.Role != auth.RoleAdmin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
