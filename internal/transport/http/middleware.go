package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/store"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
)

// ErrorResponse is the JSON body of a failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// credentials extracts the bearer token from the Authorization header, falling
// back to the token query parameter for browser websocket clients.
func credentials(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware resolves the caller with the identity resolver.
func AuthMiddleware(identity core.IdentityResolver, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := credentials(c.Request)
		if token == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header", Code: core.ErrCodeUnauthorized})
			return
		}

		userID, err := identity.ResolveCurrentUser(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, core.ErrUnauthenticated) {
				logger.Debug().Err(err).Msg("invalid token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: core.ErrCodeUnauthorized})
				return
			}
			logger.Error().Err(err).Msg("resolve identity")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporary storage failure, try again", Code: core.ErrCodeStorage})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// currentUser returns the user stored by AuthMiddleware.
func currentUser(c *gin.Context) (store.UserID, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(store.UserID)
	return id, ok
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

// statusFor maps a core error to its HTTP status.
func statusFor(err error) int {
	switch core.AsCoreError(err).Code {
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case core.ErrCodeAccessDenied:
		return http.StatusForbidden
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	ce := core.AsCoreError(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}
