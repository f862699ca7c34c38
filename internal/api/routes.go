package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/internal/auth"
	"github.com/hsapsbch-blip/betapdoc/internal/websocket"
	"github.com/hsapsbch-blip/betapdoc/usecase"
)

const (
	defaultAttemptLimit = 20
	maxAttemptLimit     = 100

	readerIDKey = "reader_id"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, issuer *auth.Issuer, practices *usecase.PracticeService, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		_, connected := hub.Connected()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":           "ok",
			"service":          "betapdoc-server",
			"reader_connected": connected,
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/reader/auth", func(c echo.Context) error {
		return readerAuth(c, issuer, logger)
	})

	v1.GET("/attempts", func(c echo.Context) error {
		return listAttempts(c, practices, logger)
	}, requireReader(issuer, logger))

	// WebSocket endpoint with JWT validation. Browsers cannot set headers on
	// the upgrade request, so the token may also come as ?token=.
	e.GET("/ws", func(c echo.Context) error {
		return hub.HandleWebSocket(c, c.Get(readerIDKey).(string))
	}, requireReader(issuer, logger))
}

func readerAuth(c echo.Context, issuer *auth.Issuer, logger *zap.Logger) error {
	var req ReaderAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind reader auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if strings.TrimSpace(req.AccessCode) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Access code is required",
		})
	}

	token, readerID, expiresAt, err := issuer.AuthenticateReader(req.AccessCode)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAccessCode) {
			logger.Warn("Reader authentication failed", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "authentication_failed",
				Message: "Invalid access code",
			})
		}
		logger.Error("Failed to generate reader token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Reader authenticated successfully", zap.String("reader_id", readerID))

	return c.JSON(http.StatusOK, ReaderAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ReaderID:  readerID,
	})
}

func listAttempts(c echo.Context, practices *usecase.PracticeService, logger *zap.Logger) error {
	readerID := c.Get(readerIDKey).(string)

	limit := defaultAttemptLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxAttemptLimit)
	}

	attempts, err := practices.History(c.Request().Context(), readerID, limit)
	if err != nil {
		logger.Error("Failed to list practice attempts",
			zap.String("reader_id", readerID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load practice history",
		})
	}

	return c.JSON(http.StatusOK, AttemptsResponse{
		Attempts: attempts,
		Count:    len(attempts),
	})
}

// requireReader validates the reader token and stores the reader ID on the
// request context
func requireReader(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token",
					zap.String("path", c.Path()),
					zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(readerIDKey, claims.ReaderID)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
