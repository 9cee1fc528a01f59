package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screen-server/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	sessionH *SessionHandler,
	operatorH *OperatorHandler,
	wsH *WSHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging y recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", wsH.Serve)

	api := r.Group("/api", jsonContentTypeMiddleware())
	if jwtSvc.Enabled() {
		api.Use(JWTAuthMiddleware(jwtSvc))
	} else {
		logger.Warn("JWT_SECRET not set, /api is unauthenticated")
	}

	sessions := api.Group("/sessions")
	sessions.GET("", sessionH.ListSessions)
	sessions.GET("/:id", sessionH.GetSession)
	sessions.GET("/:id/messages", sessionH.GetMessages)
	sessions.POST("/:id/assign", sessionH.AssignSession)
	sessions.POST("/:id/close", sessionH.CloseSession)

	operators := api.Group("/operators")
	operators.GET("", operatorH.ListOperators)
	operators.POST("", RequireRole(service.RoleAdmin), operatorH.CreateOperator)
	operators.PUT("/:id/status", operatorH.UpdateStatus)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
