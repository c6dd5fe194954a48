package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Assessment *handler.AssessmentHandler
	SessionWS  *handler.SessionWSHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the rate limiter cleanup goroutine.
func SetupRouter(
	ctx context.Context,
	auth *middleware.Authenticator,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))

	// Apply brotli middleware globally. Event streams and WebSocket
	// handshakes pass through uncompressed.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// 120 requests per minute per user across the REST API.
	apiLimiter := middleware.NewRateLimiter(ctx, 120, time.Minute)

	// ─── 1. User Group (Bearer) ────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(
		middleware.RequireBearer(auth),
		apiLimiter.Middleware(),
		middleware.NoStore(),
	)
	{
		api.GET("/assessments", handlers.Assessment.GetLobby)
		api.GET("/assessments/:assessment_id/log", handlers.Assessment.GetSessionLog)
		api.GET("/sessions/current", handlers.Assessment.GetCurrentSession)
		api.POST("/sessions/current/submit", handlers.Assessment.SubmitCurrentSession)
	}

	// ─── 2. Monitor Group (Bearer + Permission) ────────────────────────
	monitor := api.Group("/monitor")
	monitor.Use(middleware.RequireAnyPermission(middleware.PermissionMonitor))
	{
		monitor.GET("/assessments/:assessment_id", handlers.Monitor.MonitorAssessmentSSE)
		monitor.GET("/assessments/:assessment_id/users/:user_id/events", handlers.Monitor.GetUserEvents)
	}

	// ─── 3. WebSocket Group (Bearer via header or ?token=) ─────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireBearer(auth))
	{
		ws.GET("/assessments/:assessment_id/stream", handlers.SessionWS.Stream)
	}

	return router
}
