package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/handler"
	"github.com/stemsi/exstem-proctoring/internal/middleware"
	"github.com/stemsi/exstem-proctoring/internal/response"
	"github.com/stemsi/exstem-proctoring/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Proctor      *handler.ProctorHandler
	StatusStream *handler.StatusStreamHandler
	Admin        *handler.AdminHandler
	System       *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	rdb *redis.Client,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	scopes := middleware.CacheScopes(rdb, cfg.RequestCacheTTL)

	// ─── 1. Proctoring API (LMS JWT) ───────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(limiter.Middleware(), middleware.RequireLMSJWT(authService), scopes)
	{
		api.GET("/vendor/ping", handlers.System.VendorPing)

		courses := api.Group("/courses/:course_id")
		{
			courses.GET("/participants",
				middleware.RequireCapability(service.CapViewReports),
				handlers.Proctor.ListParticipants,
			)
			courses.POST("/participants/bulk",
				middleware.RequireCapability(service.CapViewReports),
				handlers.Proctor.BulkParticipants,
			)
			courses.GET("/participants/:user_id",
				middleware.RequireAnyCapability(service.CapViewStatus, service.CapViewReports),
				handlers.Proctor.GetParticipant,
			)

			modules := courses.Group("/modules/:module_id")
			modules.GET("/sessions",
				middleware.RequireCapability(service.CapViewReports),
				handlers.Proctor.ListSessions,
			)
			modules.GET("/status",
				middleware.RequireCapability(service.CapViewStatus),
				handlers.Proctor.ModuleStatus,
			)
			modules.POST("/session/start",
				middleware.RequireCapability(service.CapViewStatus),
				handlers.Proctor.StartSession,
			)
			modules.POST("/session/close",
				middleware.RequireCapability(service.CapViewStatus),
				handlers.Proctor.CloseSession,
			)
		}

		api.GET("/modules/:module_id/sessions/latest",
			middleware.RequireAnyCapability(service.CapViewStatus, service.CapViewReports),
			handlers.Proctor.LatestSession,
		)
	}

	// ─── 2. Administration ─────────────────────────────────────────────
	admin := router.Group("/api/v1/admin")
	admin.Use(limiter.Middleware(), middleware.RequireLMSJWT(authService), middleware.RequireCapability(service.CapManage))
	{
		admin.GET("/credentials", handlers.Admin.GetCredentials)
		admin.PUT("/credentials", handlers.Admin.SaveCredentials)
		admin.GET("/failures", handlers.Admin.ListFailures)
		admin.GET("/system", handlers.System.Runtime)
	}

	// ─── 3. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireLMSWSAuth(authService), scopes)
	{
		ws.GET("/courses/:course_id/modules/:module_id/status",
			middleware.RequireCapability(service.CapViewStatus),
			handlers.StatusStream.StreamModuleStatus,
		)
	}

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	return router
}
