package router

import (
	"context"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/handler"
	"github.com/agpaii-digital/exam-portal/internal/middleware"
	"github.com/agpaii-digital/exam-portal/internal/response"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Exam   *handler.ExamPortalHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background middleware work such as rate limiter sweeps.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally. WebSocket upgrades pass through.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Member API (Member JWT, Rate Limited) ──────────────────────
	memberAPI := router.Group("/api/v1/member")
	memberAPI.Use(middleware.RequireMemberJWT(authService))
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute)
		memberAPI.Use(limiter.Middleware())
	}
	{
		memberAPI.GET("/me", handlers.Auth.GetMemberProfile)

		cbt := memberAPI.Group("/cbt")
		cbt.GET("/packages", handlers.Exam.ListPackages)
		cbt.POST("/packages/:package_id/start", handlers.Exam.StartAttempt)
		cbt.GET("/history", handlers.Exam.GetHistory)
		cbt.GET("/attempt-log", handlers.Exam.GetAttemptLog)

		exams := cbt.Group("/exams/:attempt_id")
		exams.Use(middleware.NoStore())
		{
			exams.POST("/open", handlers.Exam.OpenExam)
			exams.GET("", handlers.Exam.GetExam)
			exams.PUT("/answers", handlers.Exam.RecordAnswer)
			exams.POST("/navigate", handlers.Exam.Navigate)
			exams.POST("/refresh", handlers.Exam.RefreshExam)
			exams.POST("/submit", handlers.Exam.SubmitExam)
			exams.DELETE("", handlers.Exam.CloseExam)
			exams.GET("/result", handlers.Exam.GetResult)
		}
	}

	// ─── 2. WebSocket (Member JWT via ?token=) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireMemberWSAuth(authService))
	{
		ws.GET("/member/cbt/exams/:attempt_id/stream", handlers.WS.ExamWebSocketStream)
	}

	return router
}
