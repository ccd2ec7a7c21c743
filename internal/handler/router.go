package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snapattend/internal/apperrors"
	"snapattend/internal/auth"
	"snapattend/internal/httpmiddleware"
	"snapattend/internal/logger"
)

// RouterConfig holds the middleware settings of the API.
type RouterConfig struct {
	JWTSigningKey  string
	JWTIssuer      string
	AllowedOrigins []string
	Limiter        httpmiddleware.Limiter
	Metrics        interface {
		GinMiddleware() gin.HandlerFunc
		Handler() http.Handler
	}
	Logger *zap.Logger
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.HeaderRequestID},
		ExposeHeaders: []string{httpmiddleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig, h *Handler) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error("panic recovered", zap.Any("panic", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ErrInternal.Response())
	}))
	r.Use(httpmiddleware.RequestIDMiddleware())
	r.Use(logger.GinMiddleware(log, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.GinMiddleware())
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	if cfg.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(cfg.Limiter, log))
	}
	v1.POST("/auth/session", h.CreateAuthSession)

	authed := v1.Group("", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	authed.POST("/auth/logout", h.Logout)
	authed.POST("/scan/decode", h.DecodeScan)
	authed.GET("/students/me", h.Me)
	authed.POST("/attendance", auth.RequireRole(auth.RoleStudent), h.SubmitAttendance)

	teacher := authed.Group("/sessions", auth.RequireRole(auth.RoleTeacher))
	teacher.POST("", h.OpenSession)
	teacher.GET("/:id/qr.png", h.SessionQR)
	teacher.GET("/:id/records", h.SessionRecords)
	teacher.GET("/:id/live", h.SessionLive)

	r.NoRoute(func(c *gin.Context) {
		respondError(c, apperrors.WithMessage(apperrors.ErrNotFound, "route not found"))
	})
	return r
}
