package http

import (
	"context"
	"net/http"
	"time"

	"crmguard_backend/platform/config"
	"crmguard_backend/platform/httpkit"
	"crmguard_backend/platform/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Pinger reports database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig is the configuration surface the router needs.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// NewRouter builds the gin engine, mounts shared middleware and registers
// every module's routes.
func NewRouter(cfg RouterConfig, env string, db Pinger, log *logger.Logger, modules ...Module) *gin.Engine {
	if env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(log))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(cfg))

	// One webhook burst from the CRM is a handful of requests; anything
	// beyond this per IP is abuse.
	limiter := httpkit.NewIPRateLimiter(rate.Limit(10), 30, log)
	engine.Use(limiter.RateLimit())

	engine.GET("/api/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = "unreachable"
		}
		c.JSON(status, gin.H{"status": "ok", "database": dbStatus})
	})

	v1 := engine.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(httpkit.AuthRequired(cfg))

	routerCtx := &RouterContext{
		Engine:          engine,
		V1:              v1,
		Protected:       protected,
		Config:          cfg,
		AuthRateLimiter: httpkit.NewAuthRateLimiter(log),
	}

	for _, module := range modules {
		module.RegisterRoutes(routerCtx)
		log.Info("module routes registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(cfg config.HTTPConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Auth-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.GetCORSOrigins()
	}
	return cors.New(corsCfg)
}
