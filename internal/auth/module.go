package auth

import (
	apphttp "crmguard_backend/internal/http"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"
	"crmguard_backend/platform/validator"

	"golang.org/x/crypto/bcrypt"
)

// Module is the auth bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wires the auth module with the bcrypt password checker.
func NewModule(cfg config.AuthServiceConfig, val *validator.Validator, log *logger.Logger) *Module {
	service := NewService(cfg, bcrypt.CompareHashAndPassword, log)
	return &Module{handler: NewHandler(service, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "auth"
}

// RegisterRoutes mounts auth routes with the stricter auth rate limit.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/auth")
	group.Use(ctx.AuthRateLimiter.RateLimit())
	group.POST("/login", m.handler.HandleLogin)
}
