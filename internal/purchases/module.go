package purchases

import (
	apphttp "crmguard_backend/internal/http"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"
	"crmguard_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the purchases bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wires the purchases module.
func NewModule(pool *pgxpool.Pool, dir DealDirectory, cfg config.PurchasesConfig, val *validator.Validator, log *logger.Logger) *Module {
	service := NewService(dir, NewRepository(pool), cfg, log)
	return &Module{handler: NewHandler(service, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "purchases"
}

// RegisterRoutes mounts purchases routes behind JWT auth.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/purchases")
	group.GET("/deal-products", m.handler.HandleDealProducts)
	group.POST("", m.handler.HandleCreatePurchase)
}
