package reconcile

import (
	apphttp "crmguard_backend/internal/http"
	"crmguard_backend/platform/logger"
	"crmguard_backend/platform/validator"
)

// Module is the reconciliation bounded context implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule wires the reconciliation module.
func NewModule(dir Directory, store DecisionStore, sweeps SweepScheduler, portalURL string, val *validator.Validator, log *logger.Logger) *Module {
	service := NewService(dir, store, sweeps, portalURL, log)
	return &Module{
		handler: NewHandler(service, val),
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "reconcile"
}

// Service exposes the reconciliation service for the background worker.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts reconciliation routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public webhook entry, called by the CRM itself
	ctx.V1.POST("/webhook/company-check", m.handler.HandleCompanyCheck)
	ctx.V1.GET("/webhook/company-check", m.handler.HandleCompanyCheck)

	// Operator endpoints behind JWT auth
	ops := ctx.Protected.Group("/reconcile")
	ops.GET("/diagnose", m.handler.HandleDiagnose)
	ops.POST("/restore", m.handler.HandleRestore)
	ops.POST("/clean-orphans", m.handler.HandleCleanOrphans)
	ops.POST("/companies/delete", m.handler.HandleBulkDelete)
}
