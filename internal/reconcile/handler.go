package reconcile

import (
	"net/http"
	"strings"

	"crmguard_backend/platform/httpkit"
	"crmguard_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler handles reconciliation HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// ---- Webhook entry point (public) ----

// companyCheckRequest is the inbound webhook body. The CRM is inconsistent
// about the field name, so both spellings are accepted.
type companyCheckRequest struct {
	BitrixID string `json:"bitrix_id"`
	ID       string `json:"id"`
}

// HandleCompanyCheck runs duplicate resolution for one company.
// POST /api/v1/webhook/company-check
// GET  /api/v1/webhook/company-check?bitrix_id=
func (h *Handler) HandleCompanyCheck(c *gin.Context) {
	companyID := h.extractCompanyID(c)
	if companyID == "" {
		httpkit.Error(c, http.StatusBadRequest, "bitrix_id is required", nil)
		return
	}

	meta := RequestMeta{Source: httpkit.ExtractSourceInfo(c), Method: c.Request.Method}
	result, err := h.service.CheckCompany(c.Request.Context(), companyID, meta)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"success": true, "result": result})
}

func (h *Handler) extractCompanyID(c *gin.Context) string {
	if c.Request.Method == http.MethodGet {
		id := c.Query("bitrix_id")
		if id == "" {
			id = c.Query("id")
		}
		return strings.TrimSpace(id)
	}

	var req companyCheckRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		if req.BitrixID != "" {
			return strings.TrimSpace(req.BitrixID)
		}
		if req.ID != "" {
			return strings.TrimSpace(req.ID)
		}
	}

	// Bitrix business-process webhooks deliver form-encoded bodies.
	if id := c.PostForm("bitrix_id"); id != "" {
		return strings.TrimSpace(id)
	}
	return strings.TrimSpace(c.PostForm("id"))
}

// ---- Operator endpoints (JWT authenticated) ----

// HandleDiagnose returns the per-requisite duplicate picture for an INN.
// GET /api/v1/reconcile/diagnose?inn=
func (h *Handler) HandleDiagnose(c *gin.Context) {
	inn := strings.TrimSpace(c.Query("inn"))

	report, err := h.service.DiagnoseINN(c.Request.Context(), inn)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"success": true, "result": report})
}

// RestoreRequest carries the snapshot an operator wants restored.
type RestoreRequest struct {
	Snapshot *Snapshot `json:"snapshot" validate:"required"`
}

// HandleRestore rebuilds a deleted company from an audit snapshot.
// POST /api/v1/reconcile/restore
func (h *Handler) HandleRestore(c *gin.Context) {
	var req RestoreRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.RestoreCompany(c.Request.Context(), req.Snapshot, operatorMeta(c))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"success": true, "result": result})
}

// CleanOrphansRequest names the INN whose stale requisites get swept.
type CleanOrphansRequest struct {
	INN string `json:"inn" validate:"required,min=4,max=20"`
}

// HandleCleanOrphans deletes requisites whose owning company is gone.
// POST /api/v1/reconcile/clean-orphans
func (h *Handler) HandleCleanOrphans(c *gin.Context) {
	var req CleanOrphansRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.CleanOrphans(c.Request.Context(), strings.TrimSpace(req.INN), operatorMeta(c))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"success": true, "result": result})
}

// BulkDeleteRequest lists companies an operator wants removed.
type BulkDeleteRequest struct {
	CompanyIDs []string `json:"company_ids" validate:"required,min=1,max=100,dive,min=1,max=20"`
	INN        string   `json:"inn"`
}

// HandleBulkDelete removes a list of companies with per-item results.
// POST /api/v1/reconcile/companies/delete
func (h *Handler) HandleBulkDelete(c *gin.Context) {
	var req BulkDeleteRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.DeleteCompanies(c.Request.Context(), req.CompanyIDs, strings.TrimSpace(req.INN), operatorMeta(c))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"success": true, "result": result})
}

// operatorMeta builds request metadata for authenticated routes, recording
// which operator triggered the action in the audit trail.
func operatorMeta(c *gin.Context) RequestMeta {
	source := httpkit.ExtractSourceInfo(c)
	if id, ok := httpkit.UserID(c); ok {
		source.Operator = id.String()
	}
	return RequestMeta{Source: source, Method: c.Request.Method}
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}
