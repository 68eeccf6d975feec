package purchases

import (
	"net/http"
	"strings"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/httpkit"
	"crmguard_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler handles purchases HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new purchases handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// HandleDealProducts lists the product lines of a deal.
// GET /api/v1/purchases/deal-products?deal_id=
func (h *Handler) HandleDealProducts(c *gin.Context) {
	dealID := strings.TrimSpace(c.Query("deal_id"))
	if dealID == "" {
		httpkit.Error(c, http.StatusBadRequest, "deal_id parameter required", nil)
		return
	}

	products, err := h.service.DealProducts(c.Request.Context(), dealID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"success":     true,
		"deal_id":     dealID,
		"products":    products,
		"total_items": len(products),
	})
}

// CreatePurchaseRequest is the purchase creation body.
type CreatePurchaseRequest struct {
	DealID   string               `json:"deal_id" validate:"required,min=1,max=20"`
	Products []bitrix.DealProduct `json:"products" validate:"required,min=1,max=200"`
}

// HandleCreatePurchase creates a purchase item from deal products.
// POST /api/v1/purchases
func (h *Handler) HandleCreatePurchase(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	result, err := h.service.CreatePurchase(c.Request.Context(), req.DealID, req.Products)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"success":        true,
		"purchase_id":    result.PurchaseID,
		"products_count": result.ProductsCount,
		"total_amount":   result.TotalAmount,
	})
}
