// Package purchases turns deal product lines into purchase items in the
// CRM's purchases smart process and mirrors each created purchase into the
// local database.
package purchases

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"
)

// DealDirectory is the view of the CRM the purchases flow needs.
type DealDirectory interface {
	GetDealProductRows(ctx context.Context, dealID string) ([]bitrix.DealProduct, error)
	CreateSmartProcessItem(ctx context.Context, entityTypeID int, fields map[string]interface{}) (string, error)
	SetItemProductRows(ctx context.Context, entityTypeID int, itemID string, rows []bitrix.ProductRow) error
	AddTimelineComment(ctx context.Context, entityTypeID int, itemID, comment string) error
}

// PurchaseStore persists purchase mirror rows.
type PurchaseStore interface {
	InsertPurchase(ctx context.Context, p *Purchase) error
}

// Purchase is the local mirror of a created smart process purchase item.
type Purchase struct {
	PurchaseID    string
	DealID        string
	Title         string
	Status        string
	ProductsCount int
	TotalAmount   float64
	Products      []bitrix.DealProduct
}

// CreateResult reports a created purchase.
type CreateResult struct {
	PurchaseID    string  `json:"purchase_id"`
	ProductsCount int     `json:"products_count"`
	TotalAmount   float64 `json:"total_amount"`
}

// Service implements the purchases flow.
type Service struct {
	dir          DealDirectory
	store        PurchaseStore
	entityTypeID int
	log          *logger.Logger
}

// NewService wires the purchases service.
func NewService(dir DealDirectory, store PurchaseStore, cfg config.PurchasesConfig, log *logger.Logger) *Service {
	return &Service{
		dir:          dir,
		store:        store,
		entityTypeID: cfg.GetSmartProcessPurchasesID(),
		log:          log,
	}
}

// DealProducts fetches the product lines of a deal.
func (s *Service) DealProducts(ctx context.Context, dealID string) ([]bitrix.DealProduct, error) {
	id, ok := bitrix.NormalizeID(dealID)
	if !ok {
		return nil, apperr.Validation("invalid deal_id: " + dealID).WithOp("purchases.DealProducts")
	}
	return s.dir.GetDealProductRows(ctx, id)
}

// CreatePurchase creates one purchase item in the smart process for the
// given deal and products: item shell, product rows, a timeline comment
// listing the products, then the local mirror row. The comment and mirror
// writes are best effort once the item exists.
func (s *Service) CreatePurchase(ctx context.Context, dealID string, products []bitrix.DealProduct) (*CreateResult, error) {
	const op = "purchases.CreatePurchase"

	id, ok := bitrix.NormalizeID(dealID)
	if !ok {
		return nil, apperr.Validation("invalid deal_id: " + dealID).WithOp(op)
	}
	if len(products) == 0 {
		return nil, apperr.Validation("products list is required").WithOp(op)
	}

	var total float64
	for _, p := range products {
		total += p.Total
	}

	dealIDNum, _ := strconv.ParseInt(id, 10, 64)
	title := fmt.Sprintf("Purchase for deal #%s: %.2f total, %d products", id, total, len(products))

	itemID, err := s.dir.CreateSmartProcessItem(ctx, s.entityTypeID, map[string]interface{}{
		"title":       title,
		"parentId2":   dealIDNum,
		"opportunity": total,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]bitrix.ProductRow, 0, len(products))
	for _, p := range products {
		row := bitrix.ProductRow{
			ProductName: p.Name,
			Price:       p.Price,
			Quantity:    p.Quantity,
		}
		if productID, err := strconv.ParseInt(p.ID, 10, 64); err == nil {
			row.ProductID = productID
		}
		rows = append(rows, row)
	}
	if err := s.dir.SetItemProductRows(ctx, s.entityTypeID, itemID, rows); err != nil {
		s.log.Warn("could not attach product rows to purchase", "purchase_id", itemID, "error", err.Error())
	}

	if err := s.dir.AddTimelineComment(ctx, s.entityTypeID, itemID, productsComment(id, products, total)); err != nil {
		s.log.Warn("could not add purchase timeline comment", "purchase_id", itemID, "error", err.Error())
	}

	purchase := &Purchase{
		PurchaseID:    itemID,
		DealID:        id,
		Title:         "Purchase for deal #" + id,
		Status:        "new",
		ProductsCount: len(products),
		TotalAmount:   total,
		Products:      products,
	}
	if err := s.store.InsertPurchase(ctx, purchase); err != nil {
		s.log.DatabaseError("insert purchase mirror row", err)
	}

	return &CreateResult{
		PurchaseID:    itemID,
		ProductsCount: len(products),
		TotalAmount:   total,
	}, nil
}

func productsComment(dealID string, products []bitrix.DealProduct, total float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purchase created from deal #%s\n", dealID)
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s (ID: %s) - %g %s x %.2f = %.2f\n",
			i+1, p.Name, p.ID, p.Quantity, p.Measure, p.Price, p.Total)
	}
	fmt.Fprintf(&b, "Total: %.2f", total)
	return b.String()
}
