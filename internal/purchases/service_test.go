package purchases

import (
	"context"
	"strings"
	"testing"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/logger"
)

type fakeDealDirectory struct {
	products     map[string][]bitrix.DealProduct
	createdItems []map[string]interface{}
	rowsByItem   map[string][]bitrix.ProductRow
	comments     []string
	nextItemID   string
}

func newFakeDealDirectory() *fakeDealDirectory {
	return &fakeDealDirectory{
		products:   make(map[string][]bitrix.DealProduct),
		rowsByItem: make(map[string][]bitrix.ProductRow),
		nextItemID: "700",
	}
}

func (f *fakeDealDirectory) GetDealProductRows(ctx context.Context, dealID string) ([]bitrix.DealProduct, error) {
	return f.products[dealID], nil
}

func (f *fakeDealDirectory) CreateSmartProcessItem(ctx context.Context, entityTypeID int, fields map[string]interface{}) (string, error) {
	f.createdItems = append(f.createdItems, fields)
	return f.nextItemID, nil
}

func (f *fakeDealDirectory) SetItemProductRows(ctx context.Context, entityTypeID int, itemID string, rows []bitrix.ProductRow) error {
	f.rowsByItem[itemID] = rows
	return nil
}

func (f *fakeDealDirectory) AddTimelineComment(ctx context.Context, entityTypeID int, itemID, comment string) error {
	f.comments = append(f.comments, comment)
	return nil
}

type fakePurchaseStore struct {
	inserted []*Purchase
}

func (f *fakePurchaseStore) InsertPurchase(ctx context.Context, p *Purchase) error {
	f.inserted = append(f.inserted, p)
	return nil
}

type fakePurchasesConfig struct{}

func (fakePurchasesConfig) GetSmartProcessPurchasesID() int { return 1036 }
func (fakePurchasesConfig) IsPurchasesEnabled() bool        { return true }

func sampleProducts() []bitrix.DealProduct {
	return []bitrix.DealProduct{
		{ID: "10", Name: "Widget", Quantity: 2, Price: 100, Total: 200, Measure: "pcs"},
		{ID: "11", Name: "Install", Quantity: 1, Price: 50, Total: 50, Measure: "pcs", Type: 4, IsService: true},
	}
}

func TestCreatePurchase(t *testing.T) {
	dir := newFakeDealDirectory()
	store := &fakePurchaseStore{}
	service := NewService(dir, store, fakePurchasesConfig{}, logger.New("test"))

	result, err := service.CreatePurchase(context.Background(), "42", sampleProducts())
	if err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}

	if result.PurchaseID != "700" || result.ProductsCount != 2 || result.TotalAmount != 250 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if len(dir.createdItems) != 1 {
		t.Fatalf("expected one smart process item, got %d", len(dir.createdItems))
	}
	item := dir.createdItems[0]
	if item["parentId2"] != int64(42) || item["opportunity"] != float64(250) {
		t.Errorf("item must be linked to the deal with the total amount, got %v", item)
	}

	rows := dir.rowsByItem["700"]
	if len(rows) != 2 || rows[0].ProductID != 10 || rows[0].Quantity != 2 {
		t.Errorf("unexpected product rows: %+v", rows)
	}

	if len(dir.comments) != 1 || !strings.Contains(dir.comments[0], "Widget") {
		t.Errorf("timeline comment must list the products, got %v", dir.comments)
	}

	if len(store.inserted) != 1 || store.inserted[0].DealID != "42" || store.inserted[0].Status != "new" {
		t.Errorf("unexpected mirror row: %+v", store.inserted)
	}
}

func TestCreatePurchaseValidation(t *testing.T) {
	service := NewService(newFakeDealDirectory(), &fakePurchaseStore{}, fakePurchasesConfig{}, logger.New("test"))

	if _, err := service.CreatePurchase(context.Background(), "abc", sampleProducts()); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("non-numeric deal id must be rejected, got %v", err)
	}
	if _, err := service.CreatePurchase(context.Background(), "42", nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("empty products must be rejected, got %v", err)
	}
}

func TestDealProductsValidatesID(t *testing.T) {
	dir := newFakeDealDirectory()
	dir.products["42"] = sampleProducts()
	service := NewService(dir, &fakePurchaseStore{}, fakePurchasesConfig{}, logger.New("test"))

	products, err := service.DealProducts(context.Background(), "42")
	if err != nil || len(products) != 2 {
		t.Fatalf("expected 2 products, got (%v, %v)", products, err)
	}

	if _, err := service.DealProducts(context.Background(), "x"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("invalid deal id must be rejected, got %v", err)
	}
}
