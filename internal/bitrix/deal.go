package bitrix

import (
	"context"
	"encoding/json"
)

// ListDeals returns every deal attached to a company.
func (c *Client) ListDeals(ctx context.Context, companyID string) ([]Deal, error) {
	items, err := c.listAll(ctx, "crm.deal.list", map[string]interface{}{
		"filter": map[string]string{"COMPANY_ID": companyID},
		"select": []string{"*"},
	})
	if err != nil {
		return nil, err
	}

	deals := make([]Deal, 0, len(items))
	for _, raw := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		deal := Deal{
			Title:  decodeString(fields["TITLE"]),
			Fields: fields,
		}
		deal.ID, _ = normalizeRawID(fields["ID"])
		deal.CompanyID, _ = normalizeRawID(fields["COMPANY_ID"])
		deals = append(deals, deal)
	}
	return deals, nil
}

// UpdateDealCompany points a deal at a different company.
func (c *Client) UpdateDealCompany(ctx context.Context, dealID, companyID string) error {
	_, err := c.call(ctx, "crm.deal.update", map[string]interface{}{
		"id":     dealID,
		"fields": map[string]string{"COMPANY_ID": companyID},
	})
	return err
}

// GetDealProductRows returns the product lines attached to a deal. The
// portal mixes string and numeric encodings for the numeric columns.
func (c *Client) GetDealProductRows(ctx context.Context, dealID string) ([]DealProduct, error) {
	resp, err := c.call(ctx, "crm.deal.productrows.get", map[string]interface{}{"id": dealID})
	if err != nil {
		return nil, err
	}

	var rawRows []map[string]json.RawMessage
	if err := json.Unmarshal(resp.Result, &rawRows); err != nil {
		return nil, err
	}

	products := make([]DealProduct, 0, len(rawRows))
	for _, raw := range rawRows {
		productType := int(decodeFloat(raw["TYPE"]))
		if productType == 0 {
			productType = 1
		}
		product := DealProduct{
			Name:        decodeString(raw["PRODUCT_NAME"]),
			Quantity:    decodeFloat(raw["QUANTITY"]),
			Price:       decodeFloat(raw["PRICE"]),
			Measure:     decodeString(raw["MEASURE_NAME"]),
			MeasureCode: int(decodeFloat(raw["MEASURE_CODE"])),
			Type:        productType,
			IsService:   productType == 4,
		}
		product.ID, _ = normalizeRawID(raw["PRODUCT_ID"])
		product.Total = product.Price * product.Quantity
		products = append(products, product)
	}
	return products, nil
}
