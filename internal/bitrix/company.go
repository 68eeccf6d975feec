package bitrix

import (
	"context"
	"encoding/json"

	"crmguard_backend/platform/apperr"
)

// GetCompany fetches a company with every field the portal exposes and
// enriches it with its requisites and deals. When the company card itself
// carries no tax number the requisites are consulted as a fallback.
func (c *Client) GetCompany(ctx context.Context, companyID string) (*Company, error) {
	resp, err := c.call(ctx, "crm.company.get", map[string]interface{}{"id": companyID})
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resp.Result, &fields); err != nil {
		return nil, apperr.Internal("decode company payload").WithOp("bitrix.GetCompany")
	}

	company := &Company{
		ID:     companyID,
		Title:  decodeString(fields["TITLE"]),
		INN:    decodeString(fields["RQ_INN"]),
		Fields: fields,
	}
	if id, ok := normalizeRawID(fields["ID"]); ok {
		company.ID = id
	}
	company.Phones = decodeMultiField(fields["PHONE"])
	company.Emails = decodeMultiField(fields["EMAIL"])
	company.Webs = decodeMultiField(fields["WEB"])
	company.Messengers = decodeMultiField(fields["IM"])

	requisites, err := c.ListRequisites(ctx, companyID)
	if err != nil {
		return nil, err
	}
	company.Requisites = requisites

	if company.INN == "" {
		for _, req := range requisites {
			if req.INN != "" {
				company.INN = req.INN
				break
			}
		}
	}

	deals, err := c.ListDeals(ctx, companyID)
	if err != nil {
		return nil, err
	}
	company.Deals = deals

	return company, nil
}

// CompanyExists reports whether a company is currently live in the CRM.
// A not-found response is an answer, not an error.
func (c *Client) CompanyExists(ctx context.Context, companyID string) (bool, error) {
	_, err := c.call(ctx, "crm.company.get", map[string]interface{}{"id": companyID})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindCompanyIDsByINN returns IDs of every company whose requisites carry the
// given tax number. Matching goes through requisites because the company list
// endpoint cannot filter on requisite fields.
func (c *Client) FindCompanyIDsByINN(ctx context.Context, inn string) ([]string, error) {
	items, err := c.listAll(ctx, "crm.requisite.list", map[string]interface{}{
		"filter": map[string]string{"RQ_INN": inn, "ENTITY_TYPE_ID": EntityTypeCompany},
		"select": []string{"ID", "ENTITY_ID", "RQ_INN"},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, raw := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		entityID, ok := normalizeRawID(fields["ENTITY_ID"])
		if !ok || seen[entityID] {
			continue
		}
		seen[entityID] = true
		ids = append(ids, entityID)
	}
	return ids, nil
}

// CreateCompany creates a company from a raw field map and returns its ID.
func (c *Client) CreateCompany(ctx context.Context, fields map[string]interface{}) (string, error) {
	resp, err := c.call(ctx, "crm.company.add", map[string]interface{}{"fields": fields})
	if err != nil {
		return "", err
	}

	id, ok := normalizeRawID(resp.Result)
	if !ok {
		return "", apperr.Internal("portal returned no company id").WithOp("bitrix.CreateCompany")
	}
	return id, nil
}

// DeleteCompany removes a company from the portal.
func (c *Client) DeleteCompany(ctx context.Context, companyID string) error {
	_, err := c.call(ctx, "crm.company.delete", map[string]interface{}{"id": companyID})
	return err
}

func decodeMultiField(raw json.RawMessage) []MultiField {
	if len(raw) == 0 {
		return nil
	}
	var values []MultiField
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
