package bitrix

import (
	"context"
	"encoding/json"

	"crmguard_backend/platform/apperr"
)

// ListRequisites returns every requisite attached to a company.
func (c *Client) ListRequisites(ctx context.Context, companyID string) ([]Requisite, error) {
	items, err := c.listAll(ctx, "crm.requisite.list", map[string]interface{}{
		"filter": map[string]string{"ENTITY_ID": companyID, "ENTITY_TYPE_ID": EntityTypeCompany},
	})
	if err != nil {
		return nil, err
	}
	return decodeRequisites(items), nil
}

// CreateRequisite creates a requisite from a raw field map and returns its ID.
func (c *Client) CreateRequisite(ctx context.Context, fields map[string]interface{}) (string, error) {
	resp, err := c.call(ctx, "crm.requisite.add", map[string]interface{}{"fields": fields})
	if err != nil {
		return "", err
	}

	id, ok := normalizeRawID(resp.Result)
	if !ok {
		return "", apperr.Internal("portal returned no requisite id").WithOp("bitrix.CreateRequisite")
	}
	return id, nil
}

// DeleteRequisite removes a requisite from the portal.
func (c *Client) DeleteRequisite(ctx context.Context, requisiteID string) error {
	_, err := c.call(ctx, "crm.requisite.delete", map[string]interface{}{"id": requisiteID})
	return err
}

func decodeRequisites(items []json.RawMessage) []Requisite {
	requisites := make([]Requisite, 0, len(items))
	for _, raw := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		req := Requisite{
			INN:    decodeString(fields["RQ_INN"]),
			Fields: fields,
		}
		req.ID, _ = normalizeRawID(fields["ID"])
		req.EntityID, _ = normalizeRawID(fields["ENTITY_ID"])
		requisites = append(requisites, req)
	}
	return requisites
}

// FindRequisitesByINN returns every requisite carrying the given tax number
// regardless of owner type. The orphan sweep works from this unfiltered view
// so stale requisites of deleted owners are visible.
func (c *Client) FindRequisitesByINN(ctx context.Context, inn string) ([]Requisite, error) {
	items, err := c.listAll(ctx, "crm.requisite.list", map[string]interface{}{
		"filter": map[string]string{"RQ_INN": inn},
		"select": []string{"ID", "ENTITY_ID", "ENTITY_TYPE_ID", "RQ_INN"},
	})
	if err != nil {
		return nil, err
	}
	return decodeRequisites(items), nil
}
