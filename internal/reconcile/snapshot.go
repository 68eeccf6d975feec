package reconcile

import (
	"encoding/json"
	"strings"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/apperr"
)

// companyFieldDeny lists company fields that must not be copied into a
// restored record: identifiers, audit timestamps and the derived tax number.
// Multi-value fields are excluded here because they are rebuilt separately
// with their value types intact.
var companyFieldDeny = map[string]struct{}{
	"ID":            {},
	"COMPANY_ID":    {},
	"DATE_CREATE":   {},
	"DATE_MODIFY":   {},
	"CREATED_BY_ID": {},
	"MODIFY_BY_ID":  {},
	"RQ_INN":        {},
	"PHONE":         {},
	"EMAIL":         {},
	"WEB":           {},
	"IM":            {},
}

// requisiteFieldDeny lists requisite fields regenerated by the CRM on create.
var requisiteFieldDeny = map[string]struct{}{
	"ID":            {},
	"ENTITY_ID":     {},
	"DATE_CREATE":   {},
	"DATE_MODIFY":   {},
	"CREATED_BY_ID": {},
	"MODIFY_BY_ID":  {},
}

// Snapshot is the full serialized state of a company captured immediately
// before deletion. It is embedded into the audit row of the deleting
// decision and is the sole input for a later restore. The original ID is
// kept as metadata only; restore always creates a record under a new ID.
type Snapshot struct {
	CompanyID string                     `json:"company_id"`
	INN       string                     `json:"inn"`
	Title     string                     `json:"title"`
	Fields    map[string]json.RawMessage `json:"fields"`

	Phones     []bitrix.MultiField `json:"phones,omitempty"`
	Emails     []bitrix.MultiField `json:"emails,omitempty"`
	Webs       []bitrix.MultiField `json:"webs,omitempty"`
	Messengers []bitrix.MultiField `json:"messengers,omitempty"`

	Requisites []RequisiteSnapshot `json:"requisites"`
	Deals      []DealRef           `json:"deals"`
}

// RequisiteSnapshot preserves the raw requisite payload for re-creation.
type RequisiteSnapshot struct {
	ID     string                     `json:"id"`
	INN    string                     `json:"inn"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// DealRef identifies a deal that was attached to the snapshotted company.
// Deals are re-parented on restore, never copied, so the reference is enough.
type DealRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// RestoreResult reports a best-effort restore: the parent company outcome
// plus per-dependent counts and collected failures.
type RestoreResult struct {
	NewCompanyID       string   `json:"new_company_id"`
	OriginalID         string   `json:"original_id"`
	RequisitesRestored int      `json:"requisites_restored"`
	RequisitesTotal    int      `json:"requisites_total"`
	DealsRestored      int      `json:"deals_restored"`
	DealsTotal         int      `json:"deals_total"`
	Errors             []string `json:"errors,omitempty"`
}

// CaptureSnapshot serializes a fully enriched company. It fails rather than
// produce an empty snapshot: a deletion backed by an unusable snapshot is
// unrecoverable, so the caller must not delete when capture errors.
func CaptureSnapshot(company *bitrix.Company) (*Snapshot, error) {
	if company == nil || len(company.Fields) == 0 {
		return nil, apperr.Internal("cannot snapshot company without field data").WithOp("reconcile.CaptureSnapshot")
	}

	snap := &Snapshot{
		CompanyID:  company.ID,
		INN:        company.INN,
		Title:      company.Title,
		Fields:     company.Fields,
		Phones:     company.Phones,
		Emails:     company.Emails,
		Webs:       company.Webs,
		Messengers: company.Messengers,
	}

	snap.Requisites = make([]RequisiteSnapshot, 0, len(company.Requisites))
	for _, req := range company.Requisites {
		snap.Requisites = append(snap.Requisites, RequisiteSnapshot{
			ID:     req.ID,
			INN:    req.INN,
			Fields: req.Fields,
		})
	}

	snap.Deals = make([]DealRef, 0, len(company.Deals))
	for _, deal := range company.Deals {
		snap.Deals = append(snap.Deals, DealRef{ID: deal.ID, Title: deal.Title})
	}

	return snap, nil
}

// companyFields builds the field map for recreating the company shell:
// every non-empty scalar outside the deny set, plus the multi-value lists.
func (s *Snapshot) companyFields() map[string]interface{} {
	fields := make(map[string]interface{})

	for key, raw := range s.Fields {
		if _, denied := companyFieldDeny[key]; denied {
			continue
		}
		value, ok := scalarString(raw)
		if !ok || value == "" {
			continue
		}
		fields[key] = value
	}

	title := s.Title
	if title == "" {
		title = "Restored company " + s.CompanyID
	}
	fields["TITLE"] = title

	for name, values := range map[string][]bitrix.MultiField{
		"PHONE": s.Phones,
		"EMAIL": s.Emails,
		"WEB":   s.Webs,
		"IM":    s.Messengers,
	} {
		if len(values) > 0 {
			fields[name] = values
		}
	}

	return fields
}

// requisiteFields builds the field map for recreating one requisite under a
// new owning company.
func (r *RequisiteSnapshot) requisiteFields(newCompanyID string) map[string]interface{} {
	fields := map[string]interface{}{
		"ENTITY_TYPE_ID": bitrix.EntityTypeCompany,
		"ENTITY_ID":      newCompanyID,
	}

	for key, raw := range r.Fields {
		if _, denied := requisiteFieldDeny[key]; denied {
			continue
		}
		value, ok := scalarString(raw)
		if !ok || value == "" {
			continue
		}
		fields[key] = value
	}

	return fields
}

// scalarString decodes a raw JSON value as a scalar string. Arrays and
// objects report not-ok so structured fields never leak into a flat copy.
func scalarString(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "Y", true
		}
		return "N", true
	}
	return "", false
}

// decodeSnapshotString is scalarString without the ok flag for callers that
// treat missing and structured values the same as empty.
func decodeSnapshotString(raw json.RawMessage) string {
	s, _ := scalarString(raw)
	return s
}
