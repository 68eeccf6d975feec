package reconcile

import (
	"context"
	"fmt"

	"crmguard_backend/platform/apperr"
)

// CleanupResult reports one orphan sweep.
type CleanupResult struct {
	INN          string   `json:"inn"`
	CleanedCount int      `json:"cleaned_count"`
	Errors       []string `json:"errors,omitempty"`
}

// BulkDeleteResult reports a bulk company delete with per-item outcomes.
type BulkDeleteResult struct {
	Deleted []string          `json:"deleted"`
	Failed  []BulkDeleteError `json:"failed,omitempty"`
}

// BulkDeleteError is one failed item of a bulk delete.
type BulkDeleteError struct {
	CompanyID string `json:"company_id"`
	Error     string `json:"error"`
}

// DiagnosisRow is one requisite line of an INN diagnosis.
type DiagnosisRow struct {
	CompanyID     string `json:"company_id"`
	RequisiteID   string `json:"requisite_id"`
	Title         string `json:"title"`
	RequisiteName string `json:"requisite_name,omitempty"`
	DateCreate    string `json:"date_create,omitempty"`
	INN           string `json:"inn"`
	KPP           string `json:"kpp,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

// DiagnosisReport shows every live company and requisite holding an INN,
// plus how many requisites turned out to be orphaned.
type DiagnosisReport struct {
	INN                string         `json:"inn"`
	Rows               []DiagnosisRow `json:"rows"`
	TotalCompanies     int            `json:"total_companies"`
	TotalRequisites    int            `json:"total_requisites"`
	OrphanedRequisites int            `json:"orphaned_requisites"`
}

// CleanOrphans deletes every requisite carrying the INN whose owning company
// is no longer live. Each deletion is independent: failures are collected
// and counted but never stop the sweep.
func (s *Service) CleanOrphans(ctx context.Context, inn string, meta RequestMeta) (*CleanupResult, error) {
	const op = "reconcile.CleanOrphans"

	if inn == "" {
		return nil, apperr.Validation("inn is required").WithOp(op)
	}

	requisites, err := s.dir.FindRequisitesByINN(ctx, inn)
	if err != nil {
		return nil, err
	}

	live, err := s.liveCompanyIDs(ctx, inn)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{INN: inn}
	for _, req := range requisites {
		if req.EntityID != "" && live[req.EntityID] {
			continue
		}
		if err := s.dir.DeleteRequisite(ctx, req.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("requisite %s: %v", req.ID, err))
			continue
		}
		result.CleanedCount++
	}

	s.audit(ctx, &Decision{
		WebhookType:    TypeCleanOrphans,
		INN:            inn,
		RequestPayload: map[string]interface{}{"inn": inn, "result": result},
		Status:         StatusSuccess,
		ActionTaken:    fmt.Sprintf("Cleaned %d orphaned requisites for INN %s", result.CleanedCount, inn),
		SourceInfo:     meta.Source.String(),
		RequestMethod:  meta.Method,
	})
	s.log.Info("orphan sweep finished", "inn", inn, "cleaned", result.CleanedCount, "failed", len(result.Errors))

	return result, nil
}

// DiagnoseINN builds the per-requisite view of every company holding an INN.
// Operators use it to see duplicate and orphan state before acting.
func (s *Service) DiagnoseINN(ctx context.Context, inn string) (*DiagnosisReport, error) {
	const op = "reconcile.DiagnoseINN"

	if inn == "" {
		return nil, apperr.Validation("inn is required").WithOp(op)
	}

	requisites, err := s.dir.FindRequisitesByINN(ctx, inn)
	if err != nil {
		return nil, err
	}

	live, err := s.liveCompanyIDs(ctx, inn)
	if err != nil {
		return nil, err
	}

	report := &DiagnosisReport{
		INN:             inn,
		Rows:            make([]DiagnosisRow, 0, len(requisites)),
		TotalCompanies:  len(live),
		TotalRequisites: len(requisites),
	}

	for _, req := range requisites {
		if req.EntityID == "" || !live[req.EntityID] {
			report.OrphanedRequisites++
			continue
		}

		row := DiagnosisRow{
			CompanyID:   req.EntityID,
			RequisiteID: req.ID,
			INN:         req.INN,
		}

		company, err := s.dir.GetCompany(ctx, req.EntityID)
		if err == nil {
			row.Title = company.Title
			row.DateCreate = company.StringField("DATE_CREATE")
			if len(company.Phones) > 0 {
				row.Phone = company.Phones[0].Value
			}
			if len(company.Emails) > 0 {
				row.Email = company.Emails[0].Value
			}
			for _, full := range company.Requisites {
				if full.ID != req.ID {
					continue
				}
				row.RequisiteName = decodeSnapshotString(full.Fields["RQ_NAME"])
				row.KPP = decodeSnapshotString(full.Fields["RQ_KPP"])
			}
		}

		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

// DeleteCompanies removes a list of companies. Per-item results are
// collected so the operator sees exactly which deletions went through.
func (s *Service) DeleteCompanies(ctx context.Context, companyIDs []string, inn string, meta RequestMeta) (*BulkDeleteResult, error) {
	const op = "reconcile.DeleteCompanies"

	if len(companyIDs) == 0 {
		return nil, apperr.Validation("company_ids is required").WithOp(op)
	}

	result := &BulkDeleteResult{}
	for _, companyID := range companyIDs {
		if err := s.dir.DeleteCompany(ctx, companyID); err != nil {
			result.Failed = append(result.Failed, BulkDeleteError{CompanyID: companyID, Error: err.Error()})
			continue
		}
		result.Deleted = append(result.Deleted, companyID)
	}

	s.audit(ctx, &Decision{
		WebhookType:    TypeDeleteCompanies,
		INN:            inn,
		RequestPayload: map[string]interface{}{"company_ids": companyIDs, "result": result},
		Status:         StatusSuccess,
		ActionTaken:    fmt.Sprintf("Bulk delete: %d removed, %d failed", len(result.Deleted), len(result.Failed)),
		SourceInfo:     meta.Source.String(),
		RequestMethod:  meta.Method,
	})

	return result, nil
}
