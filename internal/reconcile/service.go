// Package reconcile implements INN duplicate detection and repair for CRM
// companies: webhook-driven resolution, pre-delete snapshots with
// operator-driven restore, orphaned requisite cleanup and the audit log
// that ties the decisions together.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/httpkit"
	"crmguard_backend/platform/logger"
)

// Decision outcome values as stored in the audit log.
const (
	StatusSuccess          = "success"
	StatusDuplicateFound   = "duplicate_found"
	StatusDuplicateOldGone = "duplicate_but_old_missing"
	StatusNoINN            = "no_inn"
	StatusError            = "error"
)

// Webhook types distinguishing which operation wrote an audit row.
const (
	TypeCheckINN        = "check_inn"
	TypeRestoreCompany  = "restore_company"
	TypeCleanOrphans    = "clean_orphans"
	TypeDeleteCompanies = "delete_companies"
)

// sentinelIDs are test and placeholder company IDs the CRM sends during
// webhook configuration. They are expected noise, rejected without auditing.
var sentinelIDs = map[string]bool{
	"0":      true,
	"999999": true,
}

// Directory is the view of the CRM the reconciliation flows need.
type Directory interface {
	GetCompany(ctx context.Context, id string) (*bitrix.Company, error)
	CompanyExists(ctx context.Context, id string) (bool, error)
	FindCompanyIDsByINN(ctx context.Context, inn string) ([]string, error)
	FindRequisitesByINN(ctx context.Context, inn string) ([]bitrix.Requisite, error)
	CreateCompany(ctx context.Context, fields map[string]interface{}) (string, error)
	DeleteCompany(ctx context.Context, id string) error
	CreateRequisite(ctx context.Context, fields map[string]interface{}) (string, error)
	DeleteRequisite(ctx context.Context, id string) error
	UpdateDealCompany(ctx context.Context, dealID, companyID string) error
	CreateTask(ctx context.Context, responsibleID, title, description, companyID string) (string, error)
	NotifyUser(ctx context.Context, userID, message string) error
}

// DecisionStore persists audit decisions and the company cache.
type DecisionStore interface {
	InsertDecision(ctx context.Context, d *Decision) error
	InsertDecisionAndCacheCompany(ctx context.Context, d *Decision, companyID, inn, title string) error
}

// SweepScheduler enqueues deferred orphan sweeps. May be nil when no queue
// is configured; scheduling failures are never fatal to the main flow.
type SweepScheduler interface {
	ScheduleOrphanSweep(ctx context.Context, inn string) error
}

// Decision is one audit log row.
type Decision struct {
	WebhookType    string
	INN            string
	CompanyID      string
	RequestPayload map[string]interface{}
	Status         string
	DuplicateFound bool
	ActionTaken    string
	SourceInfo     string
	RequestMethod  string
}

// RequestMeta carries caller information into audit rows.
type RequestMeta struct {
	Source httpkit.SourceInfo
	Method string
}

// CheckResult is the outcome of one duplicate resolution.
type CheckResult struct {
	Duplicate    bool   `json:"duplicate"`
	INN          string `json:"inn,omitempty"`
	CompanyID    string `json:"company_id"`
	SurvivorID   string `json:"survivor_id,omitempty"`
	SurvivorGone bool   `json:"survivor_missing,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	TaskCreated  bool   `json:"task_created,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Message      string `json:"message"`
	Status       string `json:"-"`
}

// Service orchestrates duplicate resolution, restore and cleanup.
type Service struct {
	dir       Directory
	store     DecisionStore
	sweeps    SweepScheduler
	log       *logger.Logger
	portalURL string
}

// NewService wires the reconciliation service. sweeps may be nil.
func NewService(dir Directory, store DecisionStore, sweeps SweepScheduler, portalURL string, log *logger.Logger) *Service {
	return &Service{
		dir:       dir,
		store:     store,
		sweeps:    sweeps,
		log:       log,
		portalURL: strings.TrimRight(portalURL, "/"),
	}
}

// CheckCompany resolves one inbound company-created notification.
//
// Invalid and sentinel IDs are rejected up front without any remote fetch or
// audit row. A company that no longer exists resolves as benign not-found,
// which also makes redelivery after a delete idempotent. Destructive action
// happens only after the survivor passed a second live check and the
// snapshot was captured.
func (s *Service) CheckCompany(ctx context.Context, rawID string, meta RequestMeta) (*CheckResult, error) {
	const op = "reconcile.CheckCompany"

	companyID, ok := bitrix.NormalizeID(rawID)
	if !ok || sentinelIDs[companyID] {
		return nil, apperr.Validation("test or invalid company ID: " + rawID).WithOp(op)
	}

	payload := map[string]interface{}{"bitrix_id": companyID, "method": meta.Method}

	company, err := s.dir.GetCompany(ctx, companyID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Deleted before we got here, or a second delivery after our
			// own delete. Benign either way.
			return nil, err
		}
		s.audit(ctx, &Decision{
			WebhookType:    TypeCheckINN,
			CompanyID:      companyID,
			RequestPayload: payload,
			Status:         StatusError,
			ActionTaken:    "Failed to get company data: " + err.Error(),
			SourceInfo:     meta.Source.String(),
			RequestMethod:  meta.Method,
		})
		return nil, err
	}

	inn := strings.TrimSpace(company.INN)
	if inn == "" {
		return s.handleMissingINN(ctx, company, payload, meta)
	}

	others, err := s.verifiedOthers(ctx, inn, companyID)
	if err != nil {
		s.audit(ctx, &Decision{
			WebhookType:    TypeCheckINN,
			INN:            inn,
			CompanyID:      companyID,
			RequestPayload: payload,
			Status:         StatusError,
			ActionTaken:    "Duplicate search failed: " + err.Error(),
			SourceInfo:     meta.Source.String(),
			RequestMethod:  meta.Method,
		})
		return nil, err
	}

	if len(others) == 0 {
		decision := &Decision{
			WebhookType:    TypeCheckINN,
			INN:            inn,
			CompanyID:      companyID,
			RequestPayload: payload,
			Status:         StatusSuccess,
			ActionTaken:    fmt.Sprintf("No duplicate for INN %s, company %s cached", inn, companyID),
			SourceInfo:     meta.Source.String(),
			RequestMethod:  meta.Method,
		}
		if err := s.store.InsertDecisionAndCacheCompany(ctx, decision, companyID, inn, company.Title); err != nil {
			s.log.DatabaseError("insert decision with cache upsert", err)
		}
		s.log.Decision(companyID, inn, StatusSuccess, false)
		return &CheckResult{
			Duplicate: false,
			INN:       inn,
			CompanyID: companyID,
			Status:    StatusSuccess,
			Message:   "INN is unique, company cached",
		}, nil
	}

	survivor := others[0]

	// The verified set can go stale between the search and this point, so
	// the survivor gets one more explicit existence check before anything
	// destructive happens.
	survivorLive, err := s.dir.CompanyExists(ctx, survivor)
	if err != nil {
		survivorLive = false
		s.log.Warn("survivor re-check failed, treating as missing", "survivor_id", survivor, "error", err.Error())
	}
	if !survivorLive {
		action := fmt.Sprintf("Duplicate INN %s, but survivor %s is no longer live; keeping company %s", inn, survivor, companyID)
		s.audit(ctx, &Decision{
			WebhookType:    TypeCheckINN,
			INN:            inn,
			CompanyID:      companyID,
			RequestPayload: payload,
			Status:         StatusDuplicateOldGone,
			ActionTaken:    action,
			SourceInfo:     meta.Source.String(),
			RequestMethod:  meta.Method,
		})
		s.log.Decision(companyID, inn, StatusDuplicateOldGone, false)
		return &CheckResult{
			Duplicate:    false,
			INN:          inn,
			CompanyID:    companyID,
			SurvivorID:   survivor,
			SurvivorGone: true,
			Status:       StatusDuplicateOldGone,
			Message:      action,
		}, nil
	}

	// Capture must happen strictly before the delete. A delete without a
	// usable snapshot is unrecoverable, so a capture failure aborts here.
	snapshot, err := CaptureSnapshot(company)
	if err != nil {
		return nil, err
	}
	payload["deleted_company_data"] = snapshot

	deleted := true
	action := fmt.Sprintf("Deleted duplicate company %s (INN %s already held by %s)", companyID, inn, survivor)
	if err := s.dir.DeleteCompany(ctx, companyID); err != nil {
		deleted = false
		action = fmt.Sprintf("Failed to delete duplicate company %s: %v", companyID, err)
	}

	s.audit(ctx, &Decision{
		WebhookType:    TypeCheckINN,
		INN:            inn,
		CompanyID:      companyID,
		RequestPayload: payload,
		Status:         StatusDuplicateFound,
		DuplicateFound: true,
		ActionTaken:    action,
		SourceInfo:     meta.Source.String(),
		RequestMethod:  meta.Method,
	})
	s.log.Decision(companyID, inn, StatusDuplicateFound, true)

	if deleted && s.sweeps != nil {
		if err := s.sweeps.ScheduleOrphanSweep(ctx, inn); err != nil {
			s.log.Warn("could not schedule orphan sweep", "inn", inn, "error", err.Error())
		}
	}

	return &CheckResult{
		Duplicate:  true,
		INN:        inn,
		CompanyID:  companyID,
		SurvivorID: survivor,
		Deleted:    deleted,
		Status:     StatusDuplicateFound,
		Message:    action,
	}, nil
}

// handleMissingINN creates a remediation task for the company owner and a
// best-effort notification. Neither failure blocks the decision.
func (s *Service) handleMissingINN(ctx context.Context, company *bitrix.Company, payload map[string]interface{}, meta RequestMeta) (*CheckResult, error) {
	assignee := company.StringField("ASSIGNED_BY_ID")
	if assignee == "" {
		assignee = company.StringField("CREATED_BY_ID")
	}
	if assignee == "" {
		assignee = "1"
	}

	title := "Fill in company requisites: " + company.Title
	description := fmt.Sprintf(
		"The company [%s](%s/crm/company/details/%s/) was created without an INN.\n\n"+
			"Automatic duplicate detection does not work until the INN is filled in.",
		company.Title, s.portalURL, company.ID,
	)

	action := "Company has no INN"
	result := &CheckResult{
		Duplicate: false,
		CompanyID: company.ID,
		Status:    StatusNoINN,
		Message:   "Company has no INN, remediation task created",
	}

	taskID, err := s.dir.CreateTask(ctx, assignee, title, description, company.ID)
	if err != nil {
		action += " | Failed to create task: " + err.Error()
	} else {
		action += " | Task created: " + taskID
		result.TaskCreated = true
		result.TaskID = taskID

		notification := fmt.Sprintf("Company %q was created without an INN. Please fill in its requisites so duplicate detection can run.", company.Title)
		if err := s.dir.NotifyUser(ctx, assignee, notification); err != nil {
			s.log.Warn("could not notify company owner", "company_id", company.ID, "user_id", assignee, "error", err.Error())
		}
	}

	s.audit(ctx, &Decision{
		WebhookType:    TypeCheckINN,
		CompanyID:      company.ID,
		RequestPayload: payload,
		Status:         StatusNoINN,
		ActionTaken:    action,
		SourceInfo:     meta.Source.String(),
		RequestMethod:  meta.Method,
	})
	s.log.Decision(company.ID, "", StatusNoINN, false)

	return result, nil
}

// verifiedOthers searches requisites for the INN, collects distinct owning
// company IDs and keeps only those confirmed live right now, excluding the
// company under review. Requisite indexes lag behind deletions, so a
// candidate counts only after its own existence check passes.
func (s *Service) verifiedOthers(ctx context.Context, inn, selfID string) ([]string, error) {
	candidates, err := s.dir.FindCompanyIDsByINN(ctx, inn)
	if err != nil {
		return nil, err
	}

	var others []string
	for _, candidate := range candidates {
		if candidate == selfID {
			continue
		}
		live, err := s.dir.CompanyExists(ctx, candidate)
		if err != nil {
			s.log.Warn("candidate verification failed, skipping", "candidate_id", candidate, "error", err.Error())
			continue
		}
		if live {
			others = append(others, candidate)
		}
	}
	return others, nil
}

// liveCompanyIDs returns the set of companies holding the INN that are
// confirmed live, including the full candidate verification pass.
func (s *Service) liveCompanyIDs(ctx context.Context, inn string) (map[string]bool, error) {
	candidates, err := s.dir.FindCompanyIDsByINN(ctx, inn)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool)
	for _, candidate := range candidates {
		exists, err := s.dir.CompanyExists(ctx, candidate)
		if err != nil {
			s.log.Warn("liveness check failed, treating as missing", "company_id", candidate, "error", err.Error())
			continue
		}
		if exists {
			live[candidate] = true
		}
	}
	return live, nil
}

// RestoreCompany rebuilds a deleted company from its snapshot under a new
// identity. Dependent requisites and deals restore best-effort: individual
// failures are collected, not fatal, as long as the company shell exists.
func (s *Service) RestoreCompany(ctx context.Context, snapshot *Snapshot, meta RequestMeta) (*RestoreResult, error) {
	const op = "reconcile.RestoreCompany"

	if snapshot == nil || len(snapshot.Fields) == 0 {
		return nil, apperr.Validation("snapshot is empty or missing").WithOp(op)
	}

	newID, err := s.dir.CreateCompany(ctx, snapshot.companyFields())
	if err != nil {
		s.audit(ctx, &Decision{
			WebhookType:    TypeRestoreCompany,
			INN:            snapshot.INN,
			RequestPayload: map[string]interface{}{"original_id": snapshot.CompanyID},
			Status:         StatusError,
			ActionTaken:    "Failed to restore company: " + err.Error(),
			SourceInfo:     meta.Source.String(),
			RequestMethod:  meta.Method,
		})
		return nil, err
	}

	result := &RestoreResult{
		NewCompanyID:    newID,
		OriginalID:      snapshot.CompanyID,
		RequisitesTotal: len(snapshot.Requisites),
		DealsTotal:      len(snapshot.Deals),
	}

	for _, req := range snapshot.Requisites {
		if _, err := s.dir.CreateRequisite(ctx, req.requisiteFields(newID)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("requisite %s: %v", req.ID, err))
			continue
		}
		result.RequisitesRestored++
	}

	for _, deal := range snapshot.Deals {
		if err := s.dir.UpdateDealCompany(ctx, deal.ID, newID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("deal %s: %v", deal.ID, err))
			continue
		}
		result.DealsRestored++
	}

	s.audit(ctx, &Decision{
		WebhookType: TypeRestoreCompany,
		INN:         snapshot.INN,
		CompanyID:   newID,
		RequestPayload: map[string]interface{}{
			"original_id": snapshot.CompanyID,
			"result":      result,
		},
		Status: StatusSuccess,
		ActionTaken: fmt.Sprintf("Company restored as %s (was %s): %d/%d requisites, %d/%d deals",
			newID, snapshot.CompanyID, result.RequisitesRestored, result.RequisitesTotal,
			result.DealsRestored, result.DealsTotal),
		SourceInfo:    meta.Source.String(),
		RequestMethod: meta.Method,
	})

	return result, nil
}

// audit writes a decision row. The remote mutation already happened by the
// time this runs, so a failed write is logged and swallowed rather than
// turned into a false failure of the operation itself.
func (s *Service) audit(ctx context.Context, d *Decision) {
	if err := s.store.InsertDecision(ctx, d); err != nil {
		s.log.DatabaseError("insert audit decision", err)
	}
}
