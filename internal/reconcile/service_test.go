package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"crmguard_backend/internal/bitrix"
	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/logger"
)

// fakeDirectory simulates the CRM with an eventually consistent requisite
// index: candidatesByINN may reference companies no longer in companies.
type fakeDirectory struct {
	companies       map[string]*bitrix.Company
	candidatesByINN map[string][]string
	requisitesByINN map[string][]bitrix.Requisite

	// vanishAfterChecks makes a company disappear after N successful
	// existence checks, simulating a delete racing the resolver.
	vanishAfterChecks map[string]int
	existsChecks      map[string]int

	getCalls          int
	deletedCompanies  []string
	deletedRequisites []string
	createdCompanies  []map[string]interface{}
	createdRequisites []map[string]interface{}
	reassignedDeals   map[string]string
	tasks             []string
	notifications     []string

	nextCompanyID   string
	failRequisiteBy string
	failDelete      bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		companies:         make(map[string]*bitrix.Company),
		candidatesByINN:   make(map[string][]string),
		requisitesByINN:   make(map[string][]bitrix.Requisite),
		vanishAfterChecks: make(map[string]int),
		existsChecks:      make(map[string]int),
		reassignedDeals:   make(map[string]string),
		nextCompanyID:     "9000",
	}
}

func (f *fakeDirectory) alive(id string) bool {
	if _, ok := f.companies[id]; !ok {
		return false
	}
	limit, limited := f.vanishAfterChecks[id]
	return !limited || f.existsChecks[id] < limit
}

func (f *fakeDirectory) GetCompany(ctx context.Context, id string) (*bitrix.Company, error) {
	f.getCalls++
	company, ok := f.companies[id]
	if !ok {
		return nil, apperr.NotFound("entity not found in CRM")
	}
	return company, nil
}

func (f *fakeDirectory) CompanyExists(ctx context.Context, id string) (bool, error) {
	alive := f.alive(id)
	f.existsChecks[id]++
	return alive, nil
}

func (f *fakeDirectory) FindCompanyIDsByINN(ctx context.Context, inn string) ([]string, error) {
	return f.candidatesByINN[inn], nil
}

func (f *fakeDirectory) FindRequisitesByINN(ctx context.Context, inn string) ([]bitrix.Requisite, error) {
	return f.requisitesByINN[inn], nil
}

func (f *fakeDirectory) CreateCompany(ctx context.Context, fields map[string]interface{}) (string, error) {
	f.createdCompanies = append(f.createdCompanies, fields)
	return f.nextCompanyID, nil
}

func (f *fakeDirectory) DeleteCompany(ctx context.Context, id string) error {
	if f.failDelete {
		return errors.New("portal refused the delete")
	}
	if _, ok := f.companies[id]; !ok {
		return apperr.NotFound("entity not found in CRM")
	}
	delete(f.companies, id)
	f.deletedCompanies = append(f.deletedCompanies, id)
	return nil
}

func (f *fakeDirectory) CreateRequisite(ctx context.Context, fields map[string]interface{}) (string, error) {
	if name, _ := fields["RQ_NAME"].(string); name != "" && name == f.failRequisiteBy {
		return "", errors.New("requisite rejected by portal")
	}
	f.createdRequisites = append(f.createdRequisites, fields)
	return fmt.Sprintf("r%d", len(f.createdRequisites)), nil
}

func (f *fakeDirectory) DeleteRequisite(ctx context.Context, id string) error {
	f.deletedRequisites = append(f.deletedRequisites, id)
	return nil
}

func (f *fakeDirectory) UpdateDealCompany(ctx context.Context, dealID, companyID string) error {
	f.reassignedDeals[dealID] = companyID
	return nil
}

func (f *fakeDirectory) CreateTask(ctx context.Context, responsibleID, title, description, companyID string) (string, error) {
	f.tasks = append(f.tasks, title)
	return "t1", nil
}

func (f *fakeDirectory) NotifyUser(ctx context.Context, userID, message string) error {
	f.notifications = append(f.notifications, message)
	return nil
}

type fakeStore struct {
	decisions []*Decision
	cached    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{cached: make(map[string]string)}
}

func (f *fakeStore) InsertDecision(ctx context.Context, d *Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) InsertDecisionAndCacheCompany(ctx context.Context, d *Decision, companyID, inn, title string) error {
	f.decisions = append(f.decisions, d)
	f.cached[companyID] = inn
	return nil
}

type fakeSweeps struct {
	scheduled []string
}

func (f *fakeSweeps) ScheduleOrphanSweep(ctx context.Context, inn string) error {
	f.scheduled = append(f.scheduled, inn)
	return nil
}

func rawFields(pairs map[string]string) map[string]json.RawMessage {
	fields := make(map[string]json.RawMessage, len(pairs))
	for k, v := range pairs {
		encoded, _ := json.Marshal(v)
		fields[k] = encoded
	}
	return fields
}

func testCompany(id, inn, title string) *bitrix.Company {
	return &bitrix.Company{
		ID:    id,
		INN:   inn,
		Title: title,
		Fields: rawFields(map[string]string{
			"ID":             id,
			"TITLE":          title,
			"RQ_INN":         inn,
			"ASSIGNED_BY_ID": "7",
		}),
	}
}

func newTestService(dir Directory, store DecisionStore, sweeps SweepScheduler) *Service {
	return NewService(dir, store, sweeps, "https://portal.example.com", logger.New("test"))
}

func meta() RequestMeta {
	return RequestMeta{Method: "POST"}
}

func TestCheckCompanySelfOnlyIsNotDuplicate(t *testing.T) {
	dir := newFakeDirectory()
	dir.companies["123"] = testCompany("123", "7700000000", "Acme")
	dir.candidatesByINN["7700000000"] = []string{"123"}
	store := newFakeStore()

	result, err := newTestService(dir, store, nil).CheckCompany(context.Background(), "123", meta())
	if err != nil {
		t.Fatalf("CheckCompany failed: %v", err)
	}

	if result.Duplicate {
		t.Fatal("company matching only itself must not be a duplicate")
	}
	if store.cached["123"] != "7700000000" {
		t.Errorf("expected cache upsert for company 123, got %v", store.cached)
	}
	if len(store.decisions) != 1 || store.decisions[0].Status != StatusSuccess {
		t.Errorf("expected one success decision, got %+v", store.decisions)
	}
	if len(dir.deletedCompanies) != 0 {
		t.Errorf("nothing should have been deleted, got %v", dir.deletedCompanies)
	}
}

func TestCheckCompanySurvivorMustBeLive(t *testing.T) {
	dir := newFakeDirectory()
	dir.companies["123"] = testCompany("123", "7700000000", "Acme New")
	dir.companies["50"] = testCompany("50", "7700000000", "Acme Old")
	dir.candidatesByINN["7700000000"] = []string{"50", "123"}
	// Survivor passes candidate verification, then vanishes before the
	// second explicit check.
	dir.vanishAfterChecks["50"] = 1
	store := newFakeStore()

	result, err := newTestService(dir, store, nil).CheckCompany(context.Background(), "123", meta())
	if err != nil {
		t.Fatalf("CheckCompany failed: %v", err)
	}

	if result.Duplicate || result.Deleted {
		t.Fatalf("must not delete when survivor is gone, got %+v", result)
	}
	if !result.SurvivorGone || result.Status != StatusDuplicateOldGone {
		t.Fatalf("expected duplicate_but_old_missing outcome, got %+v", result)
	}
	if len(dir.deletedCompanies) != 0 {
		t.Errorf("no company should be deleted, got %v", dir.deletedCompanies)
	}
	if len(store.decisions) != 1 || store.decisions[0].Status != StatusDuplicateOldGone {
		t.Errorf("expected one duplicate_but_old_missing decision, got %+v", store.decisions)
	}
}

func TestCheckCompanyDeletesDuplicateWithSnapshot(t *testing.T) {
	dir := newFakeDirectory()
	newcomer := testCompany("123", "7700000000", "Acme New")
	newcomer.Requisites = []bitrix.Requisite{
		{ID: "81", EntityID: "123", INN: "7700000000", Fields: rawFields(map[string]string{"ID": "81", "RQ_INN": "7700000000"})},
	}
	newcomer.Deals = []bitrix.Deal{{ID: "900", Title: "Big deal", CompanyID: "123"}}
	dir.companies["123"] = newcomer
	dir.companies["50"] = testCompany("50", "7700000000", "Acme Old")
	dir.candidatesByINN["7700000000"] = []string{"50", "123"}
	store := newFakeStore()
	sweeps := &fakeSweeps{}

	result, err := newTestService(dir, store, sweeps).CheckCompany(context.Background(), "123", meta())
	if err != nil {
		t.Fatalf("CheckCompany failed: %v", err)
	}

	if !result.Duplicate || !result.Deleted || result.SurvivorID != "50" {
		t.Fatalf("expected deletion with survivor 50, got %+v", result)
	}
	if len(dir.deletedCompanies) != 1 || dir.deletedCompanies[0] != "123" {
		t.Fatalf("expected company 123 deleted, got %v", dir.deletedCompanies)
	}

	if len(store.decisions) != 1 {
		t.Fatalf("expected one decision, got %d", len(store.decisions))
	}
	decision := store.decisions[0]
	if decision.Status != StatusDuplicateFound || !decision.DuplicateFound {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	snapshot, ok := decision.RequestPayload["deleted_company_data"].(*Snapshot)
	if !ok || snapshot == nil {
		t.Fatal("deleting decision must embed the snapshot")
	}
	if len(snapshot.Requisites) != 1 || len(snapshot.Deals) != 1 {
		t.Errorf("snapshot must carry requisites and deals, got %+v", snapshot)
	}
	if snapshot.CompanyID != "123" || snapshot.INN != "7700000000" {
		t.Errorf("snapshot metadata wrong: %+v", snapshot)
	}

	if len(sweeps.scheduled) != 1 || sweeps.scheduled[0] != "7700000000" {
		t.Errorf("expected deferred orphan sweep for the INN, got %v", sweeps.scheduled)
	}
}

func TestCheckCompanySnapshotFailureAbortsDelete(t *testing.T) {
	dir := newFakeDirectory()
	// A company fetched without field data cannot be snapshotted, and a
	// delete without a usable snapshot is unrecoverable.
	dir.companies["123"] = &bitrix.Company{ID: "123", INN: "7700000000", Title: "Acme New"}
	dir.companies["50"] = testCompany("50", "7700000000", "Acme Old")
	dir.candidatesByINN["7700000000"] = []string{"50", "123"}
	store := newFakeStore()

	_, err := newTestService(dir, store, nil).CheckCompany(context.Background(), "123", meta())
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error from failed capture, got %v", err)
	}

	if len(dir.deletedCompanies) != 0 {
		t.Fatalf("capture failure must abort the delete, got %v", dir.deletedCompanies)
	}
	if _, live := dir.companies["123"]; !live {
		t.Fatal("company must survive a failed capture")
	}
}

func TestCheckCompanyDeleteFailureReported(t *testing.T) {
	dir := newFakeDirectory()
	dir.companies["123"] = testCompany("123", "7700000000", "Acme New")
	dir.companies["50"] = testCompany("50", "7700000000", "Acme Old")
	dir.candidatesByINN["7700000000"] = []string{"50", "123"}
	dir.failDelete = true
	store := newFakeStore()
	sweeps := &fakeSweeps{}

	result, err := newTestService(dir, store, sweeps).CheckCompany(context.Background(), "123", meta())
	if err != nil {
		t.Fatalf("CheckCompany failed: %v", err)
	}

	if !result.Duplicate || result.Deleted {
		t.Fatalf("result must report the duplicate with deleted=false, got %+v", result)
	}
	if !strings.Contains(result.Message, "Failed to delete") {
		t.Errorf("message must carry the failure reason, got %q", result.Message)
	}

	if len(store.decisions) != 1 {
		t.Fatalf("expected one decision, got %d", len(store.decisions))
	}
	decision := store.decisions[0]
	if decision.Status != StatusDuplicateFound || !decision.DuplicateFound {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if !strings.Contains(decision.ActionTaken, "Failed to delete") {
		t.Errorf("audit row must carry the failure reason, got %q", decision.ActionTaken)
	}
	if snapshot, ok := decision.RequestPayload["deleted_company_data"].(*Snapshot); !ok || snapshot == nil {
		t.Error("audit row must still embed the snapshot captured before the attempt")
	}

	if len(sweeps.scheduled) != 0 {
		t.Errorf("no sweep must be scheduled when the delete failed, got %v", sweeps.scheduled)
	}
}

func TestCheckCompanyIdempotentRedelivery(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeStore()
	service := newTestService(dir, store, nil)

	// Company 123 was already deleted by a previous delivery.
	_, err := service.CheckCompany(context.Background(), "123", meta())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected benign not-found, got %v", err)
	}

	_, err = service.CheckCompany(context.Background(), "123", meta())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected benign not-found on redelivery, got %v", err)
	}

	if len(dir.deletedCompanies) != 0 {
		t.Errorf("redelivery must never attempt a delete, got %v", dir.deletedCompanies)
	}
	if len(store.decisions) != 0 {
		t.Errorf("benign not-found must not write audit rows, got %+v", store.decisions)
	}
}

func TestCheckCompanySentinelShortCircuit(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeStore()
	service := newTestService(dir, store, nil)

	for _, id := range []string{"0", "999999", "", "abc", "12.5"} {
		_, err := service.CheckCompany(context.Background(), id, meta())
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("id %q: expected validation rejection, got %v", id, err)
		}
	}

	if dir.getCalls != 0 {
		t.Errorf("sentinel ids must not reach the directory, got %d fetches", dir.getCalls)
	}
	if len(store.decisions) != 0 {
		t.Errorf("sentinel ids must not be audited, got %+v", store.decisions)
	}
}

func TestCheckCompanyMissingINNCreatesTask(t *testing.T) {
	dir := newFakeDirectory()
	dir.companies["123"] = testCompany("123", "", "No INN Ltd")
	store := newFakeStore()

	result, err := newTestService(dir, store, nil).CheckCompany(context.Background(), "123", meta())
	if err != nil {
		t.Fatalf("CheckCompany failed: %v", err)
	}

	if result.Duplicate || !result.TaskCreated || result.TaskID != "t1" {
		t.Fatalf("expected remediation task, got %+v", result)
	}
	if len(dir.tasks) != 1 || len(dir.notifications) != 1 {
		t.Errorf("expected task plus notification, got %d/%d", len(dir.tasks), len(dir.notifications))
	}
	if len(store.decisions) != 1 || store.decisions[0].Status != StatusNoINN {
		t.Errorf("expected no_inn decision, got %+v", store.decisions)
	}
}

func TestRestoreIsBestEffort(t *testing.T) {
	dir := newFakeDirectory()
	dir.failRequisiteBy = "broken"
	store := newFakeStore()

	snapshot := &Snapshot{
		CompanyID: "123",
		INN:       "7700000000",
		Title:     "Acme",
		Fields:    rawFields(map[string]string{"TITLE": "Acme", "COMMENTS": "vip"}),
		Requisites: []RequisiteSnapshot{
			{ID: "1", Fields: rawFields(map[string]string{"RQ_NAME": "ok one", "RQ_INN": "7700000000"})},
			{ID: "2", Fields: rawFields(map[string]string{"RQ_NAME": "broken", "RQ_INN": "7700000000"})},
			{ID: "3", Fields: rawFields(map[string]string{"RQ_NAME": "ok two", "RQ_INN": "7700000000"})},
		},
		Deals: []DealRef{{ID: "900"}},
	}

	result, err := newTestService(dir, store, nil).RestoreCompany(context.Background(), snapshot, meta())
	if err != nil {
		t.Fatalf("RestoreCompany failed: %v", err)
	}

	if result.NewCompanyID != "9000" || result.OriginalID != "123" {
		t.Fatalf("unexpected identity mapping: %+v", result)
	}
	if result.RequisitesRestored != 2 || result.RequisitesTotal != 3 {
		t.Fatalf("expected 2/3 requisites restored, got %d/%d", result.RequisitesRestored, result.RequisitesTotal)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one collected error, got %v", result.Errors)
	}
	if result.DealsRestored != 1 || dir.reassignedDeals["900"] != "9000" {
		t.Errorf("deal must be re-parented to the new company, got %+v", dir.reassignedDeals)
	}
	for _, fields := range dir.createdRequisites {
		if fields["ENTITY_ID"] != "9000" {
			t.Errorf("requisite must point at the new company, got %v", fields["ENTITY_ID"])
		}
	}
}

func TestRestoreExcludesSystemFields(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeStore()

	snapshot := &Snapshot{
		CompanyID: "123",
		Title:     "Acme",
		Fields: rawFields(map[string]string{
			"TITLE":         "Acme",
			"ID":            "123",
			"DATE_CREATE":   "2024-01-01",
			"CREATED_BY_ID": "5",
			"RQ_INN":        "7700000000",
			"COMMENTS":      "vip customer",
		}),
		Phones: []bitrix.MultiField{{Value: "+7900", ValueType: "WORK"}},
	}

	if _, err := newTestService(dir, store, nil).RestoreCompany(context.Background(), snapshot, meta()); err != nil {
		t.Fatalf("RestoreCompany failed: %v", err)
	}

	fields := dir.createdCompanies[0]
	for _, denied := range []string{"ID", "DATE_CREATE", "CREATED_BY_ID", "RQ_INN"} {
		if _, present := fields[denied]; present {
			t.Errorf("system field %s must not be copied", denied)
		}
	}
	if fields["COMMENTS"] != "vip customer" || fields["TITLE"] != "Acme" {
		t.Errorf("scalar fields must be copied, got %v", fields)
	}
	phones, ok := fields["PHONE"].([]bitrix.MultiField)
	if !ok || len(phones) != 1 || phones[0].ValueType != "WORK" {
		t.Errorf("multi fields must keep value types, got %v", fields["PHONE"])
	}
}

func TestCleanOrphansExactness(t *testing.T) {
	dir := newFakeDirectory()
	inn := "7700000000"
	dir.companies["A"] = testCompany("A", inn, "A live")
	dir.companies["C"] = testCompany("C", inn, "C live")
	dir.candidatesByINN[inn] = []string{"A", "B", "C"}
	dir.requisitesByINN[inn] = []bitrix.Requisite{
		{ID: "R1", EntityID: "A", INN: inn},
		{ID: "R2", EntityID: "B", INN: inn},
		{ID: "R3", EntityID: "C", INN: inn},
	}
	store := newFakeStore()

	result, err := newTestService(dir, store, nil).CleanOrphans(context.Background(), inn, meta())
	if err != nil {
		t.Fatalf("CleanOrphans failed: %v", err)
	}

	if result.CleanedCount != 1 {
		t.Fatalf("expected exactly one orphan cleaned, got %d", result.CleanedCount)
	}
	if len(dir.deletedRequisites) != 1 || dir.deletedRequisites[0] != "R2" {
		t.Fatalf("expected only R2 deleted, got %v", dir.deletedRequisites)
	}
	if len(store.decisions) != 1 || store.decisions[0].WebhookType != TypeCleanOrphans {
		t.Errorf("expected clean_orphans audit row, got %+v", store.decisions)
	}
}

func TestDeleteCompaniesCollectsPerItemResults(t *testing.T) {
	dir := newFakeDirectory()
	dir.companies["1"] = testCompany("1", "77", "One")
	dir.companies["3"] = testCompany("3", "77", "Three")
	store := newFakeStore()

	result, err := newTestService(dir, store, nil).DeleteCompanies(context.Background(), []string{"1", "2", "3"}, "77", meta())
	if err != nil {
		t.Fatalf("DeleteCompanies failed: %v", err)
	}

	if len(result.Deleted) != 2 || len(result.Failed) != 1 {
		t.Fatalf("expected 2 deleted and 1 failed, got %+v", result)
	}
	if result.Failed[0].CompanyID != "2" {
		t.Errorf("expected company 2 to fail, got %+v", result.Failed)
	}
}
