package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists audit decisions and the company cache.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new reconciliation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertDecision writes one audit row.
func (r *Repository) InsertDecision(ctx context.Context, d *Decision) error {
	payload, err := json.Marshal(d.RequestPayload)
	if err != nil {
		return fmt.Errorf("marshal decision payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_logs (webhook_type, inn, bitrix_company_id, request_body, response_status, duplicate_found, action_taken, source_info, request_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.WebhookType, d.INN, d.CompanyID, payload, d.Status, d.DuplicateFound, d.ActionTaken, d.SourceInfo, d.RequestMethod)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// InsertDecisionAndCacheCompany writes the audit row and upserts the company
// cache row in one transaction: either both land or neither does.
func (r *Repository) InsertDecisionAndCacheCompany(ctx context.Context, d *Decision, companyID, inn, title string) error {
	payload, err := json.Marshal(d.RequestPayload)
	if err != nil {
		return fmt.Errorf("marshal decision payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO webhook_logs (webhook_type, inn, bitrix_company_id, request_body, response_status, duplicate_found, action_taken, source_info, request_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.WebhookType, d.INN, d.CompanyID, payload, d.Status, d.DuplicateFound, d.ActionTaken, d.SourceInfo, d.RequestMethod)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO companies (bitrix_id, inn, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (bitrix_id) DO UPDATE
		SET inn = EXCLUDED.inn, title = EXCLUDED.title, updated_at = CURRENT_TIMESTAMP
	`, companyID, inn, title)
	if err != nil {
		return fmt.Errorf("upsert company cache: %w", err)
	}

	return tx.Commit(ctx)
}
