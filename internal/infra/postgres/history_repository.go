package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/pagination"
)

// HistoryRepository implements history.Repository using PostgreSQL. Rows are insert-only.
type HistoryRepository struct {
	q Querier
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(q Querier) *HistoryRepository {
	return &HistoryRepository{q: q}
}

var _ history.Repository = (*HistoryRepository)(nil)

// Append stores an entry.
func (r *HistoryRepository) Append(ctx context.Context, e *history.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = toJSONB(e.Metadata); err != nil {
			return fmt.Errorf("failed to marshal history metadata: %w", err)
		}
	}

	query := `
		INSERT INTO subscription_history (id, organization_id, action, subscription_id, status_before,
		                                  status_after, actor_id, note, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.OrganizationID, string(e.Action), e.SubscriptionID, nullString(e.StatusBefore),
		nullString(e.StatusAfter), e.ActorID, nullString(e.Note), metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", classify(err))
	}
	return nil
}

// ListByOrganization returns an organization's entries, newest first.
func (r *HistoryRepository) ListByOrganization(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*history.Entry], error) {
	var total int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscription_history WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return pagination.Result[*history.Entry]{}, fmt.Errorf("failed to count history: %w", err)
	}

	query := `
		SELECT id, organization_id, action, subscription_id, status_before, status_after,
		       actor_id, note, metadata, created_at
		FROM subscription_history
		WHERE organization_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.q.QueryContext(ctx, query, orgID, page.Limit(), page.Offset())
	if err != nil {
		return pagination.Result[*history.Entry]{}, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*history.Entry, 0, page.Limit())
	for rows.Next() {
		var (
			e                   history.Entry
			action              string
			before, after, note sql.NullString
			metadata            []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &action, &e.SubscriptionID, &before, &after,
			&e.ActorID, &note, &metadata, &e.CreatedAt); err != nil {
			return pagination.Result[*history.Entry]{}, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Action = history.Action(action)
		e.StatusBefore = nullStringValue(before)
		e.StatusAfter = nullStringValue(after)
		e.Note = nullStringValue(note)
		e.CreatedAt = e.CreatedAt.UTC()
		if err := fromJSONB(metadata, &e.Metadata); err != nil {
			return pagination.Result[*history.Entry]{}, fmt.Errorf("failed to unmarshal history metadata: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*history.Entry]{}, fmt.Errorf("failed to iterate history: %w", err)
	}
	return pagination.NewResult(entries, total, page), nil
}
