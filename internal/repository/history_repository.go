package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aalicav/conecta-backend-sub000/internal/database"
	"github.com/aalicav/conecta-backend-sub000/internal/errors"
)

// HistoryRepository appends and reads the immutable approval and status
// history of negotiations. Append is the only mutation exposed; entries are
// never updated or deleted.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// AppendApproval inserts one approval history entry.
func (r *HistoryRepository) AppendApproval(ctx context.Context, entry *ApprovalHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO negotiation_approval_history
		    (id, negotiation_id, level, status, user_id, notes)
		VALUES ($1, $2, $3::approval_level, $4::negotiation_status, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.NegotiationID,
		entry.Level,
		entry.Status,
		entry.UserID,
		entry.Notes,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// AppendStatus inserts one status history entry.
func (r *HistoryRepository) AppendStatus(ctx context.Context, entry *StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO negotiation_status_history
		    (id, negotiation_id, from_status, to_status, user_id, reason)
		VALUES ($1, $2, $3::negotiation_status, $4::negotiation_status, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.NegotiationID,
		entry.FromStatus,
		entry.ToStatus,
		entry.UserID,
		entry.Reason,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append status history")
	}
	return nil
}

// ApprovalHistory returns a negotiation's approval trail, oldest first.
func (r *HistoryRepository) ApprovalHistory(ctx context.Context, negotiationID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT id, negotiation_id, level, status, user_id, notes, created_at
		FROM negotiation_approval_history
		WHERE negotiation_id = $1
		ORDER BY created_at ASC, id
	`

	rows, err := r.db.Query(ctx, query, negotiationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return scanApprovalEntries(rows)
}

// StatusHistory returns a negotiation's status changes, oldest first.
func (r *HistoryRepository) StatusHistory(ctx context.Context, negotiationID string) ([]*StatusHistoryEntry, error) {
	query := `
		SELECT id, negotiation_id, from_status, to_status, user_id, reason, created_at
		FROM negotiation_status_history
		WHERE negotiation_id = $1
		ORDER BY created_at ASC, id
	`

	rows, err := r.db.Query(ctx, query, negotiationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get status history")
	}
	defer rows.Close()

	entries := make([]*StatusHistoryEntry, 0)
	for rows.Next() {
		entry := &StatusHistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.NegotiationID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.UserID,
			&entry.Reason,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan status history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanApprovalEntries(rows pgx.Rows) ([]*ApprovalHistoryEntry, error) {
	entries := make([]*ApprovalHistoryEntry, 0)
	for rows.Next() {
		entry := &ApprovalHistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.NegotiationID,
			&entry.Level,
			&entry.Status,
			&entry.UserID,
			&entry.Notes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
