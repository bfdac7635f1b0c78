package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aalicav/conecta-backend-sub000/internal/database"
	"github.com/aalicav/conecta-backend-sub000/internal/errors"
)

const negotiationColumns = `
	id, entity_type, entity_id, creator_id, title, description,
	status, approval_level, start_date, end_date,
	negotiation_cycle, max_cycles_allowed, parent_negotiation_id, fork_count,
	formalization_status, approved_at, completed_at, rejected_at, forked_at,
	created_at, updated_at`

// NegotiationRepository persists negotiations, their items and item snapshots.
type NegotiationRepository struct {
	db *database.DB
}

// NewNegotiationRepository creates a new NegotiationRepository.
func NewNegotiationRepository(db *database.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

// InTransaction runs fn inside one database transaction. Every state
// transition of a negotiation goes through this so the aggregate (row, items,
// history) changes atomically.
func (r *NegotiationRepository) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.InTransaction(ctx, fn)
}

// Create inserts a negotiation and its items in one transaction. IDs are
// minted app-side.
func (r *NegotiationRepository) Create(ctx context.Context, n *Negotiation) error {
	return r.db.InTransaction(ctx, func(ctx context.Context) error {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}

		query := `
			INSERT INTO negotiations (id, entity_type, entity_id, creator_id, title, description,
			                          status, start_date, end_date,
			                          negotiation_cycle, max_cycles_allowed,
			                          parent_negotiation_id, fork_count, formalization_status)
			VALUES ($1, $2::entity_type, $3, $4, $5, $6,
			        $7::negotiation_status, $8, $9,
			        $10, $11, $12, $13, $14::formalization_status)
			RETURNING created_at, updated_at
		`

		err := r.db.QueryRow(ctx, query,
			n.ID,
			n.EntityType,
			n.EntityID,
			n.CreatorID,
			n.Title,
			n.Description,
			n.Status,
			n.StartDate,
			n.EndDate,
			n.NegotiationCycle,
			n.MaxCyclesAllowed,
			n.ParentNegotiationID,
			n.ForkCount,
			n.FormalizationStatus,
		).Scan(&n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create negotiation")
		}

		for _, item := range n.Items {
			item.NegotiationID = n.ID
			if err := r.insertItem(ctx, item); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *NegotiationRepository) insertItem(ctx context.Context, item *NegotiationItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	query := `
		INSERT INTO negotiation_items (id, negotiation_id, procedure_id, specialty_id,
		                               proposed_value, approved_value, status, notes, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::negotiation_item_status, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.NegotiationID,
		item.ProcedureID,
		item.SpecialtyID,
		item.ProposedValue,
		item.ApprovedValue,
		item.Status,
		item.Notes,
		item.RespondedAt,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create negotiation item")
	}
	return nil
}

// GetByID retrieves a negotiation with its items.
func (r *NegotiationRepository) GetByID(ctx context.Context, id string) (*Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1`
	return r.fetch(ctx, query, id)
}

// GetByIDForUpdate retrieves a negotiation with its items, locking the
// negotiation row for the duration of the enclosing transaction.
func (r *NegotiationRepository) GetByIDForUpdate(ctx context.Context, id string) (*Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1 FOR UPDATE`
	return r.fetch(ctx, query, id)
}

func (r *NegotiationRepository) fetch(ctx context.Context, query, id string) (*Negotiation, error) {
	n, err := scanNegotiation(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("negotiation", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get negotiation")
	}

	items, err := r.GetItems(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	n.Items = items
	return n, nil
}

// GetItems retrieves all items of a negotiation ordered by creation.
func (r *NegotiationRepository) GetItems(ctx context.Context, negotiationID string) ([]*NegotiationItem, error) {
	query := `
		SELECT id, negotiation_id, procedure_id, specialty_id,
		       proposed_value, approved_value, status, notes, responded_at,
		       created_at, updated_at
		FROM negotiation_items
		WHERE negotiation_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, negotiationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get negotiation items")
	}
	defer rows.Close()

	items := make([]*NegotiationItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetItemByID retrieves a single item.
func (r *NegotiationRepository) GetItemByID(ctx context.Context, itemID string) (*NegotiationItem, error) {
	query := `
		SELECT id, negotiation_id, procedure_id, specialty_id,
		       proposed_value, approved_value, status, notes, responded_at,
		       created_at, updated_at
		FROM negotiation_items
		WHERE id = $1
	`

	item, err := scanItem(r.db.QueryRow(ctx, query, itemID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("negotiation_item", itemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get negotiation item")
	}
	return item, nil
}

// UpdateLifecycle writes the mutable header fields of the aggregate: status,
// approval level marker, cycle counters, fork count, formalization status and
// milestone timestamps.
func (r *NegotiationRepository) UpdateLifecycle(ctx context.Context, n *Negotiation) error {
	query := `
		UPDATE negotiations
		SET status               = $2::negotiation_status,
		    approval_level       = $3,
		    negotiation_cycle    = $4,
		    fork_count           = $5,
		    formalization_status = $6::formalization_status,
		    approved_at          = $7,
		    completed_at         = $8,
		    rejected_at          = $9,
		    forked_at            = $10,
		    updated_at           = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		n.ID,
		n.Status,
		n.ApprovalLevel,
		n.NegotiationCycle,
		n.ForkCount,
		n.FormalizationStatus,
		n.ApprovedAt,
		n.CompletedAt,
		n.RejectedAt,
		n.ForkedAt,
	).Scan(&n.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("negotiation", n.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update negotiation")
	}
	return nil
}

// UpdateItemResponse writes an item's response fields.
func (r *NegotiationRepository) UpdateItemResponse(ctx context.Context, item *NegotiationItem) error {
	query := `
		UPDATE negotiation_items
		SET status         = $2::negotiation_item_status,
		    approved_value = $3,
		    notes          = $4,
		    responded_at   = $5,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.Status,
		item.ApprovedValue,
		item.Notes,
		item.RespondedAt,
	).Scan(&item.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("negotiation_item", item.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update negotiation item")
	}
	return nil
}

// ResetItems returns every item of a negotiation to pending, clearing the
// response fields. Used when a new cycle starts.
func (r *NegotiationRepository) ResetItems(ctx context.Context, negotiationID string) error {
	query := `
		UPDATE negotiation_items
		SET status         = 'pending'::negotiation_item_status,
		    approved_value = NULL,
		    notes          = NULL,
		    responded_at   = NULL,
		    updated_at     = NOW()
		WHERE negotiation_id = $1
	`

	if _, err := r.db.Exec(ctx, query, negotiationID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to reset negotiation items")
	}
	return nil
}

// ArchiveItems copies the current item states into the snapshot table for the
// given cycle.
func (r *NegotiationRepository) ArchiveItems(ctx context.Context, negotiationID string, cycle int) error {
	query := `
		INSERT INTO negotiation_item_snapshots
		    (id, negotiation_id, item_id, cycle, procedure_id,
		     proposed_value, approved_value, status, notes, responded_at)
		SELECT gen_random_uuid(), negotiation_id, id, $2, procedure_id,
		       proposed_value, approved_value, status, notes, responded_at
		FROM negotiation_items
		WHERE negotiation_id = $1
	`

	if _, err := r.db.Exec(ctx, query, negotiationID, cycle); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to archive negotiation items")
	}
	return nil
}

// GetSnapshots returns archived item snapshots for a cycle, oldest first.
func (r *NegotiationRepository) GetSnapshots(ctx context.Context, negotiationID string, cycle int) ([]*NegotiationItemSnapshot, error) {
	query := `
		SELECT id, negotiation_id, item_id, cycle, procedure_id,
		       proposed_value, approved_value, status, notes, responded_at, archived_at
		FROM negotiation_item_snapshots
		WHERE negotiation_id = $1 AND cycle = $2
		ORDER BY archived_at, id
	`

	rows, err := r.db.Query(ctx, query, negotiationID, cycle)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get item snapshots")
	}
	defer rows.Close()

	snapshots := make([]*NegotiationItemSnapshot, 0)
	for rows.Next() {
		s := &NegotiationItemSnapshot{}
		err := rows.Scan(
			&s.ID,
			&s.NegotiationID,
			&s.ItemID,
			&s.Cycle,
			&s.ProcedureID,
			&s.ProposedValue,
			&s.ApprovedValue,
			&s.Status,
			&s.Notes,
			&s.RespondedAt,
			&s.ArchivedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan item snapshot")
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	EntityType *EntityType
	EntityID   *string
	Status     *Status
	CreatorID  *string
	Page       int
	PageSize   int
}

// List retrieves negotiations (without items) with filtering and pagination.
func (r *NegotiationRepository) List(ctx context.Context, filter ListFilter) ([]*Negotiation, int64, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM negotiations WHERE 1=1`

	args := []any{}
	argCount := 1

	if filter.EntityType != nil {
		clause := fmt.Sprintf(" AND entity_type = $%d::entity_type", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.EntityType)
		argCount++
	}
	if filter.EntityID != nil {
		clause := fmt.Sprintf(" AND entity_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.EntityID)
		argCount++
	}
	if filter.Status != nil {
		clause := fmt.Sprintf(" AND status = $%d::negotiation_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.CreatorID != nil {
		clause := fmt.Sprintf(" AND creator_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.CreatorID)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	queryArgs := append(args, pageSize, (page-1)*pageSize)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count negotiations")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list negotiations")
	}
	defer rows.Close()

	negotiations := make([]*Negotiation, 0)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan negotiation")
		}
		negotiations = append(negotiations, n)
	}
	return negotiations, total, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNegotiation(row rowScanner) (*Negotiation, error) {
	n := &Negotiation{}
	err := row.Scan(
		&n.ID,
		&n.EntityType,
		&n.EntityID,
		&n.CreatorID,
		&n.Title,
		&n.Description,
		&n.Status,
		&n.ApprovalLevel,
		&n.StartDate,
		&n.EndDate,
		&n.NegotiationCycle,
		&n.MaxCyclesAllowed,
		&n.ParentNegotiationID,
		&n.ForkCount,
		&n.FormalizationStatus,
		&n.ApprovedAt,
		&n.CompletedAt,
		&n.RejectedAt,
		&n.ForkedAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func scanItem(row rowScanner) (*NegotiationItem, error) {
	item := &NegotiationItem{}
	err := row.Scan(
		&item.ID,
		&item.NegotiationID,
		&item.ProcedureID,
		&item.SpecialtyID,
		&item.ProposedValue,
		&item.ApprovedValue,
		&item.Status,
		&item.Notes,
		&item.RespondedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
