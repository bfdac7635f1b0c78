package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aalicav/conecta-backend-sub000/internal/database"
	"github.com/aalicav/conecta-backend-sub000/internal/errors"
)

const pricingContractColumns = `
	id, entity_type, entity_id, procedure_id, specialty_id,
	price, start_date, end_date, active,
	negotiation_id, deactivation_reason, deactivated_at,
	created_at, updated_at`

// PricingContractRepository manages the pricing ledger. At most one active
// contract exists per (entity_type, entity_id, procedure_id); a partial
// unique index enforces it at the storage level.
type PricingContractRepository struct {
	db *database.DB
}

// NewPricingContractRepository creates a new PricingContractRepository.
func NewPricingContractRepository(db *database.DB) *PricingContractRepository {
	return &PricingContractRepository{db: db}
}

// GetActive returns the active contract for an (entity, procedure) pair, or
// nil when none exists.
func (r *PricingContractRepository) GetActive(ctx context.Context, entityType EntityType, entityID, procedureID string) (*PricingContract, error) {
	query := `SELECT ` + pricingContractColumns + `
		FROM pricing_contracts
		WHERE entity_type = $1::entity_type AND entity_id = $2 AND procedure_id = $3 AND active
		FOR UPDATE
	`

	c, err := scanPricingContract(r.db.QueryRow(ctx, query, entityType, entityID, procedureID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active pricing contract")
	}
	return c, nil
}

// Deactivate marks a contract inactive with an end date and a reason.
func (r *PricingContractRepository) Deactivate(ctx context.Context, id, reason string, endDate time.Time) error {
	query := `
		UPDATE pricing_contracts
		SET active              = FALSE,
		    end_date            = $2,
		    deactivation_reason = $3,
		    deactivated_at      = NOW(),
		    updated_at          = NOW()
		WHERE id = $1 AND active
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, endDate, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("pricing_contract", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate pricing contract")
	}
	return nil
}

// Create inserts a new active contract.
func (r *PricingContractRepository) Create(ctx context.Context, c *PricingContract) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := `
		INSERT INTO pricing_contracts
		    (id, entity_type, entity_id, procedure_id, specialty_id,
		     price, start_date, end_date, active, negotiation_id)
		VALUES ($1, $2::entity_type, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.ID,
		c.EntityType,
		c.EntityID,
		c.ProcedureID,
		c.SpecialtyID,
		c.Price,
		c.StartDate,
		c.EndDate,
		c.Active,
		c.NegotiationID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create pricing contract")
	}
	return nil
}

// ListActiveByEntity returns all active contracts for an entity.
func (r *PricingContractRepository) ListActiveByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*PricingContract, error) {
	query := `SELECT ` + pricingContractColumns + `
		FROM pricing_contracts
		WHERE entity_type = $1::entity_type AND entity_id = $2 AND active
		ORDER BY procedure_id
	`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pricing contracts")
	}
	defer rows.Close()

	contracts := make([]*PricingContract, 0)
	for rows.Next() {
		c, err := scanPricingContract(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pricing contract")
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

func scanPricingContract(row rowScanner) (*PricingContract, error) {
	c := &PricingContract{}
	err := row.Scan(
		&c.ID,
		&c.EntityType,
		&c.EntityID,
		&c.ProcedureID,
		&c.SpecialtyID,
		&c.Price,
		&c.StartDate,
		&c.EndDate,
		&c.Active,
		&c.NegotiationID,
		&c.DeactivationReason,
		&c.DeactivatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
