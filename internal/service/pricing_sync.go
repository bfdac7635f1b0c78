package service

import (
	"context"
	"fmt"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// syncPricingContracts updates the pricing ledger on entry to complete. For
// every item with a terminal priced status it deactivates any active contract
// for the (entity, procedure) pair and creates the new active one, valid over
// the negotiation's window. Runs inside the same transaction as the status
// write; a partial application is a correctness violation, so any failure
// aborts the whole transition.
func (s *NegotiationService) syncPricingContracts(ctx context.Context, n *repository.Negotiation) error {
	for _, item := range n.Items {
		if item.Status != repository.ItemStatusCompleted && item.Status != repository.ItemStatusApproved {
			continue
		}
		if item.ApprovedValue == nil {
			return errors.Newf(errors.ErrCodeInternal,
				"item %s reached a terminal status without an approved value", item.ID)
		}

		active, err := s.pricing.GetActive(ctx, n.EntityType, n.EntityID, item.ProcedureID)
		if err != nil {
			return err
		}
		if active != nil {
			reason := fmt.Sprintf("superseded by negotiation %s", n.ID)
			if err := s.pricing.Deactivate(ctx, active.ID, reason, n.StartDate); err != nil {
				return err
			}
		}

		contract := &repository.PricingContract{
			EntityType:    n.EntityType,
			EntityID:      n.EntityID,
			ProcedureID:   item.ProcedureID,
			SpecialtyID:   item.SpecialtyID,
			Price:         *item.ApprovedValue,
			StartDate:     n.StartDate,
			EndDate:       n.EndDate,
			Active:        true,
			NegotiationID: n.ID,
		}
		if err := s.pricing.Create(ctx, contract); err != nil {
			return err
		}

		s.log.Debug().
			Str("negotiation_id", n.ID).
			Str("procedure_id", item.ProcedureID).
			Int64("price", contract.Price).
			Msg("Pricing contract activated")
	}
	return nil
}
