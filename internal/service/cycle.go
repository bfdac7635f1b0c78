package service

import (
	"context"
	"fmt"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// StartNewCycle restarts a rejected or partially approved negotiation,
// bounded by max_cycles_allowed. The current item snapshot is archived, every
// item returns to pending with its response fields cleared, the cycle counter
// increments and the approval markers are reset.
func (s *NegotiationService) StartNewCycle(ctx context.Context, id, actorID string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID != n.CreatorID {
			if err := s.requireRole(ctx, actorID, internalApproverRoles...); err != nil {
				return err
			}
		}
		if n.Status != repository.StatusRejected && n.Status != repository.StatusPartiallyApproved {
			return errors.Conflict(fmt.Sprintf("cannot start a new cycle from status '%s'", n.Status))
		}
		if n.NegotiationCycle >= n.MaxCyclesAllowed {
			return errors.Conflict(fmt.Sprintf("cycle limit reached (%d of %d)", n.NegotiationCycle, n.MaxCyclesAllowed))
		}

		if err := s.negotiations.ArchiveItems(ctx, n.ID, n.NegotiationCycle); err != nil {
			return err
		}
		if err := s.negotiations.ResetItems(ctx, n.ID); err != nil {
			return err
		}
		for _, item := range n.Items {
			item.Status = repository.ItemStatusPending
			item.ApprovedValue = nil
			item.Notes = nil
			item.RespondedAt = nil
		}

		n.NegotiationCycle++
		n.ApprovalLevel = nil
		n.ApprovedAt = nil
		n.RejectedAt = nil

		reason := fmt.Sprintf("negotiation cycle %d started", n.NegotiationCycle)
		return s.transition(ctx, n, repository.StatusSubmitted, actorID, &reason)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", id).
		Int("cycle", n.NegotiationCycle).
		Int("max_cycles", n.MaxCyclesAllowed).
		Msg("New negotiation cycle started")
	s.notifier.Notify(ctx, EventNewCycle, n, map[string]any{"cycle": n.NegotiationCycle})
	return n, nil
}

// legalRollbacks enumerates the explicit, audited status downgrades. Any pair
// outside this table is rejected.
var legalRollbacks = map[repository.Status]map[repository.Status]bool{
	repository.StatusPending: {
		repository.StatusSubmitted: true,
		repository.StatusDraft:     true,
	},
	repository.StatusApproved: {
		repository.StatusPending:   true,
		repository.StatusSubmitted: true,
	},
	repository.StatusPartiallyApproved: {
		repository.StatusSubmitted: true,
	},
}

// RollbackStatus performs an explicit, audited status downgrade. A reason is
// mandatory; every rollback clears the advisory approval-level marker so a
// stale marker from the prior round cannot survive the downgrade.
func (s *NegotiationService) RollbackStatus(ctx context.Context, id, actorID string, target repository.Status, reason string) (*repository.Negotiation, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rollback reason is required")
	}
	if !target.Valid() {
		return nil, errors.InvalidInput("target", fmt.Sprintf("unknown status '%s'", target))
	}

	var n *repository.Negotiation
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, internalApproverRoles...); err != nil {
			return err
		}
		if !legalRollbacks[n.Status][target] {
			return errors.Conflict(fmt.Sprintf("rollback from '%s' to '%s' is not allowed", n.Status, target))
		}

		if n.Status == repository.StatusApproved {
			n.ApprovedAt = nil
		}
		n.ApprovalLevel = nil

		return s.transition(ctx, n, target, actorID, &reason)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", id).
		Str("target", string(target)).
		Str("reason", reason).
		Msg("Negotiation status rolled back")
	s.notifier.Notify(ctx, EventStatusRollback, n, map[string]any{
		"target": string(target),
		"reason": reason,
	})
	return n, nil
}
