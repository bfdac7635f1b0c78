package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// ForkGroup is one group of source items that becomes a child negotiation.
type ForkGroup struct {
	ItemIDs []string `json:"item_ids"`
}

// ForkNegotiation splits a negotiation's pending items into independent child
// negotiations. The groups must fully partition the pending items: at least
// two groups, at least two pending items, every pending item in exactly one
// group, and nothing but the source's own pending items referenced. The
// source becomes forked and is permanently frozen.
func (s *NegotiationService) ForkNegotiation(ctx context.Context, id, actorID string, groups []ForkGroup) ([]*repository.Negotiation, error) {
	if len(groups) < 2 {
		return nil, errors.InvalidInput("groups", "at least 2 groups are required")
	}

	var children []*repository.Negotiation
	var parent *repository.Negotiation
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		parent, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, internalApproverRoles...); err != nil {
			return err
		}
		if parent.Status != repository.StatusSubmitted && parent.Status != repository.StatusPartiallyApproved {
			return errors.Conflict(fmt.Sprintf("cannot fork negotiation with status '%s'", parent.Status))
		}

		pending := make(map[string]*repository.NegotiationItem)
		for _, item := range parent.Items {
			if item.Status == repository.ItemStatusPending {
				pending[item.ID] = item
			}
		}
		if len(pending) < 2 {
			return errors.InvalidInput("groups", "forking requires at least 2 pending items")
		}

		assigned := make(map[string]bool)
		for gi, group := range groups {
			if len(group.ItemIDs) < 1 {
				return errors.InvalidInput("groups", fmt.Sprintf("group %d is empty", gi+1))
			}
			for _, itemID := range group.ItemIDs {
				if _, ok := pending[itemID]; !ok {
					return errors.InvalidInput("groups",
						fmt.Sprintf("item %s is not a pending item of this negotiation", itemID))
				}
				if assigned[itemID] {
					return errors.InvalidInput("groups", fmt.Sprintf("item %s appears in more than one group", itemID))
				}
				assigned[itemID] = true
			}
		}
		if len(assigned) != len(pending) {
			return errors.InvalidInput("groups", "every pending item must be assigned to exactly one group")
		}

		for gi, group := range groups {
			child := &repository.Negotiation{
				EntityType:          parent.EntityType,
				EntityID:            parent.EntityID,
				CreatorID:           actorID,
				Title:               fmt.Sprintf("%s (fork %d/%d)", parent.Title, gi+1, len(groups)),
				Description:         parent.Description,
				Status:              repository.StatusSubmitted,
				StartDate:           parent.StartDate,
				EndDate:             parent.EndDate,
				NegotiationCycle:    1,
				MaxCyclesAllowed:    parent.MaxCyclesAllowed,
				ParentNegotiationID: &parent.ID,
				FormalizationStatus: repository.FormalizationPending,
			}
			for _, itemID := range group.ItemIDs {
				src := pending[itemID]
				child.Items = append(child.Items, &repository.NegotiationItem{
					ProcedureID:   src.ProcedureID,
					SpecialtyID:   src.SpecialtyID,
					ProposedValue: src.ProposedValue,
					Status:        repository.ItemStatusPending,
				})
			}
			if err := s.negotiations.Create(ctx, child); err != nil {
				return err
			}
			children = append(children, child)
		}

		now := time.Now()
		parent.ForkCount = len(groups)
		parent.ForkedAt = &now
		reason := fmt.Sprintf("forked into %d negotiations", len(groups))
		return s.transition(ctx, parent, repository.StatusForked, actorID, &reason)
	})
	if err != nil {
		return nil, err
	}

	childIDs := make([]string, len(children))
	for i, child := range children {
		childIDs[i] = child.ID
	}
	s.log.Info().
		Str("negotiation_id", id).
		Strs("children", childIDs).
		Msg("Negotiation forked")
	s.notifier.Notify(ctx, EventFork, parent, map[string]any{"children": childIDs})
	return children, nil
}
