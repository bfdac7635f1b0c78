package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// NegotiationService is the negotiation state machine. Every mutating
// operation validates actor capability and current status, applies the
// mutation, recomputes status, writes history atomically with the mutation,
// triggers the pricing synchronizer on entry to complete, and emits
// notification events after commit.
type NegotiationService struct {
	negotiations NegotiationStore
	history      HistoryStore
	pricing      PricingContractStore
	authz        AuthorizationGateway
	notifier     NotificationGateway
	catalog      CatalogGateway
	policy       ApprovalPolicy

	defaultMaxCycles int
	log              zerolog.Logger
}

// NewNegotiationService creates a new NegotiationService.
func NewNegotiationService(
	negotiations NegotiationStore,
	history HistoryStore,
	pricing PricingContractStore,
	authz AuthorizationGateway,
	notifier NotificationGateway,
	catalog CatalogGateway,
	policy ApprovalPolicy,
	defaultMaxCycles int,
	log zerolog.Logger,
) *NegotiationService {
	return &NegotiationService{
		negotiations:     negotiations,
		history:          history,
		pricing:          pricing,
		authz:            authz,
		notifier:         notifier,
		catalog:          catalog,
		policy:           policy,
		defaultMaxCycles: defaultMaxCycles,
		log:              log,
	}
}

// ── Requests ──────────────────────────────────────────────────────────────────

// CreateItemRequest is one procedure to price in a new negotiation.
type CreateItemRequest struct {
	ProcedureID   string  `json:"procedure_id"`
	SpecialtyID   *string `json:"specialty_id"`
	ProposedValue int64   `json:"proposed_value"`
	Notes         *string `json:"notes"`
}

// CreateNegotiationRequest creates a negotiation in draft.
type CreateNegotiationRequest struct {
	EntityType  repository.EntityType `json:"entity_type"`
	EntityID    string                `json:"entity_id"`
	Title       string                `json:"title"`
	Description *string               `json:"description"`
	StartDate   time.Time             `json:"start_date"`
	EndDate     time.Time             `json:"end_date"`
	MaxCycles   int                   `json:"max_cycles"`
	CreatedBy   string                `json:"created_by"`
	Items       []CreateItemRequest   `json:"items"`
}

// RespondToItemRequest records a counterparty decision on one item.
type RespondToItemRequest struct {
	ItemID        string  `json:"item_id"`
	ActorID       string  `json:"actor_id"`
	Approved      bool    `json:"approved"`
	ApprovedValue *int64  `json:"approved_value"`
	Notes         *string `json:"notes"`
}

// CounterOfferItem is one item of a counter-offer.
type CounterOfferItem struct {
	ItemID string  `json:"item_id"`
	Value  int64   `json:"value"`
	Notes  *string `json:"notes"`
}

// ExternalApprovedItem references an item confirmed by the counterparty.
type ExternalApprovedItem struct {
	ItemID        string `json:"item_id"`
	ApprovedValue *int64 `json:"approved_value"`
}

// ExternalApprovalRequest is the counterparty's second-round sign-off.
type ExternalApprovalRequest struct {
	NegotiationID string                 `json:"negotiation_id"`
	ActorID       string                 `json:"actor_id"`
	Approved      bool                   `json:"approved"`
	ApprovedItems []ExternalApprovedItem `json:"approved_items"`
	Notes         *string                `json:"notes"`
}

// ── Create / read ─────────────────────────────────────────────────────────────

// Create creates a negotiation in draft with its items.
func (s *NegotiationService) Create(ctx context.Context, req *CreateNegotiationRequest) (*repository.Negotiation, error) {
	if !req.EntityType.Valid() {
		return nil, errors.InvalidInput("entity_type", "must be health_plan, professional or clinic")
	}
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}
	if req.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if len(req.Items) < 1 {
		return nil, errors.InvalidInput("items", "negotiation must have at least 1 item")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, errors.InvalidInput("end_date", "end date must be after start date")
	}

	maxCycles := req.MaxCycles
	if maxCycles < 1 {
		maxCycles = s.defaultMaxCycles
	}

	n := &repository.Negotiation{
		EntityType:          req.EntityType,
		EntityID:            req.EntityID,
		CreatorID:           req.CreatedBy,
		Title:               req.Title,
		Description:         req.Description,
		Status:              repository.StatusDraft,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		NegotiationCycle:    1,
		MaxCyclesAllowed:    maxCycles,
		FormalizationStatus: repository.FormalizationPending,
	}

	for i, itemReq := range req.Items {
		if itemReq.ProposedValue <= 0 {
			return nil, errors.InvalidInput("proposed_value", fmt.Sprintf("item %d: proposed value must be positive", i+1))
		}
		proc, err := s.catalog.GetProcedure(ctx, itemReq.ProcedureID)
		if err != nil {
			return nil, err
		}
		if !proc.Active {
			return nil, errors.InvalidInput("procedure_id", fmt.Sprintf("procedure %s is inactive", itemReq.ProcedureID))
		}
		if itemReq.SpecialtyID != nil {
			if _, err := s.catalog.GetSpecialty(ctx, *itemReq.SpecialtyID); err != nil {
				return nil, err
			}
		}

		n.Items = append(n.Items, &repository.NegotiationItem{
			ProcedureID:   itemReq.ProcedureID,
			SpecialtyID:   itemReq.SpecialtyID,
			ProposedValue: itemReq.ProposedValue,
			Status:        repository.ItemStatusPending,
			Notes:         itemReq.Notes,
		})
	}

	if err := s.negotiations.Create(ctx, n); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", n.ID).
		Str("entity_type", string(n.EntityType)).
		Str("entity_id", n.EntityID).
		Int("item_count", len(n.Items)).
		Msg("Negotiation created")

	s.notifier.Notify(ctx, EventCreated, n, nil)
	return n, nil
}

// GetNegotiation retrieves a negotiation with its items.
func (s *NegotiationService) GetNegotiation(ctx context.Context, id string) (*repository.Negotiation, error) {
	return s.negotiations.GetByID(ctx, id)
}

// ListNegotiations lists negotiations with filtering and pagination.
func (s *NegotiationService) ListNegotiations(ctx context.Context, filter repository.ListFilter) ([]*repository.Negotiation, int64, error) {
	return s.negotiations.List(ctx, filter)
}

// GetApprovalHistory returns the approval trail, oldest first.
func (s *NegotiationService) GetApprovalHistory(ctx context.Context, id string) ([]*repository.ApprovalHistoryEntry, error) {
	if _, err := s.negotiations.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.ApprovalHistory(ctx, id)
}

// GetStatusHistory returns the status changes, oldest first.
func (s *NegotiationService) GetStatusHistory(ctx context.Context, id string) ([]*repository.StatusHistoryEntry, error) {
	if _, err := s.negotiations.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.StatusHistory(ctx, id)
}

// ListActivePricingContracts returns the active ledger rows for an entity.
func (s *NegotiationService) ListActivePricingContracts(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.PricingContract, error) {
	return s.pricing.ListActiveByEntity(ctx, entityType, entityID)
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit moves a draft negotiation to submitted. Only the creator may submit.
func (s *NegotiationService) Submit(ctx context.Context, id, actorID string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID != n.CreatorID {
			return errors.Unauthorized("only the creator can submit a negotiation")
		}
		if n.Status != repository.StatusDraft {
			return errors.Conflict(fmt.Sprintf("cannot submit negotiation with status '%s'", n.Status))
		}
		if len(n.Items) < 1 {
			return errors.InvalidInput("items", "negotiation must have at least 1 item")
		}
		return s.transition(ctx, n, repository.StatusSubmitted, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("negotiation_id", id).Str("actor_id", actorID).Msg("Negotiation submitted")
	s.notifier.Notify(ctx, EventSubmitted, n, nil)
	return n, nil
}

// ── Item responses ────────────────────────────────────────────────────────────

// RespondToItem records a counterparty approval or rejection of one item and
// reaggregates the negotiation status.
func (s *NegotiationService) RespondToItem(ctx context.Context, req *RespondToItemRequest) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		item, err := s.negotiations.GetItemByID(ctx, req.ItemID)
		if err != nil {
			return err
		}
		n, err = s.negotiations.GetByIDForUpdate(ctx, item.NegotiationID)
		if err != nil {
			return err
		}
		if err := s.authorizeRepresentative(ctx, req.ActorID, n); err != nil {
			return err
		}
		if n.Status != repository.StatusSubmitted {
			return errors.Conflict(fmt.Sprintf("cannot respond to items of a negotiation with status '%s'", n.Status))
		}

		target := s.findItem(n, req.ItemID)
		if target == nil {
			return errors.NotFound("negotiation_item", req.ItemID)
		}
		if target.Status != repository.ItemStatusPending {
			return errors.Conflict(fmt.Sprintf("item has already been responded to (status '%s')", target.Status))
		}

		now := time.Now()
		if req.Approved {
			target.Status = repository.ItemStatusApproved
			value := target.ProposedValue
			if req.ApprovedValue != nil {
				value = *req.ApprovedValue
			}
			target.ApprovedValue = &value
		} else {
			target.Status = repository.ItemStatusRejected
			target.ApprovedValue = nil
		}
		target.Notes = req.Notes
		target.RespondedAt = &now
		if err := s.negotiations.UpdateItemResponse(ctx, target); err != nil {
			return err
		}

		events, err = s.reaggregate(ctx, n, req.ActorID)
		if err != nil {
			return err
		}
		events = append(events, pendingEvent{EventItemResponse, n, map[string]any{
			"item_id":  req.ItemID,
			"approved": req.Approved,
		}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

// CounterItem records a counter-offer on one item.
func (s *NegotiationService) CounterItem(ctx context.Context, itemID, actorID string, value int64, notes *string) (*repository.Negotiation, error) {
	if value <= 0 {
		return nil, errors.InvalidInput("value", "counter-offer value must be positive")
	}

	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		item, err := s.negotiations.GetItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		n, err = s.negotiations.GetByIDForUpdate(ctx, item.NegotiationID)
		if err != nil {
			return err
		}
		if err := s.authorizeRepresentative(ctx, actorID, n); err != nil {
			return err
		}
		if n.Status != repository.StatusSubmitted {
			return errors.Conflict(fmt.Sprintf("cannot counter items of a negotiation with status '%s'", n.Status))
		}

		if err := s.applyCounter(ctx, n, CounterOfferItem{ItemID: itemID, Value: value, Notes: notes}); err != nil {
			return err
		}

		events, err = s.reaggregate(ctx, n, actorID)
		if err != nil {
			return err
		}
		events = append(events, pendingEvent{EventCounterOffer, n, map[string]any{
			"item_id": itemID,
			"value":   value,
		}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

// BatchCounterOffer records counter-offers on several items at once,
// reaggregating only after all of them are applied.
func (s *NegotiationService) BatchCounterOffer(ctx context.Context, negotiationID, actorID string, offers []CounterOfferItem) (*repository.Negotiation, error) {
	if len(offers) < 1 {
		return nil, errors.InvalidInput("items", "at least 1 counter-offer is required")
	}

	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, negotiationID)
		if err != nil {
			return err
		}
		if err := s.authorizeRepresentative(ctx, actorID, n); err != nil {
			return err
		}
		if n.Status != repository.StatusSubmitted {
			return errors.Conflict(fmt.Sprintf("cannot counter items of a negotiation with status '%s'", n.Status))
		}

		for _, offer := range offers {
			if err := s.applyCounter(ctx, n, offer); err != nil {
				return err
			}
		}

		events, err = s.reaggregate(ctx, n, actorID)
		if err != nil {
			return err
		}
		events = append(events, pendingEvent{EventCounterOffer, n, map[string]any{
			"item_count": len(offers),
		}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

func (s *NegotiationService) applyCounter(ctx context.Context, n *repository.Negotiation, offer CounterOfferItem) error {
	if offer.Value <= 0 {
		return errors.InvalidInput("value", "counter-offer value must be positive")
	}
	target := s.findItem(n, offer.ItemID)
	if target == nil {
		return errors.InvalidInput("item_id", fmt.Sprintf("item %s does not belong to this negotiation", offer.ItemID))
	}
	if target.Status != repository.ItemStatusPending {
		return errors.Conflict(fmt.Sprintf("item has already been responded to (status '%s')", target.Status))
	}

	now := time.Now()
	target.Status = repository.ItemStatusCounterOffered
	counter := offer.Value
	target.ApprovedValue = &counter
	target.Notes = offer.Notes
	target.RespondedAt = &now
	return s.negotiations.UpdateItemResponse(ctx, target)
}

// reaggregate consults the item-response aggregator and applies the derived
// status, including the history append and approval-history side effects.
func (s *NegotiationService) reaggregate(ctx context.Context, n *repository.Negotiation, actorID string) ([]pendingEvent, error) {
	next, changed := AggregateItemResponses(n.Items, n.Status, n.ApprovedAt != nil)
	if !changed {
		return nil, nil
	}

	var events []pendingEvent
	now := time.Now()
	switch next {
	case repository.StatusPending:
		if err := s.history.AppendApproval(ctx, &repository.ApprovalHistoryEntry{
			NegotiationID: n.ID,
			Level:         repository.LevelInternal,
			Status:        repository.StatusPending,
			UserID:        actorID,
		}); err != nil {
			return nil, err
		}
		events = append(events, pendingEvent{EventApprovalRequired, n, map[string]any{"level": string(repository.LevelInternal)}})
	case repository.StatusRejected:
		n.RejectedAt = &now
		events = append(events, pendingEvent{EventRejected, n, nil})
	case repository.StatusPartiallyComplete:
		events = append(events, pendingEvent{EventPartiallyCompleted, n, nil})
	}

	if err := s.transition(ctx, n, next, actorID, nil); err != nil {
		return nil, err
	}
	return events, nil
}

// ── Internal approval ─────────────────────────────────────────────────────────

// ProcessApproval records the internal approval decision on a pending
// negotiation. Self-approval is forbidden regardless of role.
func (s *NegotiationService) ProcessApproval(ctx context.Context, id, actorID string, approved bool, notes *string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID == n.CreatorID {
			return errors.Unauthorized("the creator cannot approve their own negotiation")
		}
		if err := s.requireRole(ctx, actorID, internalApproverRoles...); err != nil {
			return err
		}
		if n.Status != repository.StatusPending {
			return errors.Conflict(fmt.Sprintf("cannot process approval for negotiation with status '%s'", n.Status))
		}

		now := time.Now()
		if !approved {
			n.RejectedAt = &now
			if err := s.appendApproval(ctx, n, repository.LevelInternal, repository.StatusRejected, actorID, notes); err != nil {
				return err
			}
			events = append(events, pendingEvent{EventRejected, n, nil})
			return s.transition(ctx, n, repository.StatusRejected, actorID, nil)
		}

		if s.policy.NeedsDirectorApproval(n.Items) {
			if err := s.appendApproval(ctx, n, repository.LevelInternal, repository.StatusPendingDirectorApproval, actorID, notes); err != nil {
				return err
			}
			events = append(events, pendingEvent{EventApprovalRequired, n, map[string]any{"level": string(repository.LevelDirector)}})
			return s.transition(ctx, n, repository.StatusPendingDirectorApproval, actorID, nil)
		}

		n.ApprovedAt = &now
		if err := s.appendApproval(ctx, n, repository.LevelInternal, repository.StatusApproved, actorID, notes); err != nil {
			return err
		}
		events = append(events, pendingEvent{EventApproved, n, nil})
		return s.transition(ctx, n, repository.StatusApproved, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", id).
		Str("actor_id", actorID).
		Bool("approved", approved).
		Str("status", string(n.Status)).
		Msg("Internal approval processed")
	s.publish(ctx, events)
	return n, nil
}

// DirectorApprove records the director decision on an escalated negotiation.
func (s *NegotiationService) DirectorApprove(ctx context.Context, id, actorID string, approved bool, notes *string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, directorRoles...); err != nil {
			return err
		}
		if n.Status != repository.StatusPendingDirectorApproval {
			return errors.Conflict(fmt.Sprintf("negotiation is not awaiting director approval (status '%s')", n.Status))
		}

		now := time.Now()
		if !approved {
			n.RejectedAt = &now
			if err := s.appendApproval(ctx, n, repository.LevelDirector, repository.StatusRejected, actorID, notes); err != nil {
				return err
			}
			events = append(events, pendingEvent{EventRejected, n, nil})
			return s.transition(ctx, n, repository.StatusRejected, actorID, nil)
		}

		n.ApprovedAt = &now
		if err := s.appendApproval(ctx, n, repository.LevelDirector, repository.StatusApproved, actorID, notes); err != nil {
			return err
		}
		events = append(events, pendingEvent{EventApproved, n, nil})
		return s.transition(ctx, n, repository.StatusApproved, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("negotiation_id", id).
		Str("actor_id", actorID).
		Bool("approved", approved).
		Msg("Director approval processed")
	s.publish(ctx, events)
	return n, nil
}

// SubmitForApproval sets the advisory internal approval-level marker on an
// approved negotiation. Status does not change.
func (s *NegotiationService) SubmitForApproval(ctx context.Context, id, actorID string) (*repository.Negotiation, error) {
	return s.setApprovalLevel(ctx, id, actorID, repository.LevelInternal)
}

// SubmitForDirectorApproval sets the advisory director approval-level marker
// on an approved negotiation. Status does not change.
func (s *NegotiationService) SubmitForDirectorApproval(ctx context.Context, id, actorID string) (*repository.Negotiation, error) {
	return s.setApprovalLevel(ctx, id, actorID, repository.LevelDirector)
}

func (s *NegotiationService) setApprovalLevel(ctx context.Context, id, actorID string, level repository.ApprovalLevel) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, commercialRoles...); err != nil {
			return err
		}
		if n.Status != repository.StatusApproved {
			return errors.Conflict(fmt.Sprintf("cannot set approval level for negotiation with status '%s'", n.Status))
		}
		n.ApprovalLevel = &level
		return s.negotiations.UpdateLifecycle(ctx, n)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, EventApprovalRequired, n, map[string]any{"level": string(level)})
	return n, nil
}

// ── External approval and manual overrides ────────────────────────────────────

// ProcessExternalApproval records the counterparty's confirmation of the
// approved terms. Referenced items become completed at their approved value;
// the negotiation lands in complete or partially_complete. Entry to complete
// updates the pricing ledger in the same transaction. Replaying the call
// fails because the status is no longer approved.
func (s *NegotiationService) ProcessExternalApproval(ctx context.Context, req *ExternalApprovalRequest) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, req.NegotiationID)
		if err != nil {
			return err
		}
		if err := s.authorizeRepresentative(ctx, req.ActorID, n); err != nil {
			return err
		}
		if n.Status != repository.StatusApproved {
			return errors.Conflict(fmt.Sprintf("cannot process external approval for negotiation with status '%s'", n.Status))
		}

		now := time.Now()
		if !req.Approved {
			n.RejectedAt = &now
			if err := s.appendApproval(ctx, n, repository.LevelExternal, repository.StatusRejected, req.ActorID, req.Notes); err != nil {
				return err
			}
			events = append(events, pendingEvent{EventRejected, n, nil})
			return s.transition(ctx, n, repository.StatusRejected, req.ActorID, nil)
		}

		if len(req.ApprovedItems) < 1 {
			return errors.InvalidInput("approved_items", "at least 1 approved item is required")
		}

		for _, ref := range req.ApprovedItems {
			target := s.findItem(n, ref.ItemID)
			if target == nil {
				return errors.InvalidInput("approved_items", fmt.Sprintf("item %s does not belong to this negotiation", ref.ItemID))
			}
			value := target.ProposedValue
			if target.ApprovedValue != nil {
				value = *target.ApprovedValue
			}
			if ref.ApprovedValue != nil {
				value = *ref.ApprovedValue
			}
			target.Status = repository.ItemStatusCompleted
			target.ApprovedValue = &value
			target.RespondedAt = &now
			if err := s.negotiations.UpdateItemResponse(ctx, target); err != nil {
				return err
			}
		}

		events, err = s.finishNegotiation(ctx, n, req.ActorID, req.Notes)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

// MarkAsComplete is the manual override for the external approval path. Every
// item is completed at its approved value (falling back to the proposed
// value) so the pricing ledger never receives an unpriced item.
func (s *NegotiationService) MarkAsComplete(ctx context.Context, id, actorID string, notes *string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, commercialRoles...); err != nil {
			return err
		}
		if n.Status != repository.StatusApproved {
			return errors.Conflict(fmt.Sprintf("cannot mark negotiation with status '%s' as complete", n.Status))
		}

		now := time.Now()
		for _, item := range n.Items {
			if item.Status == repository.ItemStatusCompleted {
				continue
			}
			value := item.ProposedValue
			if item.ApprovedValue != nil {
				value = *item.ApprovedValue
			}
			item.Status = repository.ItemStatusCompleted
			item.ApprovedValue = &value
			item.RespondedAt = &now
			if err := s.negotiations.UpdateItemResponse(ctx, item); err != nil {
				return err
			}
		}

		events, err = s.finishNegotiation(ctx, n, actorID, notes)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

// MarkAsPartiallyComplete is the manual override that completes only the
// items already approved by the counterparty.
func (s *NegotiationService) MarkAsPartiallyComplete(ctx context.Context, id, actorID string, notes *string) (*repository.Negotiation, error) {
	var n *repository.Negotiation
	var events []pendingEvent
	err := s.negotiations.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.negotiations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireRole(ctx, actorID, commercialRoles...); err != nil {
			return err
		}
		if n.Status != repository.StatusApproved {
			return errors.Conflict(fmt.Sprintf("cannot mark negotiation with status '%s' as partially complete", n.Status))
		}

		now := time.Now()
		completed := 0
		for _, item := range n.Items {
			if item.Status != repository.ItemStatusApproved {
				continue
			}
			item.Status = repository.ItemStatusCompleted
			item.RespondedAt = &now
			if err := s.negotiations.UpdateItemResponse(ctx, item); err != nil {
				return err
			}
			completed++
		}
		if completed == 0 {
			return errors.Conflict("no approved items to complete")
		}

		events, err = s.finishNegotiation(ctx, n, actorID, notes)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return n, nil
}

// finishNegotiation derives complete/partially_complete from the item states,
// writes history and, on entry to complete, runs the pricing synchronizer in
// the same transaction.
func (s *NegotiationService) finishNegotiation(ctx context.Context, n *repository.Negotiation, actorID string, notes *string) ([]pendingEvent, error) {
	completed := 0
	for _, item := range n.Items {
		if item.Status == repository.ItemStatusCompleted {
			completed++
		}
	}

	now := time.Now()
	var events []pendingEvent
	if completed == len(n.Items) {
		n.CompletedAt = &now
		n.FormalizationStatus = repository.FormalizationFormalized
		if err := s.appendApproval(ctx, n, repository.LevelExternal, repository.StatusComplete, actorID, notes); err != nil {
			return nil, err
		}
		if err := s.transition(ctx, n, repository.StatusComplete, actorID, nil); err != nil {
			return nil, err
		}
		if err := s.syncPricingContracts(ctx, n); err != nil {
			return nil, err
		}
		events = append(events, pendingEvent{EventCompleted, n, nil})
		s.log.Info().Str("negotiation_id", n.ID).Int("items", completed).Msg("Negotiation completed")
		return events, nil
	}

	if err := s.appendApproval(ctx, n, repository.LevelExternal, repository.StatusPartiallyComplete, actorID, notes); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, n, repository.StatusPartiallyComplete, actorID, nil); err != nil {
		return nil, err
	}
	events = append(events, pendingEvent{EventPartiallyCompleted, n, map[string]any{
		"completed_items": completed,
		"total_items":     len(n.Items),
	}})
	s.log.Info().
		Str("negotiation_id", n.ID).
		Int("completed_items", completed).
		Int("total_items", len(n.Items)).
		Msg("Negotiation partially completed")
	return events, nil
}

// ── Cancel / expire ───────────────────────────────────────────────────────────

// cancellableStatuses are the statuses a negotiation may be cancelled from.
var cancellableStatuses = map[repository.Status]bool{
	repository.StatusDraft:                   true,
	repository.StatusSubmitted:               true,
	repository.StatusPending:                 true,
	repository.StatusApproved:                true,
	repository.StatusPartiallyApproved:       true,
	repository.StatusPendingDirectorApproval: true,
}

// Cancel cancels a negotiation. Allowed for the creator and internal roles.
func (s *NegotiationService) Cancel(ctx context.Context, id, actorID string, reason *string) (*repository.Negotiation, error) {
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
		if !cancellableStatuses[n.Status] {
			return errors.Conflict(fmt.Sprintf("cannot cancel negotiation with status '%s'", n.Status))
		}
		return s.transition(ctx, n, repository.StatusCancelled, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("negotiation_id", id).Str("actor_id", actorID).Msg("Negotiation cancelled")
	s.notifier.Notify(ctx, EventCancelled, n, nil)
	return n, nil
}

// Expire moves a negotiation past its end date to expired. Invoked by the
// external scheduler acting with an internal credential; terminal negotiations
// and negotiations whose window is still open reject it.
func (s *NegotiationService) Expire(ctx context.Context, id, actorID string) (*repository.Negotiation, error) {
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
		if n.Status.Terminal() {
			return errors.Conflict(fmt.Sprintf("cannot expire negotiation with status '%s'", n.Status))
		}
		if time.Now().Before(n.EndDate) {
			return errors.Conflict(fmt.Sprintf("negotiation end date %s has not passed", n.EndDate.Format(time.RFC3339)))
		}
		reason := "negotiation exceeded its time limit"
		return s.transition(ctx, n, repository.StatusExpired, actorID, &reason)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("negotiation_id", id).Msg("Negotiation expired")
	s.notifier.Notify(ctx, EventExpired, n, nil)
	return n, nil
}

// ── Shared helpers ────────────────────────────────────────────────────────────

type pendingEvent struct {
	event NotificationEvent
	n     *repository.Negotiation
	extra map[string]any
}

// publish emits the collected events after the transaction has committed.
func (s *NegotiationService) publish(ctx context.Context, events []pendingEvent) {
	for _, e := range events {
		s.notifier.Notify(ctx, e.event, e.n, e.extra)
	}
}

// transition applies a status change and appends the status history entry.
func (s *NegotiationService) transition(ctx context.Context, n *repository.Negotiation, to repository.Status, actorID string, reason *string) error {
	from := n.Status
	n.Status = to
	if err := s.negotiations.UpdateLifecycle(ctx, n); err != nil {
		return err
	}
	return s.history.AppendStatus(ctx, &repository.StatusHistoryEntry{
		NegotiationID: n.ID,
		FromStatus:    from,
		ToStatus:      to,
		UserID:        actorID,
		Reason:        reason,
	})
}

func (s *NegotiationService) appendApproval(ctx context.Context, n *repository.Negotiation, level repository.ApprovalLevel, status repository.Status, actorID string, notes *string) error {
	return s.history.AppendApproval(ctx, &repository.ApprovalHistoryEntry{
		NegotiationID: n.ID,
		Level:         level,
		Status:        status,
		UserID:        actorID,
		Notes:         notes,
	})
}

// authorizeRepresentative checks that the actor holds the representative role
// for the negotiation's entity variant and owns the exact entity instance.
func (s *NegotiationService) authorizeRepresentative(ctx context.Context, actorID string, n *repository.Negotiation) error {
	role, ok := representativeRole[n.EntityType]
	if !ok {
		return errors.Newf(errors.ErrCodeInternal, "no representative role for entity type '%s'", n.EntityType)
	}
	hasRole, err := s.authz.HasRole(ctx, actorID, role)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "authorization check failed")
	}
	if !hasRole {
		return errors.Unauthorized(fmt.Sprintf("actor does not hold the '%s' role", role))
	}
	owns, err := s.authz.OwnsEntity(ctx, actorID, n.EntityType, n.EntityID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "authorization check failed")
	}
	if !owns {
		return errors.Unauthorized("actor does not represent this entity")
	}
	return nil
}

func (s *NegotiationService) requireRole(ctx context.Context, actorID string, roles ...string) error {
	ok, err := s.authz.HasRole(ctx, actorID, roles...)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "authorization check failed")
	}
	if !ok {
		return errors.Unauthorized("actor does not hold a required role")
	}
	return nil
}

func (s *NegotiationService) findItem(n *repository.Negotiation, itemID string) *repository.NegotiationItem {
	for _, item := range n.Items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}
