package service

import (
	"context"
	"time"

	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// ── Roles and capabilities ────────────────────────────────────────────────────

// Internal roles of the operating organization.
const (
	RoleCommercialManager = "commercial_manager"
	RoleSuperAdmin        = "super_admin"
	RoleDirector          = "director"
)

// Counterparty representative roles, one per subject-entity variant.
const (
	RolePlanAdmin    = "plan_admin"
	RoleClinicAdmin  = "clinic_admin"
	RoleProfessional = "professional"
)

var (
	internalApproverRoles = []string{RoleCommercialManager, RoleSuperAdmin, RoleDirector}
	directorRoles         = []string{RoleDirector, RoleSuperAdmin}
	commercialRoles       = []string{RoleCommercialManager, RoleSuperAdmin}
)

// representativeRole maps each subject-entity variant to the role its
// representative must hold. Holding the role alone is not enough: the actor
// must also own the exact entity instance.
var representativeRole = map[repository.EntityType]string{
	repository.EntityHealthPlan:   RolePlanAdmin,
	repository.EntityClinic:       RoleClinicAdmin,
	repository.EntityProfessional: RoleProfessional,
}

// ── Notification events ───────────────────────────────────────────────────────

// NotificationEvent names an outbound negotiation event.
type NotificationEvent string

const (
	EventCreated            NotificationEvent = "created"
	EventSubmitted          NotificationEvent = "submitted"
	EventApprovalRequired   NotificationEvent = "approval_required"
	EventItemResponse       NotificationEvent = "item_response"
	EventCounterOffer       NotificationEvent = "counter_offer"
	EventApproved           NotificationEvent = "approved"
	EventCompleted          NotificationEvent = "completed"
	EventPartiallyCompleted NotificationEvent = "partially_completed"
	EventRejected           NotificationEvent = "rejected"
	EventCancelled          NotificationEvent = "cancelled"
	EventFork               NotificationEvent = "fork"
	EventNewCycle           NotificationEvent = "new_cycle"
	EventStatusRollback     NotificationEvent = "status_rollback"
	EventExpired            NotificationEvent = "expired"
)

// ── External collaborators ────────────────────────────────────────────────────

// AuthorizationGateway supplies the capability checks consumed by the state
// machine. The role framework itself is external.
type AuthorizationGateway interface {
	// HasRole reports whether the user holds at least one of the roles.
	HasRole(ctx context.Context, userID string, roles ...string) (bool, error)
	// OwnsEntity reports whether the user represents the exact entity instance.
	OwnsEntity(ctx context.Context, userID string, entityType repository.EntityType, entityID string) (bool, error)
}

// NotificationGateway delivers negotiation events. Fire-and-forget: it is
// called after commit and must never fail the operation.
type NotificationGateway interface {
	Notify(ctx context.Context, event NotificationEvent, n *repository.Negotiation, extra map[string]any)
}

// Procedure is a billable medical-procedure catalog entry.
type Procedure struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Specialty is a medical specialty catalog entry.
type Specialty struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// CatalogGateway provides read-only catalog lookups.
type CatalogGateway interface {
	GetProcedure(ctx context.Context, id string) (*Procedure, error)
	GetSpecialty(ctx context.Context, id string) (*Specialty, error)
}

// ── Persistence collaborators ─────────────────────────────────────────────────

// NegotiationStore persists negotiation aggregates. InTransaction scopes a
// transaction to the aggregate; GetByIDForUpdate must lock the negotiation
// row for the transaction's duration.
type NegotiationStore interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, n *repository.Negotiation) error
	GetByID(ctx context.Context, id string) (*repository.Negotiation, error)
	GetByIDForUpdate(ctx context.Context, id string) (*repository.Negotiation, error)
	GetItemByID(ctx context.Context, itemID string) (*repository.NegotiationItem, error)
	UpdateLifecycle(ctx context.Context, n *repository.Negotiation) error
	UpdateItemResponse(ctx context.Context, item *repository.NegotiationItem) error
	ResetItems(ctx context.Context, negotiationID string) error
	ArchiveItems(ctx context.Context, negotiationID string, cycle int) error
	List(ctx context.Context, filter repository.ListFilter) ([]*repository.Negotiation, int64, error)
}

// HistoryStore appends and reads the immutable approval and status history.
type HistoryStore interface {
	AppendApproval(ctx context.Context, entry *repository.ApprovalHistoryEntry) error
	AppendStatus(ctx context.Context, entry *repository.StatusHistoryEntry) error
	ApprovalHistory(ctx context.Context, negotiationID string) ([]*repository.ApprovalHistoryEntry, error)
	StatusHistory(ctx context.Context, negotiationID string) ([]*repository.StatusHistoryEntry, error)
}

// PricingContractStore manages the pricing ledger written on completion.
type PricingContractStore interface {
	GetActive(ctx context.Context, entityType repository.EntityType, entityID, procedureID string) (*repository.PricingContract, error)
	Deactivate(ctx context.Context, id, reason string, endDate time.Time) error
	Create(ctx context.Context, c *repository.PricingContract) error
	ListActiveByEntity(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.PricingContract, error)
}
