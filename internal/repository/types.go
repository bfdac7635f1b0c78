package repository

import "time"

// ── Closed enumerations ───────────────────────────────────────────────────────

// Status is the negotiation lifecycle status. It is always derivable from the
// explicit sub-state plus the aggregate of item statuses; raw strings are
// never compared outside this type.
type Status string

const (
	StatusDraft                   Status = "draft"
	StatusSubmitted               Status = "submitted"
	StatusPending                 Status = "pending"
	StatusApproved                Status = "approved"
	StatusPendingDirectorApproval Status = "pending_director_approval"
	StatusComplete                Status = "complete"
	StatusPartiallyComplete       Status = "partially_complete"
	StatusPartiallyApproved       Status = "partially_approved"
	StatusRejected                Status = "rejected"
	StatusCancelled               Status = "cancelled"
	StatusForked                  Status = "forked"
	StatusExpired                 Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusPending, StatusApproved,
		StatusPendingDirectorApproval, StatusComplete, StatusPartiallyComplete,
		StatusPartiallyApproved, StatusRejected, StatusCancelled,
		StatusForked, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle. A rejected or
// partially_approved negotiation can still start a new cycle, but nothing
// else may touch it.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusPartiallyComplete, StatusRejected,
		StatusCancelled, StatusForked, StatusExpired:
		return true
	}
	return false
}

// ItemStatus is the per-item response status. Monotonic within a cycle; only
// a new cycle resets it to pending.
type ItemStatus string

const (
	ItemStatusPending        ItemStatus = "pending"
	ItemStatusApproved       ItemStatus = "approved"
	ItemStatusRejected       ItemStatus = "rejected"
	ItemStatusCounterOffered ItemStatus = "counter_offered"
	ItemStatusCompleted      ItemStatus = "completed"
)

// Responded reports whether the counterparty has acted on the item.
func (s ItemStatus) Responded() bool { return s != ItemStatusPending }

// EntityType tags the counterparty whose procedure pricing is negotiated.
type EntityType string

const (
	EntityHealthPlan   EntityType = "health_plan"
	EntityProfessional EntityType = "professional"
	EntityClinic       EntityType = "clinic"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityHealthPlan, EntityProfessional, EntityClinic:
		return true
	}
	return false
}

// ApprovalLevel distinguishes the approval hierarchies in the history log.
type ApprovalLevel string

const (
	LevelInternal ApprovalLevel = "internal"
	LevelExternal ApprovalLevel = "external"
	LevelDirector ApprovalLevel = "director"
)

// FormalizationStatus tracks contract formalization after completion.
type FormalizationStatus string

const (
	FormalizationPending    FormalizationStatus = "pending"
	FormalizationFormalized FormalizationStatus = "formalized"
	FormalizationExempt     FormalizationStatus = "exempt"
)

// ── Domain records ────────────────────────────────────────────────────────────

// Negotiation is the aggregate root of one pricing negotiation.
type Negotiation struct {
	ID                  string
	EntityType          EntityType
	EntityID            string
	CreatorID           string
	Title               string
	Description         *string
	Status              Status
	ApprovalLevel       *ApprovalLevel
	StartDate           time.Time
	EndDate             time.Time
	NegotiationCycle    int
	MaxCyclesAllowed    int
	ParentNegotiationID *string
	ForkCount           int
	FormalizationStatus FormalizationStatus
	ApprovedAt          *time.Time
	CompletedAt         *time.Time
	RejectedAt          *time.Time
	ForkedAt            *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Items               []*NegotiationItem
}

// NegotiationItem is one procedure being priced.
type NegotiationItem struct {
	ID            string
	NegotiationID string
	ProcedureID   string
	SpecialtyID   *string
	ProposedValue int64 // cents
	ApprovedValue *int64
	Status        ItemStatus
	Notes         *string
	RespondedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ApprovalHistoryEntry is one immutable record of an approval-level action.
type ApprovalHistoryEntry struct {
	ID            string
	NegotiationID string
	Level         ApprovalLevel
	Status        Status
	UserID        string
	Notes         *string
	CreatedAt     time.Time
}

// StatusHistoryEntry records one status change; rollback reads it.
type StatusHistoryEntry struct {
	ID            string
	NegotiationID string
	FromStatus    Status
	ToStatus      Status
	UserID        string
	Reason        *string
	CreatedAt     time.Time
}

// NegotiationItemSnapshot is an archived copy of an item taken when a new
// cycle starts.
type NegotiationItemSnapshot struct {
	ID            string
	NegotiationID string
	ItemID        string
	Cycle         int
	ProcedureID   string
	ProposedValue int64
	ApprovedValue *int64
	Status        ItemStatus
	Notes         *string
	RespondedAt   *time.Time
	ArchivedAt    time.Time
}

// PricingContract is the active price record consumed by downstream billing.
// Written by negotiation completion but owned by the pricing ledger.
type PricingContract struct {
	ID                 string
	EntityType         EntityType
	EntityID           string
	ProcedureID        string
	SpecialtyID        *string
	Price              int64 // cents
	StartDate          time.Time
	EndDate            time.Time
	Active             bool
	NegotiationID      string
	DeactivationReason *string
	DeactivatedAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
