package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
)

// memStore is an in-memory implementation of NegotiationStore, HistoryStore
// and PricingContractStore. InTransaction snapshots the whole state and
// restores it on error, mirroring the all-or-nothing semantics of the pgx
// repositories.
type memStore struct {
	negotiations map[string]*repository.Negotiation
	snapshots    []*repository.NegotiationItemSnapshot
	approvals    []*repository.ApprovalHistoryEntry
	statuses     []*repository.StatusHistoryEntry
	contracts    map[string]*repository.PricingContract

	inTx   bool
	failOn map[string]error // method name → injected failure
}

func newMemStore() *memStore {
	return &memStore{
		negotiations: make(map[string]*repository.Negotiation),
		contracts:    make(map[string]*repository.PricingContract),
		failOn:       make(map[string]error),
	}
}

func (m *memStore) fail(method string) error {
	return m.failOn[method]
}

// ── transaction ───────────────────────────────────────────────────────────────

type memState struct {
	negotiations map[string]*repository.Negotiation
	snapshots    []*repository.NegotiationItemSnapshot
	approvals    []*repository.ApprovalHistoryEntry
	statuses     []*repository.StatusHistoryEntry
	contracts    map[string]*repository.PricingContract
}

func (m *memStore) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx {
		return fn(ctx)
	}
	m.inTx = true
	backup := m.backup()
	err := fn(ctx)
	m.inTx = false
	if err != nil {
		m.restore(backup)
		return err
	}
	return nil
}

func (m *memStore) backup() memState {
	st := memState{
		negotiations: make(map[string]*repository.Negotiation, len(m.negotiations)),
		contracts:    make(map[string]*repository.PricingContract, len(m.contracts)),
	}
	for id, n := range m.negotiations {
		st.negotiations[id] = cloneNegotiation(n)
	}
	for id, c := range m.contracts {
		st.contracts[id] = cloneContract(c)
	}
	st.snapshots = append(st.snapshots, m.snapshots...)
	st.approvals = append(st.approvals, m.approvals...)
	st.statuses = append(st.statuses, m.statuses...)
	return st
}

func (m *memStore) restore(st memState) {
	m.negotiations = st.negotiations
	m.contracts = st.contracts
	m.snapshots = st.snapshots
	m.approvals = st.approvals
	m.statuses = st.statuses
}

// ── NegotiationStore ──────────────────────────────────────────────────────────

func (m *memStore) Create(ctx context.Context, n *repository.Negotiation) error {
	if err := m.fail("Create"); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	for _, item := range n.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.NegotiationID = n.ID
		item.CreatedAt = now
		item.UpdatedAt = now
	}
	m.negotiations[n.ID] = cloneNegotiation(n)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.Negotiation, error) {
	n, ok := m.negotiations[id]
	if !ok {
		return nil, errors.NotFound("negotiation", id)
	}
	return cloneNegotiation(n), nil
}

func (m *memStore) GetByIDForUpdate(ctx context.Context, id string) (*repository.Negotiation, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) GetItemByID(ctx context.Context, itemID string) (*repository.NegotiationItem, error) {
	for _, n := range m.negotiations {
		for _, item := range n.Items {
			if item.ID == itemID {
				return cloneItem(item), nil
			}
		}
	}
	return nil, errors.NotFound("negotiation_item", itemID)
}

func (m *memStore) UpdateLifecycle(ctx context.Context, n *repository.Negotiation) error {
	if err := m.fail("UpdateLifecycle"); err != nil {
		return err
	}
	stored, ok := m.negotiations[n.ID]
	if !ok {
		return errors.NotFound("negotiation", n.ID)
	}
	clone := cloneNegotiation(n)
	clone.Items = stored.Items
	m.negotiations[n.ID] = clone
	return nil
}

func (m *memStore) UpdateItemResponse(ctx context.Context, item *repository.NegotiationItem) error {
	if err := m.fail("UpdateItemResponse"); err != nil {
		return err
	}
	n, ok := m.negotiations[item.NegotiationID]
	if !ok {
		return errors.NotFound("negotiation", item.NegotiationID)
	}
	for i, stored := range n.Items {
		if stored.ID == item.ID {
			n.Items[i] = cloneItem(item)
			return nil
		}
	}
	return errors.NotFound("negotiation_item", item.ID)
}

func (m *memStore) ResetItems(ctx context.Context, negotiationID string) error {
	if err := m.fail("ResetItems"); err != nil {
		return err
	}
	n, ok := m.negotiations[negotiationID]
	if !ok {
		return errors.NotFound("negotiation", negotiationID)
	}
	for _, item := range n.Items {
		item.Status = repository.ItemStatusPending
		item.ApprovedValue = nil
		item.Notes = nil
		item.RespondedAt = nil
	}
	return nil
}

func (m *memStore) ArchiveItems(ctx context.Context, negotiationID string, cycle int) error {
	if err := m.fail("ArchiveItems"); err != nil {
		return err
	}
	n, ok := m.negotiations[negotiationID]
	if !ok {
		return errors.NotFound("negotiation", negotiationID)
	}
	for _, item := range n.Items {
		clone := cloneItem(item)
		m.snapshots = append(m.snapshots, &repository.NegotiationItemSnapshot{
			ID:            uuid.NewString(),
			NegotiationID: negotiationID,
			ItemID:        item.ID,
			Cycle:         cycle,
			ProcedureID:   clone.ProcedureID,
			ProposedValue: clone.ProposedValue,
			ApprovedValue: clone.ApprovedValue,
			Status:        clone.Status,
			Notes:         clone.Notes,
			RespondedAt:   clone.RespondedAt,
			ArchivedAt:    time.Now(),
		})
	}
	return nil
}

func (m *memStore) List(ctx context.Context, filter repository.ListFilter) ([]*repository.Negotiation, int64, error) {
	out := make([]*repository.Negotiation, 0)
	for _, n := range m.negotiations {
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		if filter.EntityID != nil && n.EntityID != *filter.EntityID {
			continue
		}
		if filter.EntityType != nil && n.EntityType != *filter.EntityType {
			continue
		}
		if filter.CreatorID != nil && n.CreatorID != *filter.CreatorID {
			continue
		}
		out = append(out, cloneNegotiation(n))
	}
	return out, int64(len(out)), nil
}

// ── HistoryStore ──────────────────────────────────────────────────────────────

func (m *memStore) AppendApproval(ctx context.Context, entry *repository.ApprovalHistoryEntry) error {
	if err := m.fail("AppendApproval"); err != nil {
		return err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	clone := *entry
	m.approvals = append(m.approvals, &clone)
	return nil
}

func (m *memStore) AppendStatus(ctx context.Context, entry *repository.StatusHistoryEntry) error {
	if err := m.fail("AppendStatus"); err != nil {
		return err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	clone := *entry
	m.statuses = append(m.statuses, &clone)
	return nil
}

func (m *memStore) ApprovalHistory(ctx context.Context, negotiationID string) ([]*repository.ApprovalHistoryEntry, error) {
	out := make([]*repository.ApprovalHistoryEntry, 0)
	for _, e := range m.approvals {
		if e.NegotiationID == negotiationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) StatusHistory(ctx context.Context, negotiationID string) ([]*repository.StatusHistoryEntry, error) {
	out := make([]*repository.StatusHistoryEntry, 0)
	for _, e := range m.statuses {
		if e.NegotiationID == negotiationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── PricingContractStore ──────────────────────────────────────────────────────

// memPricing adapts memStore to PricingContractStore. A separate type because
// both stores name their insert Create.
type memPricing struct {
	store *memStore
}

func (p *memPricing) GetActive(ctx context.Context, entityType repository.EntityType, entityID, procedureID string) (*repository.PricingContract, error) {
	return p.store.GetActive(ctx, entityType, entityID, procedureID)
}

func (p *memPricing) Deactivate(ctx context.Context, id, reason string, endDate time.Time) error {
	return p.store.Deactivate(ctx, id, reason, endDate)
}

func (p *memPricing) Create(ctx context.Context, c *repository.PricingContract) error {
	return p.store.CreateContract(ctx, c)
}

func (p *memPricing) ListActiveByEntity(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.PricingContract, error) {
	return p.store.ListActiveByEntity(ctx, entityType, entityID)
}

func (m *memStore) GetActive(ctx context.Context, entityType repository.EntityType, entityID, procedureID string) (*repository.PricingContract, error) {
	if err := m.fail("GetActive"); err != nil {
		return nil, err
	}
	for _, c := range m.contracts {
		if c.Active && c.EntityType == entityType && c.EntityID == entityID && c.ProcedureID == procedureID {
			return cloneContract(c), nil
		}
	}
	return nil, nil
}

func (m *memStore) Deactivate(ctx context.Context, id, reason string, endDate time.Time) error {
	if err := m.fail("Deactivate"); err != nil {
		return err
	}
	c, ok := m.contracts[id]
	if !ok || !c.Active {
		return errors.NotFound("pricing_contract", id)
	}
	now := time.Now()
	c.Active = false
	c.EndDate = endDate
	c.DeactivationReason = &reason
	c.DeactivatedAt = &now
	return nil
}

func (m *memStore) CreateContract(ctx context.Context, c *repository.PricingContract) error {
	if err := m.fail("CreateContract"); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.contracts[c.ID] = cloneContract(c)
	return nil
}

func (m *memStore) ListActiveByEntity(ctx context.Context, entityType repository.EntityType, entityID string) ([]*repository.PricingContract, error) {
	out := make([]*repository.PricingContract, 0)
	for _, c := range m.contracts {
		if c.Active && c.EntityType == entityType && c.EntityID == entityID {
			out = append(out, cloneContract(c))
		}
	}
	return out, nil
}

func (m *memStore) activeContracts() []*repository.PricingContract {
	out := make([]*repository.PricingContract, 0)
	for _, c := range m.contracts {
		if c.Active {
			out = append(out, cloneContract(c))
		}
	}
	return out
}

// ── clone helpers ─────────────────────────────────────────────────────────────

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneNegotiation(n *repository.Negotiation) *repository.Negotiation {
	c := *n
	c.Description = clonePtr(n.Description)
	c.ApprovalLevel = clonePtr(n.ApprovalLevel)
	c.ParentNegotiationID = clonePtr(n.ParentNegotiationID)
	c.ApprovedAt = clonePtr(n.ApprovedAt)
	c.CompletedAt = clonePtr(n.CompletedAt)
	c.RejectedAt = clonePtr(n.RejectedAt)
	c.ForkedAt = clonePtr(n.ForkedAt)
	c.Items = make([]*repository.NegotiationItem, len(n.Items))
	for i, item := range n.Items {
		c.Items[i] = cloneItem(item)
	}
	return &c
}

func cloneItem(item *repository.NegotiationItem) *repository.NegotiationItem {
	c := *item
	c.SpecialtyID = clonePtr(item.SpecialtyID)
	c.ApprovedValue = clonePtr(item.ApprovedValue)
	c.Notes = clonePtr(item.Notes)
	c.RespondedAt = clonePtr(item.RespondedAt)
	return &c
}

func cloneContract(c *repository.PricingContract) *repository.PricingContract {
	clone := *c
	clone.SpecialtyID = clonePtr(c.SpecialtyID)
	clone.DeactivationReason = clonePtr(c.DeactivationReason)
	clone.DeactivatedAt = clonePtr(c.DeactivatedAt)
	return &clone
}

// ── collaborator fakes ────────────────────────────────────────────────────────

type fakeAuthz struct {
	roles map[string][]string // userID → roles
	owns  map[string]string   // userID → "entityType:entityID"
}

func (f *fakeAuthz) HasRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	for _, held := range f.roles[userID] {
		for _, want := range roles {
			if held == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeAuthz) OwnsEntity(ctx context.Context, userID string, entityType repository.EntityType, entityID string) (bool, error) {
	return f.owns[userID] == string(entityType)+":"+entityID, nil
}

type recordedEvent struct {
	event NotificationEvent
	extra map[string]any
}

type fakeNotifier struct {
	events []recordedEvent
}

func (f *fakeNotifier) Notify(ctx context.Context, event NotificationEvent, n *repository.Negotiation, extra map[string]any) {
	f.events = append(f.events, recordedEvent{event: event, extra: extra})
}

func (f *fakeNotifier) has(event NotificationEvent) bool {
	for _, e := range f.events {
		if e.event == event {
			return true
		}
	}
	return false
}

type fakeCatalog struct {
	inactiveProcedures map[string]bool
}

func (f *fakeCatalog) GetProcedure(ctx context.Context, id string) (*Procedure, error) {
	if strings.HasPrefix(id, "missing-") {
		return nil, errors.NotFound("procedure", id)
	}
	return &Procedure{ID: id, Code: id, Name: "procedure " + id, Active: !f.inactiveProcedures[id]}, nil
}

func (f *fakeCatalog) GetSpecialty(ctx context.Context, id string) (*Specialty, error) {
	if strings.HasPrefix(id, "missing-") {
		return nil, errors.NotFound("specialty", id)
	}
	return &Specialty{ID: id, Name: "specialty " + id, Active: true}, nil
}
