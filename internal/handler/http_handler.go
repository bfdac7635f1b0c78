package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aalicav/conecta-backend-sub000/internal/errors"
	"github.com/aalicav/conecta-backend-sub000/internal/repository"
	"github.com/aalicav/conecta-backend-sub000/internal/service"
)

// HTTPHandler exposes the negotiation operations over HTTP. Handlers only
// decode the request, call the service and translate error codes; all
// validation and authorization happens in the service.
type HTTPHandler struct {
	service *service.NegotiationService
	log     zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.NegotiationService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{service: svc, log: log}
}

// Register mounts all negotiation routes on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/negotiations", h.negotiations)
	mux.HandleFunc("/api/v1/negotiations/get", h.getNegotiation)
	mux.HandleFunc("/api/v1/negotiations/submit", h.submit)
	mux.HandleFunc("/api/v1/negotiations/items/respond", h.respondToItem)
	mux.HandleFunc("/api/v1/negotiations/items/counter", h.counterItem)
	mux.HandleFunc("/api/v1/negotiations/counter-batch", h.batchCounterOffer)
	mux.HandleFunc("/api/v1/negotiations/approve", h.processApproval)
	mux.HandleFunc("/api/v1/negotiations/submit-for-approval", h.submitForApproval)
	mux.HandleFunc("/api/v1/negotiations/submit-for-director-approval", h.submitForDirectorApproval)
	mux.HandleFunc("/api/v1/negotiations/director-approve", h.directorApprove)
	mux.HandleFunc("/api/v1/negotiations/external-approval", h.processExternalApproval)
	mux.HandleFunc("/api/v1/negotiations/complete", h.markAsComplete)
	mux.HandleFunc("/api/v1/negotiations/partially-complete", h.markAsPartiallyComplete)
	mux.HandleFunc("/api/v1/negotiations/cancel", h.cancel)
	mux.HandleFunc("/api/v1/negotiations/new-cycle", h.startNewCycle)
	mux.HandleFunc("/api/v1/negotiations/rollback", h.rollbackStatus)
	mux.HandleFunc("/api/v1/negotiations/fork", h.fork)
	mux.HandleFunc("/api/v1/negotiations/expire", h.expire)
	mux.HandleFunc("/api/v1/negotiations/approval-history", h.approvalHistory)
	mux.HandleFunc("/api/v1/negotiations/status-history", h.statusHistory)
	mux.HandleFunc("/api/v1/pricing-contracts", h.pricingContracts)
}

func (h *HTTPHandler) negotiations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createNegotiation(w, r)
	case http.MethodGet:
		h.listNegotiations(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) createNegotiation(w http.ResponseWriter, r *http.Request) {
	var req service.CreateNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *HTTPHandler) listNegotiations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{}

	if v := q.Get("entity_type"); v != "" {
		et := repository.EntityType(v)
		filter.EntityType = &et
	}
	if v := q.Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := q.Get("status"); v != "" {
		st := repository.Status(v)
		filter.Status = &st
	}
	if v := q.Get("creator_id"); v != "" {
		filter.CreatorID = &v
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	negotiations, total, err := h.service.ListNegotiations(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"negotiations": negotiations,
		"total":        total,
	})
}

func (h *HTTPHandler) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Negotiation ID is required", http.StatusBadRequest)
		return
	}

	n, err := h.service.GetNegotiation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

type actionRequest struct {
	ID       string  `json:"id"`
	ActorID  string  `json:"actor_id"`
	Approved bool    `json:"approved"`
	Notes    *string `json:"notes"`
	Reason   *string `json:"reason"`
}

func (h *HTTPHandler) submit(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.Submit(r.Context(), req.ID, req.ActorID)
	})
}

func (h *HTTPHandler) respondToItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.RespondToItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.RespondToItem(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) counterItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ItemID  string  `json:"item_id"`
		ActorID string  `json:"actor_id"`
		Value   int64   `json:"value"`
		Notes   *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.CounterItem(r.Context(), req.ItemID, req.ActorID, req.Value, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) batchCounterOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NegotiationID string                     `json:"negotiation_id"`
		ActorID       string                     `json:"actor_id"`
		Items         []service.CounterOfferItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.BatchCounterOffer(r.Context(), req.NegotiationID, req.ActorID, req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) processApproval(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.ProcessApproval(r.Context(), req.ID, req.ActorID, req.Approved, req.Notes)
	})
}

func (h *HTTPHandler) submitForApproval(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.SubmitForApproval(r.Context(), req.ID, req.ActorID)
	})
}

func (h *HTTPHandler) submitForDirectorApproval(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.SubmitForDirectorApproval(r.Context(), req.ID, req.ActorID)
	})
}

func (h *HTTPHandler) directorApprove(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.DirectorApprove(r.Context(), req.ID, req.ActorID, req.Approved, req.Notes)
	})
}

func (h *HTTPHandler) processExternalApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ExternalApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.ProcessExternalApproval(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) markAsComplete(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.MarkAsComplete(r.Context(), req.ID, req.ActorID, req.Notes)
	})
}

func (h *HTTPHandler) markAsPartiallyComplete(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.MarkAsPartiallyComplete(r.Context(), req.ID, req.ActorID, req.Notes)
	})
}

func (h *HTTPHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.Cancel(r.Context(), req.ID, req.ActorID, req.Reason)
	})
}

func (h *HTTPHandler) startNewCycle(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.StartNewCycle(r.Context(), req.ID, req.ActorID)
	})
}

func (h *HTTPHandler) rollbackStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		ActorID string `json:"actor_id"`
		Target  string `json:"target"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.RollbackStatus(r.Context(), req.ID, req.ActorID, repository.Status(req.Target), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) fork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string              `json:"id"`
		ActorID string              `json:"actor_id"`
		Groups  []service.ForkGroup `json:"groups"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	children, err := h.service.ForkNegotiation(r.Context(), req.ID, req.ActorID, req.Groups)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"negotiations": children})
}

func (h *HTTPHandler) expire(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req *actionRequest) (any, error) {
		return h.service.Expire(r.Context(), req.ID, req.ActorID)
	})
}

func (h *HTTPHandler) approvalHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Negotiation ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetApprovalHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *HTTPHandler) statusHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Negotiation ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetStatusHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *HTTPHandler) pricingContracts(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		http.Error(w, "Entity type and entity ID are required", http.StatusBadRequest)
		return
	}

	contracts, err := h.service.ListActivePricingContracts(r.Context(), repository.EntityType(entityType), entityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) action(w http.ResponseWriter, r *http.Request, fn func(req *actionRequest) (any, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := fn(&req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}
