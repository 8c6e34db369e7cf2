package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"takedown/core/auth"
	"takedown/core/dedup"
	"takedown/core/metrics"
	"takedown/core/rbac"
	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"
)

type CasesHandler struct {
	engine  *workflow.Engine
	dedup   *dedup.Service
	cases   store.CasesStore
	metrics *metrics.Aggregator
	policy  *rbac.Policy
	logger  *utils.Logger
}

func NewCasesHandler(engine *workflow.Engine, dedupSvc *dedup.Service, cases store.CasesStore, agg *metrics.Aggregator, policy *rbac.Policy, logger *utils.Logger) *CasesHandler {
	return &CasesHandler{engine: engine, dedup: dedupSvc, cases: cases, metrics: agg, policy: policy, logger: logger}
}

type submitRequest struct {
	ContentRef  string `json:"content_ref"`
	Description string `json:"description"`
}

func (h *CasesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermSubmit) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	res, err := h.dedup.Submit(r.Context(), req.ContentRef, req.Description, id.UserID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *CasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermView) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	c, err := h.cases.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if c == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CasesHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermView) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.cases.ListEvents(r.Context(), chi.URLParam(r, "caseID"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type transitionRequest struct {
	Target string `json:"target"`
	Note   string `json:"note"`
}

func (h *CasesHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermTransition) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	target := store.State(strings.ToLower(strings.TrimSpace(req.Target)))
	c, err := h.engine.Transition(r.Context(), chi.URLParam(r, "caseID"), target, id.UserID(), id.Role(), req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CasesHandler) AvailableTransitions(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermView) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	states, err := h.engine.AvailableTransitions(r.Context(), chi.URLParam(r, "caseID"), id.Role())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if states == nil {
		states = []store.State{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": states})
}

type descriptionRequest struct {
	Description string `json:"description"`
}

func (h *CasesHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	var req descriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c, err := h.engine.UpdateDescription(r.Context(), chi.URLParam(r, "caseID"), id.UserID(), id.Role(), req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CasesHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermMetrics) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	snapshot, err := h.metrics.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *CasesHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermMetrics) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	cases, err := h.metrics.Overdue(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cases == nil {
		cases = []store.Case{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"overdue": cases})
}

func (h *CasesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *workflow.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": vErr.Reason})
	case errors.Is(err, workflow.ErrCaseNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, workflow.ErrInvalidTransition):
		body := map[string]any{"error": err.Error()}
		id := auth.IdentityFrom(r.Context())
		if valid, tErr := h.engine.AvailableTransitions(r.Context(), chi.URLParam(r, "caseID"), id.Role()); tErr == nil {
			body["valid_transitions"] = valid
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, workflow.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrStaleState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "case changed concurrently, re-fetch and retry"})
	default:
		h.logger.Errorf("api: %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
