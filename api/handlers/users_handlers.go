package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"takedown/core/auth"
	"takedown/core/rbac"
	"takedown/core/store"
	"takedown/core/utils"
)

// UsersHandler covers user provisioning and role administration, admin-only.
type UsersHandler struct {
	users  store.UsersStore
	policy *rbac.Policy
	logger *utils.Logger
}

func NewUsersHandler(users store.UsersStore, policy *rbac.Policy, logger *utils.Logger) *UsersHandler {
	return &UsersHandler{users: users, policy: policy, logger: logger}
}

func (h *UsersHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	id := auth.IdentityFrom(r.Context())
	if !h.policy.Allowed(id.Role(), rbac.PermManageUsers) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Errorf("api: list users: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "valid email required"})
		return
	}
	role := store.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = store.RoleReporter
	}
	if !role.Assignable() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "role must be reporter, officer or admin"})
		return
	}
	u := &store.User{Email: email, Role: role, Active: true}
	if _, err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
			return
		}
		h.logger.Errorf("api: create user: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type roleUpdateRequest struct {
	Role string `json:"role"`
}

func (h *UsersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	actor := auth.IdentityFrom(r.Context())
	userID := chi.URLParam(r, "userID")
	if userID == actor.UserID() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot change your own role"})
		return
	}
	var req roleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	role := store.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Assignable() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "role must be reporter, officer or admin"})
		return
	}
	updated, err := h.users.UpdateRole(r.Context(), userID, role)
	if err != nil {
		h.logger.Errorf("api: update role for %s: %v", userID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "role": string(role)})
}
