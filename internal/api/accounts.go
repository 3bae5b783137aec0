package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"loops-console/internal/models"
)

// accountView is an Account with the API key masked down to its tail, so the
// UI can tell keys apart without the console ever echoing credentials back.
type accountView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	APIKeyHint     string `json:"apiKeyHint"`
	OrganizationID string `json:"organizationId,omitempty"`
	IsActive       bool   `json:"isActive"`
	CreatedAt      string `json:"createdAt"`
}

func viewOf(acct models.Account) accountView {
	hint := acct.APIKey
	if len(hint) > 4 {
		hint = "..." + hint[len(hint)-4:]
	}
	return accountView{
		ID:             acct.ID,
		Name:           acct.Name,
		APIKeyHint:     hint,
		OrganizationID: acct.OrganizationID,
		IsActive:       acct.IsActive,
		CreatedAt:      acct.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.accounts.Accounts()
	views := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		views = append(views, viewOf(acct))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "accounts": views})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string `json:"name"`
		APIKey         string `json:"apiKey"`
		OrganizationID string `json:"organizationId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	var errs []fieldError
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, fieldError{Field: "name", Message: "name is required"})
	}
	if strings.TrimSpace(req.APIKey) == "" {
		errs = append(errs, fieldError{Field: "apiKey", Message: "apiKey is required"})
	}
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	acct, err := s.accounts.CreateAccount(req.Name, req.APIKey, req.OrganizationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "account": viewOf(acct)})
}

func (s *Server) handleSetAccountActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive bool `json:"isActive"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.accounts.SetAccountActive(id, req.IsActive); err != nil {
		writeError(w, http.StatusNotFound, "Account not found.")
		return
	}
	acct, _ := s.accounts.Account(id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "account": viewOf(acct)})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Account(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Account not found.")
		return
	}

	data, err := s.loops.TestKey(r.Context(), acct.APIKey)
	if err != nil {
		writeUpstreamError(w, err, "Failed to reach Loops.so.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Connection successful!",
		"data":    data,
	})
}
