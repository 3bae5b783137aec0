package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"loops-console/internal/loops"
)

func (s *Server) handleSingleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	var errs []fieldError
	if !validEmail(req.Email) {
		errs = append(errs, fieldError{Field: "email", Message: "a valid email address is required"})
	}
	if req.AccountID == "" {
		errs = append(errs, fieldError{Field: "accountId", Message: "accountId is required"})
	}
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	acct, ok := s.activeAccount(req.AccountID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid Loops.so account selected.")
		return
	}
	if !s.allowAccount(r, acct.ID) {
		writeError(w, http.StatusTooManyRequests, "Too many requests for this account, slow down.")
		return
	}

	data, err := s.loops.CreateContact(r.Context(), acct.APIKey, req.Email)
	if err != nil {
		writeUpstreamError(w, err, "Failed to add contact to Loops.so.")
		return
	}
	if _, err := s.db.CreateContact(r.Context(), req.Email, acct.ID); err != nil {
		log.Printf("record contact %s: %v", req.Email, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Contact %s successfully added.", req.Email),
		"data":    data,
	})
}

func (s *Server) handleFindContact(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	email := r.URL.Query().Get("email")
	if accountID == "" || email == "" {
		writeError(w, http.StatusBadRequest, "accountId and email query parameters are required.")
		return
	}

	acct, err := s.accounts.Account(accountID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Account not found.")
		return
	}

	data, err := s.loops.FindContact(r.Context(), acct.APIKey, email)
	if err != nil {
		writeUpstreamError(w, err, "Failed to look up contact.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Email == "" || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "email and accountId are required.")
		return
	}

	acct, err := s.accounts.Account(req.AccountID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Account not found.")
		return
	}

	data, err := s.loops.DeleteContact(r.Context(), acct.APIKey, req.Email)
	if err != nil {
		writeUpstreamError(w, err, "Failed to delete contact.")
		return
	}
	if err := s.db.DeleteContact(r.Context(), req.Email, acct.ID); err != nil {
		log.Printf("delete local contact %s: %v", req.Email, err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.db.Contacts(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contacts.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contacts": contacts})
}

// writeUpstreamError maps platform call failures to 502s, surfacing the
// platform's own message when one was extracted.
func writeUpstreamError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *loops.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		writeError(w, http.StatusBadGateway, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, fallback)
}
