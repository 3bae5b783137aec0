package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"loops-console/internal/runner"
)

// validEmail accepts a bare address, no display name.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emails    []string `json:"emails"`
		AccountID string   `json:"accountId"`
		Delay     *int     `json:"delay"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	var errs []fieldError
	if req.AccountID == "" {
		errs = append(errs, fieldError{Field: "accountId", Message: "accountId is required"})
	}
	if len(req.Emails) == 0 {
		errs = append(errs, fieldError{Field: "emails", Message: "at least one email is required"})
	}
	for i, email := range req.Emails {
		if !validEmail(email) {
			errs = append(errs, fieldError{
				Field:   fmt.Sprintf("emails[%d]", i),
				Message: fmt.Sprintf("%q is not a valid email address", email),
			})
		}
	}
	if req.Delay != nil && *req.Delay < 0 {
		errs = append(errs, fieldError{Field: "delay", Message: "delay must be >= 0"})
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
		writeError(w, http.StatusTooManyRequests, "Too many import requests for this account, slow down.")
		return
	}

	delay := s.cfg.DefaultDelay
	if req.Delay != nil {
		delay = time.Duration(*req.Delay) * time.Millisecond
	}

	job := s.jobs.CreateImportJob(acct.ID, len(req.Emails))
	if err := s.runner.Start(runner.StartParams{
		JobID:     job.ID,
		AccountID: acct.ID,
		APIKey:    acct.APIKey,
		Emails:    req.Emails,
		Delay:     delay,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start import job.")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Import of %d contacts started.", len(req.Emails)),
		"jobId":   job.ID,
	})
}

func (s *Server) handleJobControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID  string `json:"jobId"`
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.JobID == "" || req.Action == "" {
		writeValidationError(w, []fieldError{
			{Field: "jobId", Message: "jobId and action are required"},
		})
		return
	}

	result, err := s.runner.Control(r.Context(), req.JobID, strings.ToLower(req.Action))
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Import job not found.")
		return
	case errors.Is(err, runner.ErrContextLost):
		writeError(w, http.StatusConflict, "Job cannot be resumed in this process. Start a new import.")
		return
	case errors.Is(err, runner.ErrNotResumable):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, runner.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to control job.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  result.Status,
		"message": result.Message,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.ImportJob(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Import job not found.")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ImportJobs(r.URL.Query().Get("accountId"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobs": jobs})
}
