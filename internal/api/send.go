package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"loops-console/internal/loops"
	"loops-console/internal/models"
	"loops-console/internal/store"
	"loops-console/internal/telemetry"
)

type sendFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// handleSendEmail sends one transactional email per recipient. Recipients are
// independent: a failure is recorded and the remaining recipients still get
// their copy. The aggregate outcome lands in the email log.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipients  []string `json:"recipients"`
		Subject     string   `json:"subject"`
		HTMLContent string   `json:"htmlContent"`
		FromName    string   `json:"fromName"`
		ReplyTo     string   `json:"replyTo"`
		AccountID   string   `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	var errs []fieldError
	if req.AccountID == "" {
		errs = append(errs, fieldError{Field: "accountId", Message: "accountId is required"})
	}
	if len(req.Recipients) == 0 {
		errs = append(errs, fieldError{Field: "recipients", Message: "at least one recipient is required"})
	}
	for i, rcpt := range req.Recipients {
		if !validEmail(rcpt) {
			errs = append(errs, fieldError{
				Field:   fmt.Sprintf("recipients[%d]", i),
				Message: fmt.Sprintf("%q is not a valid email address", rcpt),
			})
		}
	}
	if strings.TrimSpace(req.Subject) == "" {
		errs = append(errs, fieldError{Field: "subject", Message: "subject is required"})
	}
	if strings.TrimSpace(req.HTMLContent) == "" {
		errs = append(errs, fieldError{Field: "htmlContent", Message: "htmlContent is required"})
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
		writeError(w, http.StatusTooManyRequests, "Too many send requests for this account, slow down.")
		return
	}

	var sent []string
	var failures []sendFailure
	for _, rcpt := range req.Recipients {
		_, err := s.loops.SendTransactional(r.Context(), acct.APIKey, loops.TransactionalEmail{
			To:      rcpt,
			Subject: req.Subject,
			Body:    req.HTMLContent,
			From:    req.FromName,
			ReplyTo: req.ReplyTo,
		})
		if err != nil {
			telemetry.TransactionalFailed.Inc()
			failures = append(failures, sendFailure{Recipient: rcpt, Error: err.Error()})
			continue
		}
		telemetry.TransactionalSent.Inc()
		sent = append(sent, rcpt)

		if _, err := s.db.CreateAnalyticsEvent(r.Context(), store.AnalyticsEventParams{
			AccountID:    acct.ID,
			EventName:    "transactional.email.sent",
			SourceType:   "transactional",
			ContactEmail: rcpt,
			EventTime:    time.Now().UTC(),
			Payload:      map[string]any{"subject": req.Subject},
		}); err != nil {
			log.Printf("record send event for %s: %v", rcpt, err)
		}
	}

	status := models.SendCompleted
	switch {
	case len(sent) == 0:
		status = models.SendFailed
	case len(failures) > 0:
		status = models.SendFailedPartial
	}

	if _, err := s.db.CreateEmailLog(r.Context(), store.EmailLogParams{
		Recipients:  req.Recipients,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		FromName:    req.FromName,
		ReplyTo:     req.ReplyTo,
		AccountID:   acct.ID,
		Status:      status,
	}); err != nil {
		log.Printf("record email log: %v", err)
	}

	if status == models.SendFailed {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":  false,
			"message":  "All sends failed.",
			"status":   status,
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Sent to %d of %d recipients.", len(sent), len(req.Recipients)),
		"status":   status,
		"sent":     sent,
		"failures": failures,
	})
}

func (s *Server) handleListEmailLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.EmailLogs(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list email logs.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": logs})
}
