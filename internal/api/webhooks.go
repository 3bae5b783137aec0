package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"loops-console/internal/store"
	"loops-console/internal/telemetry"
	"loops-console/internal/webhook"
)

// webhookEvent is the subset of the platform's event payload the console
// records. Exactly one of CampaignID, LoopID and TransactionalID identifies
// the source, depending on sourceType.
type webhookEvent struct {
	EventName       string `json:"eventName"`
	EventTime       int64  `json:"eventTime"`
	SourceType      string `json:"sourceType"`
	CampaignID      string `json:"campaignId"`
	LoopID          string `json:"loopId"`
	TransactionalID string `json:"transactionalId"`
	ContactIdentity struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"contactIdentity"`
}

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID     string `json:"accountId"`
		SigningSecret string `json:"signingSecret"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.AccountID == "" || req.SigningSecret == "" {
		writeError(w, http.StatusBadRequest, "accountId and signingSecret are required.")
		return
	}
	if _, err := s.accounts.Account(req.AccountID); err != nil {
		writeError(w, http.StatusNotFound, "Account not found.")
		return
	}

	if err := s.db.UpsertWebhook(r.Context(), req.AccountID, req.SigningSecret); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save webhook secret.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Webhook secret saved."})
}

// handleWebhookEvent verifies the HMAC signature against the account's
// registered secret before recording anything. The raw body bytes feed the
// signature check; parsing happens only after the request is authenticated.
func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusBadRequest, "Failed to read request body.")
		return
	}

	accountID := r.Header.Get("loops-account-id")
	eventID := r.Header.Get("webhook-id")
	timestamp := r.Header.Get("webhook-timestamp")
	signature := r.Header.Get("webhook-signature")
	if accountID == "" {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusBadRequest, "Missing loops-account-id header.")
		return
	}

	secret, found, err := s.db.WebhookSecret(r.Context(), accountID)
	if err != nil {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusInternalServerError, "Failed to load webhook secret.")
		return
	}
	if !found {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusBadRequest, "No webhook secret registered for this account.")
		return
	}

	if err := webhook.Verify(secret, eventID, timestamp, body, signature); err != nil {
		telemetry.WebhookRejected.Inc()
		switch {
		case errors.Is(err, webhook.ErrMissingHeader):
			writeError(w, http.StatusBadRequest, "Missing required webhook header.")
		case errors.Is(err, webhook.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "Invalid webhook signature.")
		default:
			writeError(w, http.StatusInternalServerError, "Webhook verification failed.")
		}
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusBadRequest, "Invalid event payload.")
		return
	}
	if ev.EventName == "" || ev.EventTime == 0 || ev.ContactIdentity.Email == "" {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusBadRequest, "Event is missing eventName, eventTime or contactIdentity.email.")
		return
	}

	sourceID := ev.CampaignID
	if sourceID == "" {
		sourceID = ev.LoopID
	}
	if sourceID == "" {
		sourceID = ev.TransactionalID
	}

	var payload map[string]any
	_ = json.Unmarshal(body, &payload)

	if _, err := s.db.CreateAnalyticsEvent(r.Context(), store.AnalyticsEventParams{
		AccountID:    accountID,
		EventName:    ev.EventName,
		SourceType:   ev.SourceType,
		SourceID:     sourceID,
		ContactEmail: ev.ContactIdentity.Email,
		EventTime:    time.Unix(ev.EventTime, 0).UTC(),
		Payload:      payload,
	}); err != nil {
		telemetry.WebhookRejected.Inc()
		writeError(w, http.StatusInternalServerError, "Failed to record event.")
		return
	}

	telemetry.WebhookAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "received": true})
}
