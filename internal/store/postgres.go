package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"loops-console/internal/models"
)

// Postgres persists contacts, transactional email logs, analytics events and
// webhook signing secrets. Import jobs deliberately live in MemoryStore, not
// here.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateContact records a subscriber locally. Re-importing an existing email
// for the same account is a no-op that returns the stored row.
func (s *Postgres) CreateContact(ctx context.Context, email, accountID string) (models.Contact, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (id, email, account_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email, account_id) DO NOTHING
	`, id, email, accountID, now)
	if err != nil {
		return models.Contact{}, fmt.Errorf("insert contact: %w", err)
	}

	var c models.Contact
	err = s.pool.QueryRow(ctx, `
		SELECT id, email, account_id, created_at FROM contacts
		WHERE email = $1 AND account_id = $2
	`, email, accountID).Scan(&c.ID, &c.Email, &c.AccountID, &c.CreatedAt)
	if err != nil {
		return models.Contact{}, fmt.Errorf("read contact back: %w", err)
	}
	return c, nil
}

// Contacts lists contacts, optionally filtered by account, newest first.
func (s *Postgres) Contacts(ctx context.Context, accountID string) ([]models.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, account_id, created_at FROM contacts
		WHERE ($1 = '' OR account_id = $1)
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	out := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.AccountID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a subscriber row.
func (s *Postgres) DeleteContact(ctx context.Context, email, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM contacts WHERE email = $1 AND account_id = $2
	`, email, accountID)
	return err
}

// EmailLogParams collects inputs for one transactional send record.
type EmailLogParams struct {
	Recipients  []string
	Subject     string
	HTMLContent string
	FromName    string
	ReplyTo     string
	AccountID   string
	Status      string
}

// CreateEmailLog records a transactional send and its aggregate outcome.
func (s *Postgres) CreateEmailLog(ctx context.Context, p EmailLogParams) (models.EmailLog, error) {
	recipientsJSON, err := json.Marshal(p.Recipients)
	if err != nil {
		return models.EmailLog{}, fmt.Errorf("marshal recipients: %w", err)
	}

	logRow := models.EmailLog{
		ID:          uuid.New().String(),
		Recipients:  p.Recipients,
		Subject:     p.Subject,
		HTMLContent: p.HTMLContent,
		FromName:    p.FromName,
		ReplyTo:     p.ReplyTo,
		AccountID:   p.AccountID,
		Status:      p.Status,
		SentAt:      time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO email_logs (id, recipients, subject, html_content, from_name, reply_to, account_id, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, logRow.ID, recipientsJSON, logRow.Subject, logRow.HTMLContent,
		nullable(logRow.FromName), nullable(logRow.ReplyTo), logRow.AccountID, logRow.Status, logRow.SentAt)
	if err != nil {
		return models.EmailLog{}, fmt.Errorf("insert email log: %w", err)
	}
	return logRow, nil
}

// EmailLogs lists send records, optionally filtered by account, newest first.
func (s *Postgres) EmailLogs(ctx context.Context, accountID string) ([]models.EmailLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipients, subject, html_content, from_name, reply_to, account_id, status, sent_at
		FROM email_logs
		WHERE ($1 = '' OR account_id = $1)
		ORDER BY sent_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query email logs: %w", err)
	}
	defer rows.Close()

	out := []models.EmailLog{}
	for rows.Next() {
		var l models.EmailLog
		var recipientsJSON []byte
		var fromName, replyTo pgtype.Text
		if err := rows.Scan(&l.ID, &recipientsJSON, &l.Subject, &l.HTMLContent, &fromName, &replyTo, &l.AccountID, &l.Status, &l.SentAt); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		if err := json.Unmarshal(recipientsJSON, &l.Recipients); err != nil {
			return nil, fmt.Errorf("unmarshal recipients: %w", err)
		}
		l.FromName = fromName.String
		l.ReplyTo = replyTo.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// AnalyticsEventParams collects inputs for one analytics event row.
type AnalyticsEventParams struct {
	AccountID    string
	EventName    string
	SourceType   string
	SourceID     string
	ContactEmail string
	EventTime    time.Time
	Payload      map[string]any
}

// CreateAnalyticsEvent inserts one event.
func (s *Postgres) CreateAnalyticsEvent(ctx context.Context, p AnalyticsEventParams) (models.AnalyticsEvent, error) {
	if p.EventTime.IsZero() {
		p.EventTime = time.Now().UTC()
	}
	if p.SourceType == "" {
		p.SourceType = "unknown"
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.AnalyticsEvent{}, fmt.Errorf("marshal payload: %w", err)
	}

	ev := models.AnalyticsEvent{
		ID:           uuid.New().String(),
		AccountID:    p.AccountID,
		EventName:    p.EventName,
		SourceType:   p.SourceType,
		SourceID:     p.SourceID,
		ContactEmail: p.ContactEmail,
		EventTime:    p.EventTime,
		Payload:      p.Payload,
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analytics_events (id, account_id, event_name, source_type, source_id, contact_email, event_time, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.AccountID, ev.EventName, ev.SourceType, nullable(ev.SourceID), ev.ContactEmail, ev.EventTime, payloadJSON)
	if err != nil {
		return models.AnalyticsEvent{}, fmt.Errorf("insert analytics event: %w", err)
	}
	return ev, nil
}

// UpsertWebhook stores the signing secret for an account's webhook.
func (s *Postgres) UpsertWebhook(ctx context.Context, accountID, signingSecret string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, account_id, signing_secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET signing_secret = EXCLUDED.signing_secret
	`, uuid.New().String(), accountID, signingSecret)
	return err
}

// WebhookSecret returns the signing secret for an account, if registered.
func (s *Postgres) WebhookSecret(ctx context.Context, accountID string) (string, bool, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `
		SELECT signing_secret FROM webhooks WHERE account_id = $1
	`, accountID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query webhook secret: %w", err)
	}
	return secret, true, nil
}

// CampaignSources returns the distinct loop ids seen for an account.
func (s *Postgres) CampaignSources(ctx context.Context, accountID string) ([]models.CampaignSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT source_id FROM analytics_events
		WHERE account_id = $1 AND source_type = 'loop' AND source_id IS NOT NULL
		ORDER BY source_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query campaign sources: %w", err)
	}
	defer rows.Close()

	out := []models.CampaignSource{}
	for rows.Next() {
		var src models.CampaignSource
		if err := rows.Scan(&src.LoopID); err != nil {
			return nil, fmt.Errorf("scan campaign source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// CampaignAnalytics aggregates one loop's events: lifetime totals, the raw
// event list, and a per-day sends/opens/clicks series for the chart.
func (s *Postgres) CampaignAnalytics(ctx context.Context, accountID, loopID string) (models.CampaignAnalytics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, event_name, source_type, source_id, contact_email, event_time, payload
		FROM analytics_events
		WHERE account_id = $1 AND source_id = $2
		ORDER BY event_time
	`, accountID, loopID)
	if err != nil {
		return models.CampaignAnalytics{}, fmt.Errorf("query campaign events: %w", err)
	}
	defer rows.Close()

	out := models.CampaignAnalytics{
		Events:         []models.AnalyticsEvent{},
		EventsOverTime: []models.CampaignDay{},
	}
	byDay := map[string]*models.CampaignDay{}
	dayOrder := []string{}

	for rows.Next() {
		var ev models.AnalyticsEvent
		var sourceID pgtype.Text
		var payloadJSON []byte
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.EventName, &ev.SourceType, &sourceID, &ev.ContactEmail, &ev.EventTime, &payloadJSON); err != nil {
			return models.CampaignAnalytics{}, fmt.Errorf("scan campaign event: %w", err)
		}
		ev.SourceID = sourceID.String
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &ev.Payload)
		}
		out.Events = append(out.Events, ev)

		switch ev.EventName {
		case "loop.email.sent":
			out.Sends++
		case "email.opened":
			out.Opens++
		case "email.clicked":
			out.Clicks++
		case "email.unsubscribed":
			out.Unsubscribes++
		}

		day := ev.EventTime.UTC().Format("2006-01-02")
		bucket, ok := byDay[day]
		if !ok {
			bucket = &models.CampaignDay{Date: day}
			byDay[day] = bucket
			dayOrder = append(dayOrder, day)
		}
		switch ev.EventName {
		case "loop.email.sent":
			bucket.Sends++
		case "email.opened":
			bucket.Opens++
		case "email.clicked":
			bucket.Clicks++
		}
	}
	if err := rows.Err(); err != nil {
		return models.CampaignAnalytics{}, err
	}

	for _, day := range dayOrder {
		out.EventsOverTime = append(out.EventsOverTime, *byDay[day])
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
