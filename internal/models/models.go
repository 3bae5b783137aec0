package models

import (
	"time"
)

// Import job lifecycle states. Pending jobs have been accepted but not yet
// picked up by a runner; completed and stopped are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusStopped   = "stopped"
	StatusCompleted = "completed"
)

// Per-item import outcomes recorded in an ImportJob's log.
const (
	LogSuccess = "success"
	LogFailed  = "failed"
)

// Account is a Loops.so credential set managed by the console.
type Account struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKey         string    `json:"apiKey"`
	OrganizationID string    `json:"organizationId,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ImportLogEntry records the outcome of a single email within a bulk import,
// in processing order. Entries are append-only.
type ImportLogEntry struct {
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ImportJob is one bulk-import run for a fixed email list and account.
// ProcessedEmails is the next unprocessed index into the original list and
// always equals len(Logs) once processing has begun.
type ImportJob struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"accountId"`
	TotalEmails     int              `json:"totalEmails"`
	ProcessedEmails int              `json:"processedEmails"`
	Status          string           `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	Logs            []ImportLogEntry `json:"logs"`
}

// Contact is a locally recorded subscriber.
type Contact struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	AccountID string    `json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transactional send outcomes for an EmailLog.
const (
	SendCompleted     = "completed"
	SendFailedPartial = "failed_partial"
	SendFailed        = "failed"
)

// EmailLog records one transactional send request and its aggregate outcome.
type EmailLog struct {
	ID          string    `json:"id"`
	Recipients  []string  `json:"recipients"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
	FromName    string    `json:"fromName,omitempty"`
	ReplyTo     string    `json:"replyTo,omitempty"`
	AccountID   string    `json:"accountId"`
	Status      string    `json:"status"`
	SentAt      time.Time `json:"sentAt"`
}

// AnalyticsEvent is one recorded platform event, either received on the
// webhook sink or emitted locally for transactional sends.
type AnalyticsEvent struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"accountId"`
	EventName    string         `json:"eventName"`
	SourceType   string         `json:"sourceType"`
	SourceID     string         `json:"sourceId,omitempty"`
	ContactEmail string         `json:"contactEmail"`
	EventTime    time.Time      `json:"eventTime"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// CampaignSource identifies a loop/campaign seen in analytics events.
type CampaignSource struct {
	LoopID string `json:"loopId"`
}

// CampaignDay is one day's aggregated counts for the dashboard chart.
type CampaignDay struct {
	Date   string `json:"date"`
	Sends  int    `json:"sends"`
	Opens  int    `json:"opens"`
	Clicks int    `json:"clicks"`
}

// CampaignAnalytics aggregates all events of one loop for one account.
type CampaignAnalytics struct {
	Sends          int              `json:"sends"`
	Opens          int              `json:"opens"`
	Clicks         int              `json:"clicks"`
	Unsubscribes   int              `json:"unsubscribes"`
	Events         []AnalyticsEvent `json:"events"`
	EventsOverTime []CampaignDay    `json:"eventsOverTime"`
}
