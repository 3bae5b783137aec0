// Package api exposes the console's REST surface: account management, bulk
// and single contact imports, job control and polling, transactional sends,
// the signed webhook sink and the analytics dashboard queries.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"loops-console/internal/config"
	"loops-console/internal/loops"
	"loops-console/internal/models"
	"loops-console/internal/runner"
	"loops-console/internal/store"
	"loops-console/internal/telemetry"
)

// LoopsAPI is the slice of the Loops client the handlers call directly.
type LoopsAPI interface {
	CreateContact(ctx context.Context, apiKey, email string) (json.RawMessage, error)
	FindContact(ctx context.Context, apiKey, email string) (json.RawMessage, error)
	DeleteContact(ctx context.Context, apiKey, email string) (json.RawMessage, error)
	SendTransactional(ctx context.Context, apiKey string, msg loops.TransactionalEmail) (json.RawMessage, error)
	TestKey(ctx context.Context, apiKey string) (json.RawMessage, error)
}

// Database is the durable store consumed by the handlers, implemented by
// *store.Postgres.
type Database interface {
	CreateContact(ctx context.Context, email, accountID string) (models.Contact, error)
	Contacts(ctx context.Context, accountID string) ([]models.Contact, error)
	DeleteContact(ctx context.Context, email, accountID string) error
	CreateEmailLog(ctx context.Context, p store.EmailLogParams) (models.EmailLog, error)
	EmailLogs(ctx context.Context, accountID string) ([]models.EmailLog, error)
	CreateAnalyticsEvent(ctx context.Context, p store.AnalyticsEventParams) (models.AnalyticsEvent, error)
	UpsertWebhook(ctx context.Context, accountID, signingSecret string) error
	WebhookSecret(ctx context.Context, accountID string) (string, bool, error)
	CampaignSources(ctx context.Context, accountID string) ([]models.CampaignSource, error)
	CampaignAnalytics(ctx context.Context, accountID, loopID string) (models.CampaignAnalytics, error)
}

// Limiter gates the endpoints that call out to the platform, implemented by
// *ratelimit.TokenBucket. A nil limiter disables rate limiting.
type Limiter interface {
	AllowAccount(ctx context.Context, accountID string) (bool, float64, error)
}

// Server wires the HTTP handlers.
type Server struct {
	cfg      config.Config
	accounts *store.AccountStore
	jobs     *store.MemoryStore
	db       Database
	loops    LoopsAPI
	runner   *runner.Runner
	limiter  Limiter
}

// New constructs the API server.
func New(cfg config.Config, accounts *store.AccountStore, jobs *store.MemoryStore, db Database, loopsClient LoopsAPI, jobRunner *runner.Runner, limiter Limiter) *Server {
	return &Server{
		cfg:      cfg,
		accounts: accounts,
		jobs:     jobs,
		db:       db,
		loops:    loopsClient,
		runner:   jobRunner,
		limiter:  limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{id}/test-connection", s.handleTestConnection)
		r.Put("/accounts/{id}/active", s.handleSetAccountActive)

		r.Post("/loops/import-contacts", s.handleBulkImport)
		r.Post("/jobs/control", s.handleJobControl)
		r.Get("/import-jobs", s.handleListJobs)
		r.Get("/import-jobs/{jobID}", s.handleGetJob)

		r.Post("/loops/import-contact", s.handleSingleImport)
		r.Get("/loops/contacts/find", s.handleFindContact)
		r.Post("/loops/contacts/delete", s.handleDeleteContact)
		r.Get("/contacts", s.handleListContacts)

		r.Post("/loops/send-email", s.handleSendEmail)
		r.Get("/email-logs", s.handleListEmailLogs)

		r.Get("/loops/analytics/loops", s.handleListCampaigns)
		r.Get("/loops/analytics/loops/{loopID}", s.handleCampaignAnalytics)

		r.Post("/webhooks/register", s.handleRegisterWebhook)
		r.Post("/webhooks/loops", s.handleWebhookEvent)
	})

	return r
}

// activeAccount loads an account and rejects inactive or unknown ones the
// same way: the caller picked an account that cannot be used.
func (s *Server) activeAccount(id string) (models.Account, bool) {
	acct, err := s.accounts.Account(id)
	if err != nil || !acct.IsActive {
		return models.Account{}, false
	}
	return acct, true
}

// allowAccount applies the per-account rate limit; a nil limiter always
// allows. Limiter backend errors fail open so a Redis outage does not take
// the console down with it.
func (s *Server) allowAccount(r *http.Request, accountID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.AllowAccount(r.Context(), accountID)
	if err != nil {
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
	}
	return allowed
}
