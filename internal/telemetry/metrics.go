package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ImportsStarted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "imports_started_total", Help: "Bulk import jobs accepted"})
	ImportSuccess      = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_emails_success_total", Help: "Emails imported successfully"})
	ImportFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_emails_failed_total", Help: "Emails that failed to import"})
	TransactionalSent  = prometheus.NewCounter(prometheus.CounterOpts{Name: "transactional_sent_total", Help: "Transactional emails sent"})
	TransactionalFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "transactional_failed_total", Help: "Transactional emails that failed to send"})
	WebhookAccepted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_events_accepted_total", Help: "Webhook events accepted after signature verification"})
	WebhookRejected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_events_rejected_total", Help: "Webhook events rejected (bad signature or headers)"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "rate_limit_rejects_total", Help: "Requests rejected by the per-account rate limiter"})
	ActiveImports      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "imports_active", Help: "Import runner loops currently live"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ImportsStarted,
			ImportSuccess,
			ImportFailed,
			TransactionalSent,
			TransactionalFailed,
			WebhookAccepted,
			WebhookRejected,
			RateLimitRejects,
			ActiveImports,
		)
	})
	return promhttp.Handler()
}
