package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api/handler"
	apimw "github.com/notifyhub/dispatch/internal/api/middleware"
	"github.com/notifyhub/dispatch/internal/dispatch"
	"github.com/notifyhub/dispatch/internal/preference"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	dispatcher *dispatch.Dispatcher,
	prefs *preference.Store,
	repo repository.TransactionRepository,
	broker queue.Broker,
	limiter *ratelimiter.ChannelLimiters,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(dispatcher, logger)
	ph := handler.NewPreferenceHandler(prefs, logger)
	ah := handler.NewAdminHandler(repo, broker, limiter, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Post("/notifications/send", nh.Send)
	r.Post("/notifications/send-bulk", nh.SendBulk)

	r.Route("/users/{userId}", func(r chi.Router) {
		r.Get("/preferences", ph.Get)
		r.Put("/preferences", ph.Update)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/dashboard", ah.Dashboard)
		r.Get("/queues", ah.Queues)
		r.Get("/transactions", ah.ListTransactions)
		r.Get("/transactions/{transactionId}", ah.GetTransaction)
		r.Get("/failed", ah.ListFailed)
		r.Get("/analytics/errors", ah.ErrorAnalytics)
		r.Get("/analytics/channels", ah.ChannelAnalytics)
	})

	return r
}
