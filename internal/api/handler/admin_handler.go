package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// AdminHandler serves the monitoring and forensic read endpoints.
// These are straightforward reads over the transaction data model plus
// queue stats snapshots from the broker.
type AdminHandler struct {
	repo    repository.TransactionRepository
	broker  queue.Broker
	limiter *ratelimiter.ChannelLimiters
	logger  *zap.Logger
}

func NewAdminHandler(
	repo repository.TransactionRepository,
	broker queue.Broker,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{repo: repo, broker: broker, limiter: limiter, logger: logger}
}

// Dashboard handles GET /admin/dashboard
//
// @Summary  Combined status counts and queue depth snapshot
// @Tags     admin
// @Produce  json
// @Param    userId  query     string  false  "Restrict statistics to one user"
// @Success  200     {object}  map[string]any
// @Router   /admin/dashboard [get]
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var userID *string
	if u := r.URL.Query().Get("userId"); u != "" {
		userID = &u
	}

	statistics, err := h.repo.CountByStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("dashboard statistics failed", zap.Error(err))
		mapError(w, err)
		return
	}

	queueStats := make(map[string]queue.Stats)
	for _, name := range []string{queue.QueueRegular, queue.QueuePriority, queue.QueueDeadLetter} {
		stats, err := h.broker.Stats(r.Context(), name)
		if err != nil {
			h.logger.Warn("queue stats unavailable", zap.String("queue", name), zap.Error(err))
			continue
		}
		queueStats[name] = stats
	}

	rateLimits := make(map[domain.Channel]int, len(domain.AllChannels))
	for _, c := range domain.AllChannels {
		rateLimits[c] = h.limiter.Rate(c)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"statistics": statistics,
		"queueStats": queueStats,
		"rateLimits": rateLimits,
		"timestamp":  time.Now().UTC(),
	})
}

// Queues handles GET /admin/queues
//
// @Summary  Raw per-queue stats snapshot
// @Tags     admin
// @Produce  json
// @Success  200  {object}  map[string]queue.Stats
// @Router   /admin/queues [get]
func (h *AdminHandler) Queues(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.Stats)
	for _, name := range []string{queue.QueueRegular, queue.QueuePriority, queue.QueueDeadLetter} {
		stats, err := h.broker.Stats(r.Context(), name)
		if err != nil {
			mapError(w, err)
			return
		}
		out[name] = stats
	}
	respondJSON(w, http.StatusOK, out)
}

// ListTransactions handles GET /admin/transactions
//
// @Summary  List transactions with filtering and pagination
// @Tags     admin
// @Produce  json
// @Param    transactionId  query  string  false  "Exact transaction ID"
// @Param    userId         query  string  false  "Exact user ID"
// @Param    status         query  string  false  "Transaction status"
// @Param    channel        query  string  false  "Delivery channel"
// @Param    failureReason  query  string  false  "Case-insensitive substring"
// @Param    startDate      query  string  false  "Created after (RFC3339)"
// @Param    endDate        query  string  false  "Created before (RFC3339)"
// @Param    limit          query  int     false  "Max rows (default 100)"
// @Param    offset         query  int     false  "Rows to skip (default 0)"
// @Success  200  {object}  map[string]any
// @Router   /admin/transactions [get]
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := parseTransactionFilter(r)
	transactions, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transactions failed", zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":   transactions,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetTransaction handles GET /admin/transactions/{transactionId}
//
// @Summary  Get one transaction with its error logs, newest first
// @Tags     admin
// @Produce  json
// @Param    transactionId  path      string  true  "Transaction UUID"
// @Success  200            {object}  map[string]any
// @Failure  404            {object}  map[string]any
// @Router   /admin/transactions/{transactionId} [get]
func (h *AdminHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionId")

	t, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	logs, err := h.repo.ErrorLogs(r.Context(), id)
	if err != nil {
		h.logger.Error("fetch error logs failed", zap.String("transaction_id", id), zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"transaction": t,
		"errorLogs":   logs,
	})
}

// ListFailed handles GET /admin/failed
//
// @Summary  List error log entries with filtering and pagination
// @Tags     admin
// @Produce  json
// @Param    errorType  query  string  false  "Error taxonomy bucket"
// @Param    retryable  query  bool    false  "Retryable flag"
// @Param    startDate  query  string  false  "Logged after (RFC3339)"
// @Param    endDate    query  string  false  "Logged before (RFC3339)"
// @Param    limit      query  int     false  "Max rows (default 100)"
// @Param    offset     query  int     false  "Rows to skip (default 0)"
// @Success  200  {object}  map[string]any
// @Router   /admin/failed [get]
func (h *AdminHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	filter := parseErrorLogFilter(r)
	logs, total, err := h.repo.ListErrorLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("list error logs failed", zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":   logs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ErrorAnalytics handles GET /admin/analytics/errors
//
// @Summary  Error totals, per-type and per-retryability breakdowns, recent errors
// @Tags     admin
// @Produce  json
// @Param    startDate  query  string  false  "Window start (RFC3339)"
// @Param    endDate    query  string  false  "Window end (RFC3339)"
// @Success  200  {object}  domain.ErrorAnalytics
// @Router   /admin/analytics/errors [get]
func (h *AdminHandler) ErrorAnalytics(w http.ResponseWriter, r *http.Request) {
	from, to := parseDateRange(r)
	analytics, err := h.repo.ErrorAnalytics(r.Context(), from, to)
	if err != nil {
		h.logger.Error("error analytics failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analytics)
}

// ChannelAnalytics handles GET /admin/analytics/channels
//
// @Summary  Per-channel delivery counts and success/failure rates
// @Tags     admin
// @Produce  json
// @Param    startDate  query  string  false  "Window start (RFC3339)"
// @Param    endDate    query  string  false  "Window end (RFC3339)"
// @Success  200  {object}  map[string]any
// @Router   /admin/analytics/channels [get]
func (h *AdminHandler) ChannelAnalytics(w http.ResponseWriter, r *http.Request) {
	from, to := parseDateRange(r)
	stats, err := h.repo.ChannelStats(r.Context(), from, to)
	if err != nil {
		h.logger.Error("channel analytics failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": stats})
}

// ---- query parsing ----

func parseTransactionFilter(r *http.Request) domain.TransactionFilter {
	q := r.URL.Query()
	filter := domain.TransactionFilter{Limit: defaultListLimit}

	if v := q.Get("transactionId"); v != "" {
		filter.TransactionID = &v
	}
	if v := q.Get("userId"); v != "" {
		filter.UserID = &v
	}
	if v := q.Get("status"); v != "" {
		s := domain.Status(v)
		filter.Status = &s
	}
	if v := q.Get("channel"); v != "" {
		c := domain.Channel(v)
		filter.Channel = &c
	}
	if v := q.Get("failureReason"); v != "" {
		filter.FailureReason = &v
	}
	filter.StartDate, filter.EndDate = parseDateRange(r)
	filter.Limit, filter.Offset = parseLimitOffset(r)
	return filter
}

func parseErrorLogFilter(r *http.Request) domain.ErrorLogFilter {
	q := r.URL.Query()
	filter := domain.ErrorLogFilter{Limit: defaultListLimit}

	if v := q.Get("errorType"); v != "" {
		k := domain.ErrorKind(v)
		filter.ErrorType = &k
	}
	if v := q.Get("retryable"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Retryable = &b
		}
	}
	filter.StartDate, filter.EndDate = parseDateRange(r)
	filter.Limit, filter.Offset = parseLimitOffset(r)
	return filter
}

func parseDateRange(r *http.Request) (from, to *time.Time) {
	q := r.URL.Query()
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}
	return from, to
}

func parseLimitOffset(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = defaultListLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= maxListLimit {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
