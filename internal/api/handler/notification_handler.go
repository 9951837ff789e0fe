package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/dispatch"
	"github.com/notifyhub/dispatch/internal/domain"
)

// NotificationHandler handles the submission endpoints.
type NotificationHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(dispatcher *dispatch.Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher, logger: logger}
}

// Send handles POST /notifications/send
//
// @Summary     Submit a notification for asynchronous delivery
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.CreateNotificationRequest  true  "Notification payload"
// @Success     202   {object}  map[string]any
// @Failure     400   {object}  map[string]any
// @Router      /notifications/send [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := h.dispatcher.Submit(r.Context(), req)
	if err != nil {
		h.logger.Warn("submit notification failed",
			zap.String("correlation_id", domain.CorrelationIDFrom(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":       true,
		"transactionId": sub.TransactionID,
		"message":       "notification queued for delivery",
		"channel":       sub.Channel,
		"priority":      sub.Priority,
	})
}

// SendBulk handles POST /notifications/send-bulk
//
// @Summary     Submit up to 1000 notifications in a single request
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.BulkNotificationRequest  true  "Bulk payload"
// @Success     202   {object}  map[string]any
// @Failure     400   {object}  map[string]any
// @Router      /notifications/send-bulk [post]
func (h *NotificationHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, err := h.dispatcher.SubmitBulk(r.Context(), req.Notifications)
	if err != nil {
		h.logger.Warn("bulk submit failed", zap.Error(err))
		mapError(w, err)
		return
	}

	queued := 0
	for _, res := range results {
		if res.Success {
			queued++
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"total":   len(results),
		"queued":  queued,
		"failed":  len(results) - queued,
		"results": results,
	})
}
