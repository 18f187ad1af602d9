package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CedrosPay/checkout/internal/callbacks"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
)

// WebhookAdmin manages dead-lettered order webhooks.
type WebhookAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]callbacks.FailedEvent, error)
	Redeliver(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

type failedWebhooksResponse struct {
	Webhooks []callbacks.FailedEvent `json:"webhooks"`
	Count    int                     `json:"count"`
}

// listFailedWebhooks handles GET /admin/webhooks?limit=100.
func (h *handlers) listFailedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			apiError(apierrors.ErrCodeInvalidField, "limit must be between 1 and 1000", "limit").write(w)
			return
		}
		limit = parsed
	}

	events, err := h.webhooks.ListFailed(r.Context(), limit)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	jsonResponse(http.StatusOK, failedWebhooksResponse{Webhooks: events, Count: len(events)}).write(w)
}

// retryFailedWebhook handles POST /admin/webhooks/{id}/retry.
func (h *handlers) retryFailedWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.webhooks.Redeliver(r.Context(), id)
	switch {
	case errors.Is(err, callbacks.ErrFailedEventNotFound):
		apiError(apierrors.ErrCodeResourceNotFound, "webhook not found", "id").write(w)
	case err != nil:
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Str("event_id", id).Msg("admin.webhook_retry_failed")
		apiError(apierrors.ErrCodeProcessingError, "webhook delivery failed; the event remains queued", "").write(w)
	default:
		jsonResponse(http.StatusOK, map[string]string{"id": id, "status": "delivered"}).write(w)
	}
}

// deleteFailedWebhook handles DELETE /admin/webhooks/{id}.
func (h *handlers) deleteFailedWebhook(w http.ResponseWriter, r *http.Request) {
	err := h.webhooks.Discard(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, callbacks.ErrFailedEventNotFound):
		apiError(apierrors.ErrCodeResourceNotFound, "webhook not found", "id").write(w)
	case err != nil:
		errorFor(r.Context(), err).write(w)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
