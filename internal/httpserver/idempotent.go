package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/CedrosPay/checkout/internal/apikey"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/logger"
)

const (
	idempotencyKeyHeader     = "Idempotency-Key"
	idempotentReplayedHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLength  = 255
)

// Idempotency scopes, one per mutating operation.
const (
	scopeCreateSession   = "checkout.create"
	scopeUpdateSession   = "checkout.update"
	scopeCompleteSession = "checkout.complete"
	scopeCancelSession   = "checkout.cancel"
	scopeDelegatePayment = "vault.delegate_payment"
)

// idempotent runs exec at most once per Idempotency-Key. Without a key the
// request simply executes. Successful and 4xx responses are stored and
// replayed byte for byte; a 5xx releases the key so the client can retry.
func (h *handlers) idempotent(w http.ResponseWriter, r *http.Request, scope, resource string, body []byte, exec func(context.Context) response) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" || h.guard == nil {
		exec(ctx).write(w)
		return
	}
	if len(key) > maxIdempotencyKeyLength {
		apiError(apierrors.ErrCodeInvalidRequest, "Idempotency-Key must be at most 255 characters", idempotencyKeyHeader).write(w)
		return
	}
	w.Header().Set(idempotencyKeyHeader, key)

	// Keys are namespaced per API key so two agents cannot collide.
	storeKey := key
	if id := apikey.Identity(r); id != "" {
		storeKey = id + ":" + key
	}

	fingerprint, err := idempotency.Fingerprint(scope, resource, body)
	if err != nil {
		apiError(apierrors.ErrCodeInvalidRequest, "request body is not valid JSON", "").write(w)
		return
	}

	outcome, err := h.guard.Observe(ctx, scope, storeKey, fingerprint)
	if err != nil {
		errorFor(ctx, err).write(w)
		return
	}

	log := logger.FromContext(ctx)
	switch outcome.Kind {
	case idempotency.KindConflict:
		log.Info().Str("scope", scope).Msg("idempotency.conflict")
		apiError(apierrors.ErrCodeIdempotencyConflict,
			"Idempotency-Key was already used with a different request", idempotencyKeyHeader).write(w)
		return
	case idempotency.KindReplay:
		log.Debug().Str("scope", scope).Msg("idempotency.replay")
		w.Header().Set(idempotentReplayedHeader, "true")
		writeStored(w, outcome.Response)
		return
	}

	resp := exec(ctx)

	// The outcome must land even if the client has gone away.
	storeCtx := context.WithoutCancel(ctx)
	if resp.status >= http.StatusInternalServerError {
		if err := h.guard.Release(storeCtx, scope, storeKey, outcome.Token); err != nil {
			log.Warn().Err(err).Str("scope", scope).Msg("idempotency.release_failed")
		}
	} else if err := h.guard.Record(storeCtx, scope, storeKey, outcome.Token, resp.stored()); err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("idempotency.record_failed")
	}
	resp.write(w)
}
