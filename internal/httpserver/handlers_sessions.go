package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/protocol"
)

// createSession handles POST /checkout_sessions.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	var req protocol.CreateSessionRequest
	if err := protocol.Decode(protocol.SchemaCreateSession, body, &req); err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}

	h.idempotent(w, r, scopeCreateSession, "", body, func(ctx context.Context) response {
		s, err := h.sessions.Create(ctx, req.ToDomain())
		if err != nil {
			return errorFor(ctx, err)
		}
		return jsonResponse(http.StatusCreated, protocol.NewSession(s))
	})
}

// getSession handles GET /checkout_sessions/{id}.
func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	jsonResponse(http.StatusOK, protocol.NewSession(s)).write(w)
}

// updateSession handles POST /checkout_sessions/{id}.
func (h *handlers) updateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(w, r)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	var req protocol.UpdateSessionRequest
	if err := protocol.Decode(protocol.SchemaUpdateSession, body, &req); err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}

	h.idempotent(w, r, scopeUpdateSession, id, body, func(ctx context.Context) response {
		s, err := h.sessions.Update(ctx, id, req.ToDomain())
		if err != nil {
			return errorFor(ctx, err)
		}
		return jsonResponse(http.StatusOK, protocol.NewSession(s))
	})
}

// completeSession handles POST /checkout_sessions/{id}/complete.
func (h *handlers) completeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(w, r)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	var req protocol.CompleteSessionRequest
	if err := protocol.Decode(protocol.SchemaCompleteSession, body, &req); err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}

	h.idempotent(w, r, scopeCompleteSession, id, body, func(ctx context.Context) response {
		s, err := h.sessions.Complete(ctx, id, req.ToDomain())
		if err != nil {
			log := logger.FromContext(ctx)
			log.Info().
				Err(err).
				Str("checkout_session_id", id).
				Str("provider", req.PaymentData.Provider).
				Msg("checkout.complete_rejected")
			return errorFor(ctx, err)
		}
		return jsonResponse(http.StatusOK, protocol.NewSession(s))
	})
}

// cancelSession handles POST /checkout_sessions/{id}/cancel.
func (h *handlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(w, r)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}

	h.idempotent(w, r, scopeCancelSession, id, body, func(ctx context.Context) response {
		s, err := h.sessions.Cancel(ctx, id)
		if err != nil {
			return errorFor(ctx, err)
		}
		return jsonResponse(http.StatusOK, protocol.NewSession(s))
	})
}
