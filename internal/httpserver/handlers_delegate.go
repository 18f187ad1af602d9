package httpserver

import (
	"context"
	"net/http"

	"github.com/CedrosPay/checkout/internal/protocol"
)

// delegatePayment handles POST /agentic_commerce/delegate_payment. Card
// fields are never logged.
func (h *handlers) delegatePayment(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}
	var req protocol.DelegatePaymentRequest
	if err := protocol.Decode(protocol.SchemaDelegatePayment, body, &req); err != nil {
		errorFor(r.Context(), err).write(w)
		return
	}

	issue := req.ToDomain()
	if issue.Allowance.MerchantID == "" {
		issue.Allowance.MerchantID = h.cfg.Checkout.MerchantID
	}

	h.idempotent(w, r, scopeDelegatePayment, "", body, func(ctx context.Context) response {
		token, err := h.vault.Issue(ctx, issue)
		if err != nil {
			return errorFor(ctx, err)
		}
		return jsonResponse(http.StatusCreated, protocol.NewDelegatePaymentResponse(token))
	})
}
