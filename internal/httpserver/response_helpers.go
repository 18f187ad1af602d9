package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/payments"
	"github.com/CedrosPay/checkout/internal/protocol"
	"github.com/CedrosPay/checkout/internal/vault"
)

// response is a fully rendered reply. Rendering before writing lets the
// idempotency guard store the exact bytes a replay must return.
type response struct {
	status int
	body   []byte
}

func jsonResponse(status int, payload any) response {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return apiError(apierrors.ErrCodeInternalError, "failed to encode response", "")
	}
	return response{status: status, body: buf.Bytes()}
}

func apiError(code apierrors.ErrorCode, message, param string) response {
	return jsonResponse(code.HTTPStatus(), apierrors.NewErrorResponse(code, message, param))
}

func (r response) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body)
}

func (r response) stored() idempotency.Response {
	return idempotency.Response{StatusCode: r.status, ContentType: "application/json", Body: r.body}
}

func writeStored(w http.ResponseWriter, stored *idempotency.Response) {
	contentType := stored.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(stored.StatusCode)
	_, _ = w.Write(stored.Body)
}

// errorFor maps a domain error onto the flat error body. Unexpected errors
// are logged here since nothing above the handler sees them.
func errorFor(ctx context.Context, err error) response {
	var validation *protocol.ValidationError
	if errors.As(err, &validation) {
		code := apierrors.ErrCodeInvalidField
		if validation.Missing {
			code = apierrors.ErrCodeMissingField
		}
		if validation.Param == "" {
			code = apierrors.ErrCodeInvalidRequest
		}
		return apiError(code, validation.Message, validation.Param)
	}

	var allowance *vault.AllowanceError
	if errors.As(err, &allowance) {
		return apiError(apierrors.ErrCodeInvalidField, allowance.Message, "$.allowance."+allowance.Field)
	}

	switch {
	case errors.Is(err, errBodyTooLarge):
		return apiError(apierrors.ErrCodeInvalidRequest, err.Error(), "")

	case errors.Is(err, checkout.ErrSessionNotFound):
		return apiError(apierrors.ErrCodeSessionNotFound, "checkout session not found", "")
	case errors.Is(err, checkout.ErrSessionExpired):
		return apiError(apierrors.ErrCodeSessionAlreadyFinalized, "checkout session has expired", "")
	case errors.Is(err, checkout.ErrSessionFinalized):
		return apiError(apierrors.ErrCodeSessionAlreadyFinalized, "checkout session is already completed or canceled", "")
	case errors.Is(err, checkout.ErrSessionNotReady):
		return apiError(apierrors.ErrCodeSessionNotReady, "checkout session is not ready for payment", "")
	case errors.Is(err, checkout.ErrNoItems):
		return apiError(apierrors.ErrCodeInvalidRequest, "at least one item is required", "$.items")
	case errors.Is(err, checkout.ErrCompletionInProgress):
		return apiError(apierrors.ErrCodeProcessingError, "payment for this checkout session is in progress", "")
	case errors.Is(err, checkout.ErrInvalidPayment):
		return apiError(apierrors.ErrCodeInvalidRequest, "payment_data.token is required", "$.payment_data.token")

	case errors.Is(err, vault.ErrInvalidToken):
		return apiError(apierrors.ErrCodeInvalidToken, "delegated payment token not found", "$.payment_data.token")
	case errors.Is(err, vault.ErrTokenAlreadyUsed):
		return apiError(apierrors.ErrCodeTokenAlreadyUsed, "delegated payment token has already been used", "$.payment_data.token")
	case errors.Is(err, vault.ErrTokenExpired):
		return apiError(apierrors.ErrCodeTokenExpired, "delegated payment token has expired", "$.payment_data.token")
	case errors.Is(err, vault.ErrInvalidSession):
		return apiError(apierrors.ErrCodeInvalidSession, "delegated payment token belongs to a different checkout session", "$.payment_data.token")
	case errors.Is(err, vault.ErrAmountExceedsAllowance):
		return apiError(apierrors.ErrCodeAmountExceedsAllowance, "session total exceeds the token allowance", "$.payment_data.token")
	case errors.Is(err, vault.ErrCurrencyMismatch):
		return apiError(apierrors.ErrCodeCurrencyMismatch, "session currency does not match the token allowance", "$.payment_data.token")

	case errors.Is(err, idempotency.ErrInProgress):
		return apiError(apierrors.ErrCodeIdempotencyInProgress, "a request with this Idempotency-Key is still being processed", idempotencyKeyHeader)

	case circuitbreaker.IsOpen(err):
		return apiError(apierrors.ErrCodeServiceUnavailable, "payment processor is temporarily unavailable", "")
	case errors.Is(err, payments.ErrDeclined):
		return apiError(apierrors.ErrCodeProcessingError, "payment was declined", "$.payment_data.token")
	case errors.Is(err, checkout.ErrPaymentFailed):
		return apiError(apierrors.ErrCodeProcessingError, "payment could not be processed", "")
	}

	log := logger.FromContext(ctx)
	log.Error().Err(err).Msg("http.unhandled_error")
	return apiError(apierrors.ErrCodeInternalError, "internal error", "")
}
