package errors

// ErrorCode represents a machine-readable error identifier returned in the
// flat error body of every non-2xx response.
type ErrorCode string

// ErrorType groups error codes into the coarse categories agents branch on.
type ErrorType string

const (
	TypeInvalidRequest       ErrorType = "invalid_request"
	TypeRequestNotIdempotent ErrorType = "request_not_idempotent"
	TypeProcessingError      ErrorType = "processing_error"
	TypeServiceUnavailable   ErrorType = "service_unavailable"
)

// Request validation errors
const (
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeMissingField   ErrorCode = "missing_field"
	ErrCodeInvalidField   ErrorCode = "invalid_field"
	ErrCodeInvalidVersion ErrorCode = "invalid_api_version"
	ErrCodeUnauthorized   ErrorCode = "unauthorized"
	ErrCodeInvalidSig     ErrorCode = "invalid_signature"
)

// Checkout session errors
const (
	ErrCodeSessionNotFound         ErrorCode = "session_not_found"
	ErrCodeSessionAlreadyFinalized ErrorCode = "session_already_finalized"
	ErrCodeSessionNotReady         ErrorCode = "session_not_ready"
)

// Delegated token errors
const (
	ErrCodeInvalidToken           ErrorCode = "invalid_token"
	ErrCodeTokenAlreadyUsed       ErrorCode = "token_already_used"
	ErrCodeTokenExpired           ErrorCode = "token_expired"
	ErrCodeInvalidSession         ErrorCode = "invalid_session"
	ErrCodeAmountExceedsAllowance ErrorCode = "amount_exceeds_allowance"
	ErrCodeCurrencyMismatch       ErrorCode = "currency_mismatch"
)

// Idempotency errors
const (
	ErrCodeIdempotencyConflict   ErrorCode = "idempotency_conflict"
	ErrCodeIdempotencyInProgress ErrorCode = "idempotency_in_progress"
)

// System errors
const (
	ErrCodeResourceNotFound   ErrorCode = "resource_not_found"
	ErrCodeProcessingError    ErrorCode = "processing_error"
	ErrCodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
	ErrCodeInternalError      ErrorCode = "internal_error"
)

// IsRetryable returns true if the client may retry the identical request.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeProcessingError,
		ErrCodeIdempotencyInProgress,
		ErrCodeRateLimitExceeded,
		ErrCodeServiceUnavailable,
		ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// Type returns the error category written in the "type" field.
func (e ErrorCode) Type() ErrorType {
	switch e {
	case ErrCodeIdempotencyConflict, ErrCodeIdempotencyInProgress:
		return TypeRequestNotIdempotent
	case ErrCodeProcessingError, ErrCodeInternalError:
		return TypeProcessingError
	case ErrCodeServiceUnavailable:
		return TypeServiceUnavailable
	default:
		return TypeInvalidRequest
	}
}

// HTTPStatus returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed or missing input
	case ErrCodeInvalidRequest,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidVersion,
		ErrCodeInvalidSig:
		return 400

	case ErrCodeUnauthorized:
		return 401

	// 404 Not Found
	case ErrCodeSessionNotFound,
		ErrCodeInvalidToken,
		ErrCodeResourceNotFound:
		return 404

	// 405 Method Not Allowed - transition attempted on a terminal session
	case ErrCodeSessionAlreadyFinalized:
		return 405

	// 409 Conflict - idempotency key reuse
	case ErrCodeIdempotencyConflict,
		ErrCodeIdempotencyInProgress:
		return 409

	// 422 Unprocessable Entity - well-formed but semantically rejected
	case ErrCodeSessionNotReady,
		ErrCodeTokenAlreadyUsed,
		ErrCodeTokenExpired,
		ErrCodeInvalidSession,
		ErrCodeAmountExceedsAllowance,
		ErrCodeCurrencyMismatch:
		return 422

	case ErrCodeRateLimitExceeded:
		return 429

	case ErrCodeServiceUnavailable:
		return 503

	// 500 Internal Server Error - downstream or internal failures
	default:
		return 500
	}
}
