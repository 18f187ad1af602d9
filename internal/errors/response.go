package errors

import (
	"net/http"

	"github.com/CedrosPay/checkout/pkg/responders"
)

// ErrorResponse is the flat error body returned to clients.
type ErrorResponse struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"` // JSONPath of the offending field
}

// NewErrorResponse creates an error body for code.
func NewErrorResponse(code ErrorCode, message, param string) ErrorResponse {
	return ErrorResponse{
		Type:    code.Type(),
		Code:    code,
		Message: message,
		Param:   param,
	}
}

// WriteJSON writes the error response with the status mapped from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	_ = responders.JSON(w, e.Code.HTTPStatus(), e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message, param string) {
	NewErrorResponse(code, message, param).WriteJSON(w)
}

// WriteSimpleError writes an error with no param.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, "")
}
