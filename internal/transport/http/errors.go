// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"net/http"

	"github.com/adiadia/agent-observability/internal/domain"
)

const (
	codeValidationFailed = "validation_failed"
	codeInvalidJSON      = "invalid_json"
	codeInvalidQuery     = "invalid_query"
	codePayloadTooLarge  = "payload_too_large"
	codeStorageError     = "storage_error"
	codeProtocolError    = "protocol_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, ve *domain.ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   codeValidationFailed,
		Field:   ve.Field,
		Message: ve.Error(),
	})
}
