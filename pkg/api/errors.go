package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

// retryAfterSeconds is sent with 503 responses for ledger failures.
const retryAfterSeconds = "1"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidFormat, errors.ErrCodeInvalidSize:
		return http.StatusBadRequest
	case errors.ErrCodeQuotaDenied:
		return http.StatusPaymentRequired
	case errors.ErrCodeTransaction:
		return http.StatusServiceUnavailable
	case errors.ErrCodeRenderFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	msg := errors.UserMessage(err)
	switch {
	case code != "":
	case stderrors.Is(err, context.DeadlineExceeded):
		code, msg = errors.ErrCodeTransaction, "request timed out"
	default:
		code, msg = errors.ErrCodeInternal, "internal error"
	}
	status := StatusFor(code)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
