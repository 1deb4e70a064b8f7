package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/TFMV/plantatlas/pkg/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	Status    int         `json:"status"`
	Timestamp string      `json:"timestamp"`
}

// ErrorDetail carries the error code and message.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusClientClosedRequest is reported when the caller went away before the
// response was ready. net/http has no constant for it.
const StatusClientClosedRequest = 499

// StatusFor maps an error code to an HTTP status.
func StatusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidRequest:
		return http.StatusBadRequest
	case errors.CodeSourceUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeCanceled:
		return StatusClientClosedRequest
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes err as a JSON error body with the mapped status. Details
// are only sent for client errors; server-side failures carry paths and causes
// that stay in the logs.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := ErrorDetail{
		Code:    errors.GetCode(err),
		Message: publicMessage(err),
	}

	var accessErr *errors.AccessError
	if stdErrors.As(err, &accessErr) && status < http.StatusInternalServerError {
		detail.Details = accessErr.Details
	}

	writeJSON(w, status, ErrorBody{
		Error:     detail,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// publicMessage returns the message safe to show a client. Internal and
// source failures name files on the server, so they get a fixed message.
func publicMessage(err error) string {
	switch errors.GetCode(err) {
	case errors.CodeInternal:
		return "internal error"
	case errors.CodeSourceUnavailable:
		return "data source unavailable"
	default:
		return errors.GetMessage(err)
	}
}
