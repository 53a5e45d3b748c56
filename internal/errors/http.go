package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPError is a plain HTTP error for non-JSON-RPC surfaces such as the rate limiter.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Predefined HTTP errors.
var (
	ErrRateLimited  = &HTTPError{Status: http.StatusTooManyRequests, Message: "Rate limit exceeded", Hint: "Wait before retrying. Configure security.rate_limit in orchestrator.yaml"}
	ErrBodyTooLarge = &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large", Hint: "Configure listen.max_body_bytes"}
)

// HTTPErrorResponse wraps an HTTPError for HTTP JSON responses.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteHTTPError writes an HTTPError as an HTTP JSON response.
func WriteHTTPError(w http.ResponseWriter, err *HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(HTTPErrorResponse{Error: *err})
}
