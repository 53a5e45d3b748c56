package errors

import (
	"encoding/json"
	"net/http"
)

// Standard and A2A-specific JSON-RPC error codes.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeTaskNotFound      = -32001
	CodeTaskNotCancelable = -32002
)

// JSONRPCError represents a JSON-RPC 2.0 error response.
type JSONRPCError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Error   JSONRPCErrorObj `json:"error"`
}

// JSONRPCErrorObj is the error object within a JSON-RPC error response.
type JSONRPCErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *Error `json:"data,omitempty"`
}

// ToJSONRPCError converts an error to a JSON-RPC 2.0 error response.
// Errors that are not *Error become -32603 internal errors.
func ToJSONRPCError(err error, requestID interface{}) JSONRPCError {
	e, ok := As(err)
	if !ok {
		e = &Error{Code: CodeInternalError, Message: err.Error()}
	}
	code := e.Code
	if code == 0 {
		code = CodeInternalError
	}
	return JSONRPCError{
		JSONRPC: "2.0",
		ID:      requestID,
		Error: JSONRPCErrorObj{
			Code:    code,
			Message: e.Message,
			Data:    e,
		},
	}
}

// HTTPStatus maps a JSON-RPC error code to the HTTP status of the error response.
//   - -32601 -> 404
//   - -32001 -> 404
//   - -32603 -> 500
//   - other validation codes -> 400
func HTTPStatus(code int) int {
	switch code {
	case CodeMethodNotFound, CodeTaskNotFound:
		return http.StatusNotFound
	case CodeInternalError:
		return http.StatusInternalServerError
	case CodeTaskNotCancelable:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// WriteJSONRPCError writes err as a JSON-RPC error response.
func WriteJSONRPCError(w http.ResponseWriter, err error, requestID interface{}) {
	resp := ToJSONRPCError(err, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(resp.Error.Code))
	json.NewEncoder(w).Encode(resp)
}
