package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorResponse is the JSON error envelope for the HTTP surface (not the
// WebSocket wire protocol, which uses envelope.FieldError/message.ErrorMessage).
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Code: code, Message: message}); err != nil {
		slog.Error("httpapi: failed to encode error response", "error", err)
	}
}
