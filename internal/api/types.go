package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// ExecuteRequest is the execute endpoint body.
type ExecuteRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Timeout converts the millisecond field to a duration.
func (r ExecuteRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// CreateSessionRequest is the session creation body.
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime"`
	Sessions int     `json:"sessions"`
}

// ErrorResponse is the error body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
