package http

import (
	"encoding/json"
	"net/http"
)

// ── Response ─────────────────────────────────────────────────────────────────

// Response wraps http.ResponseWriter with JSON helpers.
type Response struct {
	w http.ResponseWriter
}

// NewResponse wraps a ResponseWriter.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// Raw returns the underlying ResponseWriter.
func (res *Response) Raw() http.ResponseWriter { return res.w }

// ── JSON responses ────────────────────────────────────────────────────────────

// JSON sends a JSON response.
//
//	res.JSON(http.StatusOK, map[string]any{"message": "ok"})
func (res *Response) JSON(status int, data any) {
	res.w.Header().Set("Content-Type", "application/json")
	res.w.WriteHeader(status)
	_ = json.NewEncoder(res.w).Encode(data)
}

// Success sends 200 JSON: {"data": v}
func (res *Response) Success(v any) {
	res.JSON(http.StatusOK, Envelope{"data": v})
}

// Error sends a JSON error response.
//
//	res.Error(http.StatusConflict, "component is waiting", Envelope{"code": "dependency_unsatisfied"})
func (res *Response) Error(status int, message string, extra ...Envelope) {
	body := Envelope{"message": message}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	res.JSON(status, body)
}

// NotFound sends 404. An empty message becomes "Not found.".
func (res *Response) NotFound(message string, extra ...Envelope) {
	res.Error(http.StatusNotFound, or(message, "Not found."), extra...)
}

// ServiceUnavailable sends 503 with a payload, used by health checks.
func (res *Response) ServiceUnavailable(v any) {
	res.JSON(http.StatusServiceUnavailable, Envelope{"data": v})
}

// ServerError sends 500. An empty message becomes "Server Error.".
func (res *Response) ServerError(message string, extra ...Envelope) {
	res.Error(http.StatusInternalServerError, or(message, "Server Error."), extra...)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// Envelope is a JSON object body.
type Envelope map[string]any

func or(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
