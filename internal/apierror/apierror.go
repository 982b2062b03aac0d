// Package apierror writes JSON error bodies for admission rejections.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Error codes.
const (
	CodeRateLimited          = "RATE_LIMITED"
	CodeCSRFValidationFailed = "CSRF_VALIDATION_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeBadGateway           = "BAD_GATEWAY"
	CodeInternal             = "INTERNAL_ERROR"
)

// Style selects the body shape.
type Style int

const (
	// Structured writes {"success": false, "error": {"code": ..., "message": ...}}.
	Structured Style = iota
	// Legacy writes {"error": "<message>"}.
	Legacy
)

// ParseStyle maps a config value to a Style. Unknown values are Structured.
func ParseStyle(s string) Style {
	if s == "legacy" {
		return Legacy
	}
	return Structured
}

// Detail is the inner error object of a structured body.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StructuredBody is the structured error shape.
type StructuredBody struct {
	Success bool   `json:"success"`
	Error   Detail `json:"error"`
}

// LegacyBody is the bare error shape.
type LegacyBody struct {
	Error string `json:"error"`
}

// Writer writes error bodies in one configured style.
type Writer struct {
	style Style
}

// NewWriter creates a Writer for style.
func NewWriter(style Style) *Writer {
	return &Writer{style: style}
}

// Style returns the configured style.
func (w *Writer) Style() Style {
	return w.style
}

// Write sends status with the error body. Headers must be set before calling.
func (w *Writer) Write(rw http.ResponseWriter, status int, code, message string) {
	var body interface{}
	if w.style == Legacy {
		body = LegacyBody{Error: message}
	} else {
		body = StructuredBody{Error: Detail{Code: code, Message: message}}
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}
