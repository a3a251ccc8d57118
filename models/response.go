package models

import "time"

// Envelope is the JSON wrapper of every API response.
type Envelope struct {
	// Success is false whenever Error is set.
	Success bool `json:"success"`

	// Data is the operation payload on success. Some failures (DUPLICATE)
	// carry data alongside the error.
	Data any `json:"data,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`

	// Timestamp is the server time in RFC 3339 format.
	Timestamp string `json:"timestamp"`
}

// OK wraps a successful payload.
func OK(data any) Envelope {
	return Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Fail wraps an error detail, optionally with a payload.
func Fail(detail *ErrorDetail, data any) Envelope {
	return Envelope{
		Success:   false,
		Data:      data,
		Error:     detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
	Version  string `json:"version"`
}
