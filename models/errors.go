package models

import "fmt"

// Scan outcome codes. These are the only codes a scan can terminate with.
const (
	ErrCodeInvalidURL = "INVALID_URL"
	ErrCodeDuplicate  = "DUPLICATE"
	ErrCodeDGI        = "DGI_ERROR"
	ErrCodeInvoice    = "INVOICE_ERROR"
)

// Error codes used by record operations and the API layer.
const (
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeAlreadyProcessed = "ALREADY_PROCESSED"
	ErrCodeRetryFailed      = "RETRY_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeLimitExceeded    = "LIMIT_EXCEEDED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Error classes recorded on failed scans. They drive the errors listing
// summary and tell the client whether a retry is worth attempting.
const (
	ErrTypeDGIService      = "dgi_service"
	ErrTypeNetwork         = "network"
	ErrTypeParsing         = "parsing"
	ErrTypeInvoiceCreation = "invoice_creation"
	ErrTypeBrowser         = "browser"
	ErrTypeOther           = "other"
	ErrTypeUnknown         = "unknown"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ScanError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScanError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a new ScanError.
func NewScanError(code, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScanError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
