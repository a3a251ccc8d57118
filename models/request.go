package models

import "fmt"

// Hard caps and defaults for list and bulk operations.
const (
	MaxSyncItems = 50

	DefaultBulkRetry = 10
	MaxBulkRetry     = 50

	DefaultBulkMark = 50
	MaxBulkMark     = 200

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ScanRequest is the payload for scan, check, report-duplicate and inspect.
type ScanRequest struct {
	// QRURL is the raw string decoded from the QR code. Required.
	QRURL string `json:"qr_url" binding:"required"`
}

// SyncRequest is the payload for POST /sync.
type SyncRequest struct {
	// Scans captured while the client was offline, 1 to 50 items.
	Scans []SyncItem `json:"scans" binding:"required,min=1"`
}

// BulkRequest is the payload for bulk retry and bulk mark-processed.
type BulkRequest struct {
	// RecordIDs restricts the operation to these records. Empty means
	// every eligible record, oldest first.
	RecordIDs []int64 `json:"record_ids,omitempty"`

	// MaxRecords bounds the batch; clamped to the operation's cap.
	MaxRecords int `json:"max_records,omitempty"`
}

// Clamp applies the default when unset and bounds the batch to max. An
// explicit id list longer than max is rejected with LIMIT_EXCEEDED.
func (r *BulkRequest) Clamp(def, max int) error {
	if len(r.RecordIDs) > max {
		return NewScanError(ErrCodeLimitExceeded,
			fmt.Sprintf("at most %d record ids can be given at once, got %d", max, len(r.RecordIDs)), nil)
	}
	if r.MaxRecords <= 0 {
		r.MaxRecords = def
	}
	if r.MaxRecords > max {
		r.MaxRecords = max
	}
	return nil
}

// ListFilter selects a page of records.
type ListFilter struct {
	State State `form:"state" json:"state,omitempty"`
	Page  int   `form:"page" json:"page,omitempty"`
	Limit int   `form:"limit" json:"limit,omitempty"`

	// RetryPossible restricts error listings to records without an invoice.
	RetryPossible bool `form:"retry_possible" json:"retry_possible,omitempty"`
}

// Defaults applies default values and bounds to unset fields.
func (f *ListFilter) Defaults() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// Offset returns the number of rows to skip.
func (f *ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}
