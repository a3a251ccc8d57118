package models

// ScanResult is the terminal outcome of one scan attempt.
type ScanResult struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`

	// Record is the created record on success, or a snapshot of the
	// existing record on DUPLICATE.
	Record  *ScanRecord     `json:"record,omitempty"`
	Invoice *InvoiceSummary `json:"invoice,omitempty"`

	// RecordID identifies the persisted error record for DGI_ERROR and
	// INVOICE_ERROR so the client can invoke a retry.
	RecordID       int64  `json:"record_id,omitempty"`
	DuplicateCount int    `json:"duplicate_count,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
}

// DuplicateCheck is the result of a read-only duplicate lookup.
type DuplicateCheck struct {
	Exists         bool        `json:"exists"`
	VerificationID string      `json:"qr_uuid"`
	Record         *ScanRecord `json:"scan_record,omitempty"`
}

// RetryResult is the outcome of a manual invoice creation retry. On failure
// the record stays in error with the updated message.
type RetryResult struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Record    *ScanRecord     `json:"record"`
	Invoice   *InvoiceSummary `json:"invoice,omitempty"`
}

// SyncItem is one scan captured offline by a mobile client.
type SyncItem struct {
	QRURL     string `json:"qr_url"`
	ScannedAt string `json:"scanned_at,omitempty"`
}

// SyncItemResult pairs an offline scan with its outcome.
type SyncItemResult struct {
	QRURL     string `json:"qr_url"`
	ScannedAt string `json:"scanned_at,omitempty"`
	ScanResult
}

// SyncSummary aggregates a sync batch.
type SyncSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// SyncResult is the response of an offline sync.
type SyncResult struct {
	Results []SyncItemResult `json:"results"`
	Summary SyncSummary      `json:"summary"`
}

// BulkItemResult is the outcome of a bulk operation on one record.
type BulkItemResult struct {
	RecordID    int64  `json:"record_id"`
	Reference   string `json:"reference"`
	Success     bool   `json:"success"`
	InvoiceID   *int64 `json:"invoice_id,omitempty"`
	InvoiceName string `json:"invoice_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BulkSummary aggregates a bulk operation.
type BulkSummary struct {
	TotalProcessed int `json:"total_processed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
}

// BulkResult is the response of a bulk retry or bulk mark.
type BulkResult struct {
	Results []BulkItemResult `json:"results"`
	Summary BulkSummary      `json:"summary"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalCount  int  `json:"total_count"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// NewPagination computes page metadata.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:        page,
		Limit:       limit,
		TotalCount:  total,
		TotalPages:  pages,
		HasNext:     (page-1)*limit+limit < total,
		HasPrevious: page > 1,
	}
}

// HistoryPage is a page of scan records.
type HistoryPage struct {
	Records    []*ScanRecord `json:"records"`
	Pagination Pagination    `json:"pagination"`
}

// ErrorEntry is an error record annotated for the errors listing.
type ErrorEntry struct {
	*ScanRecord
	CanRetry bool `json:"can_retry"`
}

// ErrorSummary counts error records by class.
type ErrorSummary struct {
	Total         int `json:"total"`
	DGIErrors     int `json:"dgi_errors"`
	NetworkErrors int `json:"network_errors"`
	ParsingErrors int `json:"parsing_errors"`
	InvoiceErrors int `json:"invoice_errors"`
	BrowserErrors int `json:"browser_errors"`
	CanRetry      int `json:"can_retry"`
}

// ErrorsPage is a page of error records with a summary.
type ErrorsPage struct {
	Errors     []ErrorEntry `json:"errors"`
	Pagination Pagination   `json:"pagination"`
	Summary    ErrorSummary `json:"summary"`
}

// Stats aggregates scan activity for an organization.
type Stats struct {
	TotalScans            int     `json:"total_scans"`
	SuccessfulScans       int     `json:"successful_scans"`
	ProcessedScans        int     `json:"processed_scans"`
	UnprocessedScans      int     `json:"unprocessed_scans"`
	ErrorScans            int     `json:"error_scans"`
	DuplicateAttempts     int     `json:"duplicate_attempts"`
	RecordsWithDuplicates int     `json:"records_with_duplicates"`
	TotalAmount           float64 `json:"total_amount"`
	Currency              string  `json:"currency"`
}

// InspectResult is a diagnostic fetch-and-extract run that persists nothing.
type InspectResult struct {
	URL            string    `json:"url"`
	VerificationID string    `json:"qr_uuid"`
	Stage          string    `json:"stage"`
	Fields         *FieldSet `json:"fields"`
	TextContent    string    `json:"text_content"`
	Preview        string    `json:"preview,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CacheStatus    string    `json:"cache_status,omitempty"`
}
