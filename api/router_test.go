package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const scanURL = "https://www.services.fne.dgi.gouv.ci/fr/verification/019bd62c-467e-7000-82ac-45c8389c7f05"

// stubScanner answers every operation from its fields.
type stubScanner struct {
	scan      *models.ScanResult
	retry     *models.RetryResult
	err       error
	lastActor models.Actor
	lastID    int64
	lastBulk  models.BulkRequest
	lastList  models.ListFilter
	syncCalls int
}

func (s *stubScanner) ProcessScan(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error) {
	s.lastActor = actor
	return s.scan, s.err
}

func (s *stubScanner) CheckDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.DuplicateCheck, error) {
	return &models.DuplicateCheck{VerificationID: "019bd62c-467e-7000-82ac-45c8389c7f05"}, s.err
}

func (s *stubScanner) ReportDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error) {
	return s.scan, s.err
}

func (s *stubScanner) MarkProcessed(ctx context.Context, actor models.Actor, id int64) (*models.ScanRecord, error) {
	s.lastID = id
	return &models.ScanRecord{ID: id, State: models.StateProcessed}, s.err
}

func (s *stubScanner) MarkUnprocessed(ctx context.Context, actor models.Actor, id int64) (*models.ScanRecord, error) {
	s.lastID = id
	return &models.ScanRecord{ID: id, State: models.StateCreated}, s.err
}

func (s *stubScanner) RetryInvoiceCreation(ctx context.Context, actor models.Actor, id int64) (*models.RetryResult, error) {
	s.lastID = id
	return s.retry, s.err
}

func (s *stubScanner) Sync(ctx context.Context, actor models.Actor, items []models.SyncItem) (*models.SyncResult, error) {
	s.syncCalls++
	return &models.SyncResult{Summary: models.SyncSummary{Total: len(items)}}, s.err
}

func (s *stubScanner) BulkRetry(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error) {
	s.lastBulk = req
	return &models.BulkResult{}, s.err
}

func (s *stubScanner) BulkMarkProcessed(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error) {
	s.lastBulk = req
	return &models.BulkResult{}, s.err
}

func (s *stubScanner) History(ctx context.Context, actor models.Actor, f models.ListFilter) (*models.HistoryPage, error) {
	s.lastList = f
	return &models.HistoryPage{Records: []*models.ScanRecord{}}, s.err
}

func (s *stubScanner) Errors(ctx context.Context, actor models.Actor, f models.ListFilter) (*models.ErrorsPage, error) {
	s.lastList = f
	return &models.ErrorsPage{Errors: []models.ErrorEntry{}}, s.err
}

func (s *stubScanner) Stats(ctx context.Context, actor models.Actor) (*models.Stats, error) {
	return &models.Stats{Currency: "XOF"}, s.err
}

func (s *stubScanner) Inspect(ctx context.Context, rawURL string) (*models.InspectResult, error) {
	return &models.InspectResult{URL: rawURL}, s.err
}

func (s *stubScanner) Invoice(ctx context.Context, actor models.Actor, id int64) (*models.InvoiceSummary, error) {
	s.lastActor = actor
	s.lastID = id
	if s.err != nil {
		return nil, s.err
	}
	return &models.InvoiceSummary{ID: id, Name: "FAC/2024/0001", State: "posted", Currency: "XOF"}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth = config.AuthConfig{Enabled: true, APIKeys: map[string]string{"k": "org-a:alice"}}
	cfg.RateLimit = config.RateLimitConfig{}
	cfg.DGI.EnforceHost = true
	cfg.DGI.AllowedHost = "services.fne.dgi.gouv.ci"
	return cfg
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *models.ErrorDetail `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", "k")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (body %s)", method, path, err, w.Body.String())
	}
	return w, env
}

func TestScanOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     *models.ScanResult
		wantStatus int
		wantCode   string
	}{
		{"success", &models.ScanResult{Success: true, Record: &models.ScanRecord{ID: 1}}, http.StatusOK, ""},
		{"duplicate", &models.ScanResult{ErrorCode: models.ErrCodeDuplicate, DuplicateCount: 1}, http.StatusConflict, models.ErrCodeDuplicate},
		{"dgi error", &models.ScanResult{ErrorCode: models.ErrCodeDGI, RecordID: 7}, http.StatusBadGateway, models.ErrCodeDGI},
		{"invoice error", &models.ScanResult{ErrorCode: models.ErrCodeInvoice, RecordID: 7}, http.StatusUnprocessableEntity, models.ErrCodeInvoice},
		{"invalid url", &models.ScanResult{ErrorCode: models.ErrCodeInvalidURL}, http.StatusBadRequest, models.ErrCodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubScanner{scan: tt.result}
			r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

			w, env := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/scan", `{"qr_url":"`+scanURL+`"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if env.Success != (tt.wantCode == "") {
				t.Errorf("success = %v", env.Success)
			}
			if tt.wantCode != "" && (env.Error == nil || env.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want %s", env.Error, tt.wantCode)
			}
			if len(env.Data) == 0 {
				t.Error("expected the scan result as data")
			}
			if s.lastActor.OrganizationID != "org-a" || s.lastActor.UserID != "alice" {
				t.Errorf("actor = %+v", s.lastActor)
			}
		})
	}
}

func TestScanRejectsForeignHost(t *testing.T) {
	s := &stubScanner{scan: &models.ScanResult{Success: true}}
	r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

	w, env := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/scan",
		`{"qr_url":"https://fake-services.fne.dgi.gouv.ci/019bd62c-467e-7000-82ac-45c8389c7f05"}`)
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != models.ErrCodeInvalidURL {
		t.Errorf("status = %d error = %+v, want 400 INVALID_URL", w.Code, env.Error)
	}
	if s.lastActor.OrganizationID != "" {
		t.Error("scanner must not be called for a rejected host")
	}
}

func TestScanRequiresURL(t *testing.T) {
	r := NewRouter(&stubScanner{}, stubPinger{}, testConfig(), time.Now())
	w, env := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/scan", `{}`)
	if w.Code != http.StatusBadRequest || env.Error.Code != models.ErrCodeValidation {
		t.Errorf("status = %d error = %+v", w.Code, env.Error)
	}
}

func TestScannerErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		method     string
		path       string
		wantStatus int
	}{
		{"not found", models.NewScanError(models.ErrCodeNotFound, "missing", nil), http.MethodPost, "/api/v1/invoice-scanner/mark-processed/5", http.StatusNotFound},
		{"invalid state", models.NewScanError(models.ErrCodeInvalidState, "nope", nil), http.MethodPost, "/api/v1/invoice-scanner/mark-unprocessed/5", http.StatusConflict},
		{"already processed", models.NewScanError(models.ErrCodeAlreadyProcessed, "linked", nil), http.MethodPost, "/api/v1/invoice-scanner/errors/5/retry", http.StatusConflict},
		{"internal", errors.New("disk on fire"), http.MethodGet, "/api/v1/invoice-scanner/stats", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&stubScanner{err: tt.err}, stubPinger{}, testConfig(), time.Now())
			w, env := do(t, r, tt.method, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if env.Success || env.Error == nil {
				t.Fatalf("envelope = %+v", env)
			}
			if strings.Contains(env.Error.Message, "disk on fire") {
				t.Error("internal error detail leaked to the client")
			}
		})
	}
}

func TestRetryFailureKeepsRecord(t *testing.T) {
	s := &stubScanner{retry: &models.RetryResult{
		ErrorCode: models.ErrCodeRetryFailed,
		Message:   "retry failed: journal missing",
		Record:    &models.ScanRecord{ID: 9, State: models.StateError},
	}}
	r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

	w, env := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/errors/9/retry", "")
	if w.Code != http.StatusUnprocessableEntity || env.Error.Code != models.ErrCodeRetryFailed {
		t.Fatalf("status = %d error = %+v", w.Code, env.Error)
	}
	if s.lastID != 9 {
		t.Errorf("id = %d, want 9", s.lastID)
	}
	if !strings.Contains(string(env.Data), `"id":9`) {
		t.Errorf("data = %s", env.Data)
	}
}

func TestBadRecordID(t *testing.T) {
	r := NewRouter(&stubScanner{}, stubPinger{}, testConfig(), time.Now())
	w, _ := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/mark-processed/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInvoiceDetail(t *testing.T) {
	s := &stubScanner{}
	r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

	w, env := do(t, r, http.MethodGet, "/api/v1/invoice-scanner/invoice/42", "")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, success = %v", w.Code, env.Success)
	}
	var inv models.InvoiceSummary
	if err := json.Unmarshal(env.Data, &inv); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if inv.ID != 42 || inv.Name != "FAC/2024/0001" {
		t.Errorf("invoice = %+v", inv)
	}
	if s.lastID != 42 || s.lastActor.OrganizationID != "org-a" {
		t.Errorf("scanner saw id %d actor %+v", s.lastID, s.lastActor)
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/invoice-scanner/invoice/0", "")
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != models.ErrCodeValidation {
		t.Errorf("bad id: status = %d, error = %+v", w.Code, env.Error)
	}

	s.err = models.NewScanError(models.ErrCodeNotFound, "invoice 7 not found", nil)
	w, env = do(t, r, http.MethodGet, "/api/v1/invoice-scanner/invoice/7", "")
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != models.ErrCodeNotFound {
		t.Errorf("missing invoice: status = %d, error = %+v", w.Code, env.Error)
	}
}

func TestBulkAndListBinding(t *testing.T) {
	s := &stubScanner{}
	r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

	if w, _ := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/errors/bulk-retry", ""); w.Code != http.StatusOK {
		t.Fatalf("empty bulk body: status %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/bulk-mark-processed", `{"record_ids":[3,4],"max_records":20}`); w.Code != http.StatusOK {
		t.Fatalf("bulk mark: status %d", w.Code)
	}
	if len(s.lastBulk.RecordIDs) != 2 || s.lastBulk.MaxRecords != 20 {
		t.Errorf("bulk request = %+v", s.lastBulk)
	}

	if w, _ := do(t, r, http.MethodGet, "/api/v1/invoice-scanner/history?state=created&page=2&limit=5", ""); w.Code != http.StatusOK {
		t.Fatalf("history: status %d", w.Code)
	}
	if s.lastList.State != models.StateCreated || s.lastList.Page != 2 || s.lastList.Limit != 5 {
		t.Errorf("filter = %+v", s.lastList)
	}
	if w, _ := do(t, r, http.MethodGet, "/api/v1/invoice-scanner/errors?retry_possible=true", ""); w.Code != http.StatusOK {
		t.Fatalf("errors: status %d", w.Code)
	}
	if !s.lastList.RetryPossible {
		t.Error("retry_possible not bound")
	}
}

func TestSyncLimits(t *testing.T) {
	s := &stubScanner{}
	r := NewRouter(s, stubPinger{}, testConfig(), time.Now())

	items := make([]string, models.MaxSyncItems+1)
	for i := range items {
		items[i] = `{"qr_url":"` + scanURL + `"}`
	}
	w, env := do(t, r, http.MethodPost, "/api/v1/invoice-scanner/sync", `{"scans":[`+strings.Join(items, ",")+`]}`)
	if w.Code != http.StatusBadRequest || env.Error.Code != models.ErrCodeLimitExceeded {
		t.Errorf("status = %d error = %+v, want LIMIT_EXCEEDED", w.Code, env.Error)
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/invoice-scanner/sync", `{"scans":[]}`)
	if w.Code != http.StatusBadRequest || env.Error.Code != models.ErrCodeValidation {
		t.Errorf("status = %d error = %+v, want VALIDATION_ERROR", w.Code, env.Error)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/invoice-scanner/sync", `{"scans":[{"qr_url":"`+scanURL+`","scanned_at":"2024-01-20T10:00:00Z"}]}`)
	if w.Code != http.StatusOK || s.syncCalls != 1 {
		t.Errorf("status = %d calls = %d", w.Code, s.syncCalls)
	}
}

func TestUnauthenticated(t *testing.T) {
	r := NewRouter(&stubScanner{}, stubPinger{}, testConfig(), time.Now())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/invoice-scanner/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"healthy", nil, "healthy"},
		{"database down", errors.New("database is closed"), "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&stubScanner{}, stubPinger{err: tt.err}, testConfig(), time.Now())
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var env struct {
				Data models.HealthResponse `json:"data"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Data.Status != tt.status {
				t.Errorf("status = %q, want %q", env.Data.Status, tt.status)
			}
		})
	}
}
