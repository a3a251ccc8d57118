package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ivory-cocoa/invoice-qr-scanner/api/middleware"
	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/identifier"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Scanner is the set of scan operations exposed over HTTP.
type Scanner interface {
	ProcessScan(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error)
	CheckDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.DuplicateCheck, error)
	ReportDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error)
	MarkProcessed(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error)
	MarkUnprocessed(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error)
	RetryInvoiceCreation(ctx context.Context, actor models.Actor, recordID int64) (*models.RetryResult, error)
	Sync(ctx context.Context, actor models.Actor, items []models.SyncItem) (*models.SyncResult, error)
	BulkRetry(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error)
	BulkMarkProcessed(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error)
	History(ctx context.Context, actor models.Actor, filter models.ListFilter) (*models.HistoryPage, error)
	Errors(ctx context.Context, actor models.Actor, filter models.ListFilter) (*models.ErrorsPage, error)
	Stats(ctx context.Context, actor models.Actor) (*models.Stats, error)
	Inspect(ctx context.Context, rawURL string) (*models.InspectResult, error)
	Invoice(ctx context.Context, actor models.Actor, invoiceID int64) (*models.InvoiceSummary, error)
}

// ScannerHandler serves /api/v1/invoice-scanner.
type ScannerHandler struct {
	scanner Scanner
	dgi     config.DGIConfig
}

// NewScannerHandler creates a ScannerHandler.
func NewScannerHandler(s Scanner, dgi config.DGIConfig) *ScannerHandler {
	return &ScannerHandler{scanner: s, dgi: dgi}
}

// bindScanRequest decodes the body and applies host validation when it is
// enforced. It writes the error response itself.
func (h *ScannerHandler) bindScanRequest(c *gin.Context, checkHost bool) (string, bool) {
	var req models.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "qr_url is required")
		return "", false
	}
	if checkHost && h.dgi.EnforceHost {
		if ok, reason := identifier.ValidateHost(req.QRURL, h.dgi.AllowedHost); !ok {
			respondOutcome(c, models.ErrCodeInvalidURL, reason, nil)
			return "", false
		}
	}
	return req.QRURL, true
}

// Scan handles POST /scan.
func (h *ScannerHandler) Scan(c *gin.Context) {
	rawURL, ok := h.bindScanRequest(c, true)
	if !ok {
		return
	}
	res, err := h.scanner.ProcessScan(c.Request.Context(), middleware.GetActor(c), rawURL)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Success {
		respondOutcome(c, res.ErrorCode, res.Message, res)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// Check handles POST /check.
func (h *ScannerHandler) Check(c *gin.Context) {
	rawURL, ok := h.bindScanRequest(c, false)
	if !ok {
		return
	}
	res, err := h.scanner.CheckDuplicate(c.Request.Context(), middleware.GetActor(c), rawURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// ReportDuplicate handles POST /report-duplicate.
func (h *ScannerHandler) ReportDuplicate(c *gin.Context) {
	rawURL, ok := h.bindScanRequest(c, false)
	if !ok {
		return
	}
	res, err := h.scanner.ReportDuplicate(c.Request.Context(), middleware.GetActor(c), rawURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// MarkProcessed handles POST /mark-processed/:id.
func (h *ScannerHandler) MarkProcessed(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	rec, err := h.scanner.MarkProcessed(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(rec))
}

// MarkUnprocessed handles POST /mark-unprocessed/:id.
func (h *ScannerHandler) MarkUnprocessed(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	rec, err := h.scanner.MarkUnprocessed(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(rec))
}

// Retry handles POST /errors/:id/retry.
func (h *ScannerHandler) Retry(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	res, err := h.scanner.RetryInvoiceCreation(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Success {
		respondOutcome(c, res.ErrorCode, res.Message, res)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// Sync handles POST /sync.
func (h *ScannerHandler) Sync(c *gin.Context) {
	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "scans must be a non-empty list")
		return
	}
	if len(req.Scans) > models.MaxSyncItems {
		respondOutcome(c, models.ErrCodeLimitExceeded,
			fmt.Sprintf("at most %d scans can be synced at once", models.MaxSyncItems), nil)
		return
	}
	if h.dgi.EnforceHost {
		for i, item := range req.Scans {
			if ok, reason := identifier.ValidateHost(item.QRURL, h.dgi.AllowedHost); !ok {
				respondOutcome(c, models.ErrCodeInvalidURL, fmt.Sprintf("scan %d: %s", i+1, reason), nil)
				return
			}
		}
	}
	res, err := h.scanner.Sync(c.Request.Context(), middleware.GetActor(c), req.Scans)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// bindBulk accepts an empty body as "every eligible record".
func bindBulk(c *gin.Context) (models.BulkRequest, bool) {
	var req models.BulkRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid bulk request: "+err.Error())
		return req, false
	}
	return req, true
}

// BulkRetry handles POST /errors/bulk-retry.
func (h *ScannerHandler) BulkRetry(c *gin.Context) {
	req, ok := bindBulk(c)
	if !ok {
		return
	}
	res, err := h.scanner.BulkRetry(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// BulkMarkProcessed handles POST /bulk-mark-processed.
func (h *ScannerHandler) BulkMarkProcessed(c *gin.Context) {
	req, ok := bindBulk(c)
	if !ok {
		return
	}
	res, err := h.scanner.BulkMarkProcessed(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// History handles GET /history.
func (h *ScannerHandler) History(c *gin.Context) {
	var filter models.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	res, err := h.scanner.History(c.Request.Context(), middleware.GetActor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// Errors handles GET /errors.
func (h *ScannerHandler) Errors(c *gin.Context) {
	var filter models.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	res, err := h.scanner.Errors(c.Request.Context(), middleware.GetActor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// Invoice handles GET /invoice/:id.
func (h *ScannerHandler) Invoice(c *gin.Context) {
	id, ok := pathID(c, "invoice id")
	if !ok {
		return
	}
	inv, err := h.scanner.Invoice(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(inv))
}

// Stats handles GET /stats.
func (h *ScannerHandler) Stats(c *gin.Context) {
	res, err := h.scanner.Stats(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}

// Inspect handles POST /inspect. Nothing is persisted.
func (h *ScannerHandler) Inspect(c *gin.Context) {
	rawURL, ok := h.bindScanRequest(c, false)
	if !ok {
		return
	}
	res, err := h.scanner.Inspect(c.Request.Context(), rawURL)
	if err != nil {
		respondOutcome(c, models.ErrCodeDGI, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, models.OK(res))
}
