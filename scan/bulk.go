package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
	"github.com/Ivory-cocoa/invoice-qr-scanner/webhook"
)

// Sync processes scans captured offline, one after the other. An item that
// hits an infrastructure failure is reported as INTERNAL_ERROR and does not
// stop the batch.
func (o *Orchestrator) Sync(ctx context.Context, actor models.Actor, items []models.SyncItem) (*models.SyncResult, error) {
	if len(items) == 0 {
		return nil, models.NewScanError(models.ErrCodeValidation, "no scans to sync", nil)
	}
	if len(items) > models.MaxSyncItems {
		return nil, models.NewScanError(models.ErrCodeLimitExceeded,
			fmt.Sprintf("at most %d scans can be synced at once, got %d", models.MaxSyncItems, len(items)), nil)
	}

	log := logging.FromContext(ctx)
	// Like ProcessScan, every item runs to its terminal outcome.
	ctx = context.WithoutCancel(ctx)
	out := &models.SyncResult{Results: make([]models.SyncItemResult, 0, len(items))}
	for _, item := range items {
		res, err := o.processScan(ctx, actor, item.QRURL, parseScannedAt(item.ScannedAt))
		if err != nil {
			log.Error("sync item failed", "url", item.QRURL, "error", err)
			res = &models.ScanResult{ErrorCode: models.ErrCodeInternal, Message: "internal error"}
		}

		switch {
		case res.Success:
			out.Summary.Successful++
		case res.ErrorCode == models.ErrCodeDuplicate:
			out.Summary.Duplicates++
		default:
			out.Summary.Errors++
		}
		out.Results = append(out.Results, models.SyncItemResult{
			QRURL:      item.QRURL,
			ScannedAt:  item.ScannedAt,
			ScanResult: *res,
		})
	}
	out.Summary.Total = len(items)
	log.Info("sync completed", "total", out.Summary.Total, "successful", out.Summary.Successful,
		"duplicates", out.Summary.Duplicates, "errors", out.Summary.Errors)
	return out, nil
}

// parseScannedAt reads the client's capture time; unreadable values fall
// back to the processing time.
func parseScannedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// BulkRetry retries invoice creation on error records without invoice,
// oldest first.
func (o *Orchestrator) BulkRetry(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error) {
	if err := req.Clamp(models.DefaultBulkRetry, models.MaxBulkRetry); err != nil {
		return nil, err
	}
	records, _, err := o.store.List(ctx, store.Query{
		OrganizationID: actor.OrganizationID,
		States:         []models.State{models.StateError},
		IDs:            req.RecordIDs,
		WithoutInvoice: true,
		OldestFirst:    true,
		Limit:          req.MaxRecords,
	})
	if err != nil {
		return nil, err
	}

	out := &models.BulkResult{Results: make([]models.BulkItemResult, 0, len(records))}
	for _, rec := range records {
		item := models.BulkItemResult{RecordID: rec.ID, Reference: rec.Reference}
		updated, inv, failure, err := o.createInvoice(ctx, actor, rec, "bulk retry failed: ")
		switch {
		case err != nil:
			item.Error = err.Error()
		case failure != "":
			item.Error = failure
			o.notify(webhook.EventRetryFailed, updated, nil)
		default:
			item.Success = true
			item.InvoiceID = &inv.ID
			item.InvoiceName = inv.Name
			o.notify(webhook.EventRetryCreated, updated, inv)
		}
		addItem(out, item)
	}
	logging.FromContext(ctx).Info("bulk retry completed", "processed", out.Summary.TotalProcessed,
		"successful", out.Summary.Successful, "failed", out.Summary.Failed)
	return out, nil
}

// BulkMarkProcessed marks created records processed, oldest first.
func (o *Orchestrator) BulkMarkProcessed(ctx context.Context, actor models.Actor, req models.BulkRequest) (*models.BulkResult, error) {
	if err := req.Clamp(models.DefaultBulkMark, models.MaxBulkMark); err != nil {
		return nil, err
	}
	records, _, err := o.store.List(ctx, store.Query{
		OrganizationID: actor.OrganizationID,
		States:         []models.State{models.StateCreated},
		IDs:            req.RecordIDs,
		OldestFirst:    true,
		Limit:          req.MaxRecords,
	})
	if err != nil {
		return nil, err
	}

	at := o.now()
	out := &models.BulkResult{Results: make([]models.BulkItemResult, 0, len(records))}
	for _, rec := range records {
		item := models.BulkItemResult{RecordID: rec.ID, Reference: rec.Reference, InvoiceID: rec.InvoiceID, InvoiceName: rec.InvoiceName}
		if err := o.store.SetProcessed(ctx, actor.OrganizationID, rec.ID, actor.UserID, at); err != nil {
			item.Error = err.Error()
		} else {
			item.Success = true
		}
		addItem(out, item)
	}
	logging.FromContext(ctx).Info("bulk mark processed completed", "processed", out.Summary.TotalProcessed,
		"successful", out.Summary.Successful, "failed", out.Summary.Failed)
	return out, nil
}

func addItem(out *models.BulkResult, item models.BulkItemResult) {
	out.Results = append(out.Results, item)
	out.Summary.TotalProcessed++
	if item.Success {
		out.Summary.Successful++
	} else {
		out.Summary.Failed++
	}
}
