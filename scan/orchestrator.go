// Package scan turns scanned verification URLs into supplier invoices. It
// detects duplicates per organization, drives the two-stage fetch, persists
// every outcome as a scan record and exposes the record lifecycle.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/cache"
	"github.com/Ivory-cocoa/invoice-qr-scanner/engine"
	"github.com/Ivory-cocoa/invoice-qr-scanner/identifier"
	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
	"github.com/Ivory-cocoa/invoice-qr-scanner/webhook"
)

// Fetcher retrieves and extracts a verification page.
type Fetcher interface {
	Fetch(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error)
}

// Invoicer creates the downstream supplier invoice for a record.
type Invoicer interface {
	CreateInvoice(ctx context.Context, actor models.Actor, rec *models.ScanRecord) (*models.InvoiceSummary, error)
}

// InvoiceReader is implemented by invoicers that can read back an invoice.
// A missing invoice is reported as store.ErrNotFound.
type InvoiceReader interface {
	Invoice(ctx context.Context, organizationID string, id int64) (*models.InvoiceSummary, error)
}

// Notifier receives terminal scan outcomes.
type Notifier interface {
	Notify(event *webhook.Event)
}

// Orchestrator composes identifier extraction, duplicate detection, fetching
// and invoice creation. It is safe for concurrent use.
type Orchestrator struct {
	store    *store.Store
	fetcher  Fetcher
	invoicer Invoicer
	notifier Notifier
	cache    *cache.Cache
	currency string
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sends scan outcomes to n.
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithCache caches Inspect results.
func WithCache(c *cache.Cache) Option { return func(o *Orchestrator) { o.cache = c } }

// WithCurrency sets the currency used when a page does not state one.
func WithCurrency(code string) Option { return func(o *Orchestrator) { o.currency = code } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(st *store.Store, fetcher Fetcher, invoicer Invoicer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		fetcher:  fetcher,
		invoicer: invoicer,
		currency: "XOF",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessScan runs one scan to its terminal outcome. The returned error is
// reserved for infrastructure failures; every scan outcome, including
// failures, is reported in the result.
//
// The scan is detached from ctx cancellation: a caller that goes away does
// not stop it half way. The fetch stages carry their own timeouts.
func (o *Orchestrator) ProcessScan(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error) {
	return o.processScan(context.WithoutCancel(ctx), actor, rawURL, time.Time{})
}

func (o *Orchestrator) processScan(ctx context.Context, actor models.Actor, rawURL string, scannedAt time.Time) (*models.ScanResult, error) {
	log := logging.FromContext(ctx)

	// ── 1. Identifier ────────────────────────────────────────────────
	vid, ok := identifier.Extract(rawURL)
	if !ok {
		log.Info("scan rejected: no verification identifier", "url", rawURL)
		return &models.ScanResult{
			ErrorCode: models.ErrCodeInvalidURL,
			Message:   "no verification identifier found in the scanned URL",
		}, nil
	}

	// ── 2. Duplicate ─────────────────────────────────────────────────
	existing, err := o.store.FindSuccessful(ctx, actor.OrganizationID, vid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return o.duplicate(ctx, actor, existing)
	}

	// ── 3. Fetch ─────────────────────────────────────────────────────
	rec := &models.ScanRecord{
		VerificationID: vid,
		OrganizationID: actor.OrganizationID,
		SourceURL:      strings.TrimSpace(rawURL),
		ScannedBy:      actor.UserID,
		ScanDate:       scannedAt,
	}
	res, fetchErr := o.fetcher.Fetch(ctx, &engine.FetchRequest{URL: rec.SourceURL, VerificationID: vid})
	if fetchErr == nil && (res == nil || res.Fields == nil || !res.Fields.Usable()) {
		fetchErr = &engine.FetchError{
			Type:    models.ErrTypeParsing,
			Message: "no invoice fields could be extracted from the verification page",
		}
	}
	if res != nil && res.Fields != nil {
		rec.FieldSet = *res.Fields
	}

	if fetchErr != nil {
		rec.State = models.StateError
		rec.ErrorMessage = fetchErr.Error()
		rec.ErrorType = errorType(fetchErr)
		saved, err := o.store.Insert(ctx, rec)
		if err != nil {
			return nil, err
		}
		log.Warn("scan failed at retrieval", "record_id", saved.ID, "qr_uuid", vid, "error_type", saved.ErrorType, "error", fetchErr)
		o.notify(webhook.EventScanError, saved, nil)
		return &models.ScanResult{
			ErrorCode: models.ErrCodeDGI,
			Message:   "verification service lookup failed: " + fetchErr.Error(),
			Record:    saved,
			RecordID:  saved.ID,
			ErrorType: saved.ErrorType,
		}, nil
	}

	// ── 4. Draft, then invoice ───────────────────────────────────────
	if rec.Currency == "" {
		rec.Currency = o.currency
	}
	rec.State = models.StateDraft
	saved, err := o.store.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	log.Info("scan extracted", "record_id", saved.ID, "qr_uuid", vid, "stage", res.Stage, "supplier", saved.SupplierName)

	linked, inv, failure, err := o.createInvoice(ctx, actor, saved, "invoice creation failed: ")
	if err != nil {
		return nil, err
	}
	if failure != "" {
		o.notify(webhook.EventScanError, linked, nil)
		return &models.ScanResult{
			ErrorCode: models.ErrCodeInvoice,
			Message:   failure,
			Record:    linked,
			RecordID:  linked.ID,
			ErrorType: models.ErrTypeInvoiceCreation,
		}, nil
	}

	o.notify(webhook.EventScanCreated, linked, inv)
	return &models.ScanResult{Success: true, Record: linked, Invoice: inv}, nil
}

// duplicate records a rescan on the existing successful record.
func (o *Orchestrator) duplicate(ctx context.Context, actor models.Actor, existing *models.ScanRecord) (*models.ScanResult, error) {
	if err := o.store.IncrementDuplicate(ctx, actor.OrganizationID, existing.ID, actor.UserID, o.now()); err != nil {
		return nil, err
	}
	snap, err := o.store.Get(ctx, actor.OrganizationID, existing.ID)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("duplicate scan", "record_id", snap.ID, "reference", snap.Reference, "duplicate_count", snap.DuplicateCount)
	o.notify(webhook.EventScanDuplicate, snap, nil)
	return &models.ScanResult{
		ErrorCode:      models.ErrCodeDuplicate,
		Message:        fmt.Sprintf("invoice already scanned as %s", snap.Reference),
		Record:         snap,
		DuplicateCount: snap.DuplicateCount,
	}, nil
}

// createInvoice claims the record's success slot, asks the invoicer for an
// invoice and links it. A business failure leaves the record in error and is
// returned as a non-empty failure message prefixed with prefix; err is
// reserved for infrastructure failures.
//
// Once the slot is claimed, the record is always released to error or
// linked, whatever happens to ctx.
func (o *Orchestrator) createInvoice(ctx context.Context, actor models.Actor, rec *models.ScanRecord, prefix string) (*models.ScanRecord, *models.InvoiceSummary, string, error) {
	org := actor.OrganizationID
	log := logging.FromContext(ctx)
	book := context.WithoutCancel(ctx)

	fail := func(cause string) (*models.ScanRecord, *models.InvoiceSummary, string, error) {
		msg := prefix + cause
		if err := o.store.MarkError(book, org, rec.ID, models.ErrTypeInvoiceCreation, msg); err != nil {
			return nil, nil, "", fmt.Errorf("scan: record invoice failure: %w", err)
		}
		log.Warn("invoice creation failed", "record_id", rec.ID, "error", msg)
		updated, err := o.store.Get(book, org, rec.ID)
		if err != nil {
			return nil, nil, "", err
		}
		return updated, nil, msg, nil
	}

	if err := o.store.Claim(ctx, org, rec.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return fail("an invoice already exists for this verification identifier")
		case errors.Is(err, store.ErrStale):
			return nil, nil, "", models.NewScanError(models.ErrCodeInvalidState, "record changed while creating its invoice", err)
		default:
			return nil, nil, "", fmt.Errorf("scan: claim record: %w", err)
		}
	}

	inv, err := o.safeCreateInvoice(ctx, actor, rec)
	if err != nil {
		return fail(err.Error())
	}

	if err := o.store.LinkInvoice(book, org, rec.ID, inv); err != nil {
		// The invoice exists without a record pointing at it; its name goes
		// into the message so it can be reconciled by hand.
		log.Error("invoice created but not linked", "record_id", rec.ID, "invoice", inv.Name, "error", err)
		return fail(fmt.Sprintf("invoice %s was created but could not be linked: %v", inv.Name, err))
	}
	linked, err := o.store.Get(book, org, rec.ID)
	if err != nil {
		return nil, nil, "", err
	}
	log.Info("invoice linked", "record_id", rec.ID, "invoice", inv.Name)
	return linked, inv, "", nil
}

// safeCreateInvoice converts a panicking invoicer into an error.
func (o *Orchestrator) safeCreateInvoice(ctx context.Context, actor models.Actor, rec *models.ScanRecord) (inv *models.InvoiceSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv, err = nil, fmt.Errorf("invoice creation aborted: %v", r)
		}
	}()
	inv, err = o.invoicer.CreateInvoice(ctx, actor, rec)
	if err == nil && inv == nil {
		err = errors.New("invoice creation returned no invoice")
	}
	return inv, err
}

// CheckDuplicate reports the successful record holding the URL's identifier
// in the actor's organization, without touching any counter.
func (o *Orchestrator) CheckDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.DuplicateCheck, error) {
	vid, ok := identifier.Extract(rawURL)
	if !ok {
		return nil, models.NewScanError(models.ErrCodeInvalidURL, "no verification identifier found in the scanned URL", nil)
	}
	rec, err := o.store.FindSuccessful(ctx, actor.OrganizationID, vid)
	if err != nil {
		return nil, err
	}
	return &models.DuplicateCheck{Exists: rec != nil, VerificationID: vid, Record: rec}, nil
}

// ReportDuplicate records a duplicate the client detected locally.
func (o *Orchestrator) ReportDuplicate(ctx context.Context, actor models.Actor, rawURL string) (*models.ScanResult, error) {
	vid, ok := identifier.Extract(rawURL)
	if !ok {
		return nil, models.NewScanError(models.ErrCodeInvalidURL, "no verification identifier found in the scanned URL", nil)
	}
	rec, err := o.store.FindSuccessful(ctx, actor.OrganizationID, vid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.NewScanError(models.ErrCodeNotFound, "no successful scan exists for this verification identifier", nil)
	}
	res, err := o.duplicate(ctx, actor, rec)
	if err != nil {
		return nil, err
	}
	res.Success = true
	res.ErrorCode = ""
	res.Message = "duplicate attempt recorded"
	return res, nil
}

// RetryInvoiceCreation re-attempts only the invoice step of an error record.
// The page is never fetched again.
func (o *Orchestrator) RetryInvoiceCreation(ctx context.Context, actor models.Actor, recordID int64) (*models.RetryResult, error) {
	rec, err := o.retryable(ctx, actor, recordID)
	if err != nil {
		return nil, err
	}

	updated, inv, failure, err := o.createInvoice(ctx, actor, rec, "retry failed: ")
	if err != nil {
		return nil, err
	}
	if failure != "" {
		o.notify(webhook.EventRetryFailed, updated, nil)
		return &models.RetryResult{ErrorCode: models.ErrCodeRetryFailed, Message: failure, Record: updated}, nil
	}
	o.notify(webhook.EventRetryCreated, updated, inv)
	return &models.RetryResult{Success: true, Record: updated, Invoice: inv}, nil
}

// retryable loads a record and checks it may be retried.
func (o *Orchestrator) retryable(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error) {
	rec, err := o.get(ctx, actor, recordID)
	if err != nil {
		return nil, err
	}
	if rec.HasInvoice() {
		return nil, models.NewScanError(models.ErrCodeAlreadyProcessed,
			fmt.Sprintf("an invoice is already linked to this record (%s)", rec.InvoiceName), nil)
	}
	if rec.State != models.StateError {
		return nil, models.NewScanError(models.ErrCodeInvalidState,
			fmt.Sprintf("only records in error state can be retried (current state: %s)", rec.State), nil)
	}
	return rec, nil
}

// Invoice returns the summary of a downstream invoice owned by the actor's
// organization.
func (o *Orchestrator) Invoice(ctx context.Context, actor models.Actor, invoiceID int64) (*models.InvoiceSummary, error) {
	notFound := models.NewScanError(models.ErrCodeNotFound, fmt.Sprintf("invoice %d not found", invoiceID), nil)
	reader, ok := o.invoicer.(InvoiceReader)
	if !ok {
		return nil, notFound
	}
	inv, err := reader.Invoice(ctx, actor.OrganizationID, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		notFound.Err = err
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (o *Orchestrator) get(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error) {
	rec, err := o.store.Get(ctx, actor.OrganizationID, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewScanError(models.ErrCodeNotFound, fmt.Sprintf("scan record %d not found", recordID), err)
	}
	return rec, err
}

func (o *Orchestrator) notify(eventType string, rec *models.ScanRecord, inv *models.InvoiceSummary) {
	if o.notifier == nil || rec == nil {
		return
	}
	var data any = rec
	if inv != nil {
		data = map[string]any{"record": rec, "invoice": inv}
	}
	o.notifier.Notify(&webhook.Event{
		Type:           eventType,
		OrganizationID: rec.OrganizationID,
		RecordID:       rec.ID,
		Reference:      rec.Reference,
		VerificationID: rec.VerificationID,
		Timestamp:      o.now().Unix(),
		Data:           data,
	})
}

// errorType returns the class carried by err, classifying its text when it
// carries none.
func errorType(err error) string {
	if kind := engine.ErrorKind(err); kind != "" {
		return kind
	}
	return ClassifyError(err.Error())
}
