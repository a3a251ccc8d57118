package scan

import (
	"context"
	"fmt"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
)

// History returns a page of the organization's records, newest first.
func (o *Orchestrator) History(ctx context.Context, actor models.Actor, filter models.ListFilter) (*models.HistoryPage, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, models.NewScanError(models.ErrCodeValidation, fmt.Sprintf("unknown state %q", filter.State), nil)
	}
	filter.Defaults()

	q := store.Query{
		OrganizationID: actor.OrganizationID,
		Limit:          filter.Limit,
		Offset:         filter.Offset(),
	}
	if filter.State != "" {
		q.States = []models.State{filter.State}
	}
	records, total, err := o.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.ScanRecord{}
	}
	return &models.HistoryPage{
		Records:    records,
		Pagination: models.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

// Errors returns a page of error records with their class and retry
// eligibility, plus a per-class summary over all of them.
func (o *Orchestrator) Errors(ctx context.Context, actor models.Actor, filter models.ListFilter) (*models.ErrorsPage, error) {
	filter.Defaults()
	records, total, err := o.store.List(ctx, store.Query{
		OrganizationID: actor.OrganizationID,
		States:         []models.State{models.StateError},
		WithoutInvoice: filter.RetryPossible,
		Limit:          filter.Limit,
		Offset:         filter.Offset(),
	})
	if err != nil {
		return nil, err
	}

	entries := make([]models.ErrorEntry, 0, len(records))
	for _, rec := range records {
		if rec.ErrorType == "" {
			rec.ErrorType = ClassifyError(rec.ErrorMessage)
		}
		entries = append(entries, models.ErrorEntry{ScanRecord: rec, CanRetry: rec.CanRetry()})
	}

	counts, canRetry, err := o.store.ErrorCounts(ctx, actor.OrganizationID)
	if err != nil {
		return nil, err
	}
	summary := models.ErrorSummary{
		DGIErrors:     counts[models.ErrTypeDGIService],
		NetworkErrors: counts[models.ErrTypeNetwork],
		ParsingErrors: counts[models.ErrTypeParsing],
		InvoiceErrors: counts[models.ErrTypeInvoiceCreation],
		BrowserErrors: counts[models.ErrTypeBrowser],
		CanRetry:      canRetry,
	}
	for _, n := range counts {
		summary.Total += n
	}

	return &models.ErrorsPage{
		Errors:     entries,
		Pagination: models.NewPagination(filter.Page, filter.Limit, total),
		Summary:    summary,
	}, nil
}

// Stats aggregates the organization's scan activity.
func (o *Orchestrator) Stats(ctx context.Context, actor models.Actor) (*models.Stats, error) {
	stats, err := o.store.Stats(ctx, actor.OrganizationID)
	if err != nil {
		return nil, err
	}
	stats.Currency = o.currency
	return stats, nil
}
