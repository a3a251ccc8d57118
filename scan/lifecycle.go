package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
)

// MarkProcessed moves a created record to processed.
func (o *Orchestrator) MarkProcessed(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error) {
	rec, err := o.get(ctx, actor, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != models.StateCreated {
		return nil, invalidState("only records with a created invoice can be marked processed", rec.State)
	}
	if err := o.store.SetProcessed(ctx, actor.OrganizationID, recordID, actor.UserID, o.now()); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, models.NewScanError(models.ErrCodeInvalidState, "record changed before it could be marked processed", err)
		}
		return nil, err
	}
	logging.FromContext(ctx).Info("record marked processed", "record_id", recordID)
	return o.store.Get(ctx, actor.OrganizationID, recordID)
}

// MarkUnprocessed moves a processed record back to created.
func (o *Orchestrator) MarkUnprocessed(ctx context.Context, actor models.Actor, recordID int64) (*models.ScanRecord, error) {
	rec, err := o.get(ctx, actor, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != models.StateProcessed {
		return nil, invalidState("only processed records can be marked unprocessed", rec.State)
	}
	if err := o.store.SetUnprocessed(ctx, actor.OrganizationID, recordID); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, models.NewScanError(models.ErrCodeInvalidState, "record changed before it could be marked unprocessed", err)
		}
		return nil, err
	}
	logging.FromContext(ctx).Info("record marked unprocessed", "record_id", recordID)
	return o.store.Get(ctx, actor.OrganizationID, recordID)
}

func invalidState(msg string, current models.State) *models.ScanError {
	return models.NewScanError(models.ErrCodeInvalidState, fmt.Sprintf("%s (current state: %s)", msg, current), nil)
}
