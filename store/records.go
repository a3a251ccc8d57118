package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Insert persists a new record in draft or error state and assigns its
// human reference. Successful states are only reached through Claim.
func (s *Store) Insert(ctx context.Context, rec *models.ScanRecord) (*models.ScanRecord, error) {
	if rec.State.Successful() {
		return nil, fmt.Errorf("store: insert record: state %q must be reached through Claim", rec.State)
	}
	now := time.Now().UTC()
	timestamp := formatTime(now)
	scanDate := rec.ScanDate
	if scanDate.IsZero() {
		scanDate = now
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, s.Rebind(`INSERT INTO scan_records (
            verification_id, organization_id, source_url,
            supplier_name, supplier_code, customer_name, customer_code,
            invoice_number, invoice_date, verification_ref, amount_ttc, amount_ht, currency,
            raw_html, text_content, state, error_message, error_type,
            scanned_by, scan_date, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			rec.VerificationID,
			rec.OrganizationID,
			rec.SourceURL,
			nullableString(rec.SupplierName),
			nullableString(rec.SupplierCode),
			nullableString(rec.CustomerName),
			nullableString(rec.CustomerCode),
			nullableString(rec.InvoiceNumber),
			nullableDate(rec.InvoiceDate),
			nullableString(rec.VerificationRef),
			nullableFloat(rec.AmountTTC),
			nullableFloat(rec.AmountHT),
			nullableString(rec.Currency),
			nullableString(rec.RawHTML),
			nullableString(rec.TextContent),
			string(rec.State),
			nullableString(rec.ErrorMessage),
			nullableString(rec.ErrorType),
			nullableString(rec.ScannedBy),
			formatTime(scanDate),
			timestamp,
			timestamp,
		).Scan(&id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.Rebind(`UPDATE scan_records SET reference = ? WHERE id = ?`),
			models.FormatReference(id, scanDate), id); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("store: insert record: %w", err)
	}
	return s.Get(ctx, rec.OrganizationID, id)
}

// Get returns one record of the organization or ErrNotFound.
func (s *Store) Get(ctx context.Context, organizationID string, id int64) (*models.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.Rebind(`SELECT `+recordColumns+` FROM scan_records WHERE id = ? AND organization_id = ?`),
		id, organizationID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record %d: %w", id, err)
	}
	return rec, nil
}

// FindSuccessful returns the created or processed record holding the
// verification identifier in the organization, or nil when there is none.
// Draft and error records are never returned.
func (s *Store) FindSuccessful(ctx context.Context, organizationID, verificationID string) (*models.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.Rebind(`SELECT `+recordColumns+` FROM scan_records
            WHERE verification_id = ? AND organization_id = ? AND state IN ('created', 'processed')
            ORDER BY id LIMIT 1`),
		verificationID, organizationID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find successful record: %w", err)
	}
	return rec, nil
}

// IncrementDuplicate bumps the duplicate counter in place and stamps the
// attempt. The increment is a single statement so concurrent rescans never
// lose a count.
func (s *Store) IncrementDuplicate(ctx context.Context, organizationID string, id int64, userID string, at time.Time) error {
	err := s.execOne(ctx,
		`UPDATE scan_records
            SET duplicate_count = duplicate_count + 1, last_duplicate_at = ?, last_duplicate_by = ?, updated_at = ?
            WHERE id = ? AND organization_id = ?`,
		formatTime(at), nullableString(userID), formatTime(time.Now()), id, organizationID,
	)
	if errors.Is(err, ErrStale) {
		return ErrNotFound
	}
	return err
}

// Claim moves a draft or error record without invoice to created, taking the
// identifier's success slot. ErrConflict means another record holds it.
func (s *Store) Claim(ctx context.Context, organizationID string, id int64) error {
	return s.execOne(ctx,
		`UPDATE scan_records
            SET state = 'created', error_message = NULL, error_type = NULL, updated_at = ?
            WHERE id = ? AND organization_id = ? AND state IN ('draft', 'error') AND invoice_id IS NULL`,
		formatTime(time.Now()), id, organizationID,
	)
}

// LinkInvoice attaches the downstream invoice to a claimed record.
func (s *Store) LinkInvoice(ctx context.Context, organizationID string, id int64, inv *models.InvoiceSummary) error {
	return s.execOne(ctx,
		`UPDATE scan_records
            SET invoice_id = ?, invoice_name = ?, partner_name = ?, updated_at = ?
            WHERE id = ? AND organization_id = ? AND state = 'created'`,
		inv.ID, nullableString(inv.Name), nullableString(inv.PartnerName), formatTime(time.Now()), id, organizationID,
	)
}

// MarkError moves a record without invoice to error with its cause.
func (s *Store) MarkError(ctx context.Context, organizationID string, id int64, errType, message string) error {
	return s.execOne(ctx,
		`UPDATE scan_records
            SET state = 'error', error_type = ?, error_message = ?, updated_at = ?
            WHERE id = ? AND organization_id = ? AND invoice_id IS NULL`,
		nullableString(errType), message, formatTime(time.Now()), id, organizationID,
	)
}

// SetProcessed moves a created record to processed.
func (s *Store) SetProcessed(ctx context.Context, organizationID string, id int64, userID string, at time.Time) error {
	return s.execOne(ctx,
		`UPDATE scan_records
            SET state = 'processed', processed_by = ?, processed_at = ?, updated_at = ?
            WHERE id = ? AND organization_id = ? AND state = 'created'`,
		nullableString(userID), formatTime(at), formatTime(time.Now()), id, organizationID,
	)
}

// SetUnprocessed moves a processed record back to created.
func (s *Store) SetUnprocessed(ctx context.Context, organizationID string, id int64) error {
	return s.execOne(ctx,
		`UPDATE scan_records
            SET state = 'created', processed_by = NULL, processed_at = NULL, updated_at = ?
            WHERE id = ? AND organization_id = ? AND state = 'processed'`,
		formatTime(time.Now()), id, organizationID,
	)
}

// Query selects records of one organization.
type Query struct {
	OrganizationID string
	States         []models.State
	IDs            []int64

	// WithoutInvoice keeps only records with no linked invoice.
	WithoutInvoice bool

	// OldestFirst orders by ascending id; the default is newest first.
	OldestFirst bool

	// Limit <= 0 means no limit.
	Limit  int
	Offset int
}

func (q Query) where() (string, []any) {
	clauses := []string{"organization_id = ?"}
	args := []any{q.OrganizationID}
	if len(q.States) > 0 {
		clauses = append(clauses, "state IN ("+makePlaceholders(len(q.States))+")")
		for _, st := range q.States {
			args = append(args, string(st))
		}
	}
	if len(q.IDs) > 0 {
		clauses = append(clauses, "id IN ("+makePlaceholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if q.WithoutInvoice {
		clauses = append(clauses, "invoice_id IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}

// List returns the page of records matching q and the total match count.
func (s *Store) List(ctx context.Context, q Query) ([]*models.ScanRecord, int, error) {
	where, args := q.where()

	var total int
	if err := s.db.QueryRowContext(ctx,
		s.Rebind(`SELECT COUNT(1) FROM scan_records WHERE `+where), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count records: %w", err)
	}

	order := "DESC"
	if q.OldestFirst {
		order = "ASC"
	}
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE ` + where + ` ORDER BY id ` + order
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.Rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var records []*models.ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate records: %w", err)
	}
	return records, total, nil
}

// Stats aggregates the organization's records. Currency is left to the caller.
func (s *Store) Stats(ctx context.Context, organizationID string) (*models.Stats, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(`SELECT state, COUNT(1),
            COALESCE(SUM(duplicate_count), 0),
            COALESCE(SUM(CASE WHEN duplicate_count > 0 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(amount_ttc), 0)
        FROM scan_records WHERE organization_id = ? GROUP BY state`), organizationID)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	stats := &models.Stats{}
	for rows.Next() {
		var (
			state    string
			count    int64
			dups     int64
			withDups int64
			amount   float64
		)
		if err := rows.Scan(&state, &count, &dups, &withDups, &amount); err != nil {
			return nil, fmt.Errorf("store: scan stats: %w", err)
		}
		stats.DuplicateAttempts += int(dups)
		stats.RecordsWithDuplicates += int(withDups)
		switch models.State(state) {
		case models.StateCreated:
			stats.SuccessfulScans += int(count)
			stats.UnprocessedScans += int(count)
			stats.TotalAmount += amount
		case models.StateProcessed:
			stats.SuccessfulScans += int(count)
			stats.ProcessedScans += int(count)
			stats.TotalAmount += amount
		case models.StateError:
			stats.ErrorScans += int(count)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate stats: %w", err)
	}
	stats.TotalScans = stats.SuccessfulScans + stats.DuplicateAttempts + stats.ErrorScans
	return stats, nil
}

// ErrorCounts counts the organization's error records by error type, plus
// how many of them have no invoice and can therefore be retried.
func (s *Store) ErrorCounts(ctx context.Context, organizationID string) (map[string]int, int, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(`SELECT COALESCE(error_type, ''), COUNT(1),
            COALESCE(SUM(CASE WHEN invoice_id IS NULL THEN 1 ELSE 0 END), 0)
        FROM scan_records WHERE organization_id = ? AND state = 'error'
        GROUP BY COALESCE(error_type, '')`), organizationID)
	if err != nil {
		return nil, 0, fmt.Errorf("store: error counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	canRetry := 0
	for rows.Next() {
		var (
			errType string
			count   int64
			retry   int64
		)
		if err := rows.Scan(&errType, &count, &retry); err != nil {
			return nil, 0, fmt.Errorf("store: scan error counts: %w", err)
		}
		counts[errType] += int(count)
		canRetry += int(retry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate error counts: %w", err)
	}
	return counts, canRetry, nil
}
