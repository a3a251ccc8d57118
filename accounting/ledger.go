// Package accounting creates supplier invoices for scanned verification
// records. It owns the supplier, purchase journal and expense account tables
// and shares the record store's database.
package accounting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
)

const (
	purchaseJournalCode = "ACH"
	purchaseJournalName = "Achats"
	expenseAccountName  = "Achats de marchandises"
	lineLabelPrefix     = "Facture scannée - "

	InvoiceStateDraft  = "draft"
	InvoiceStatePosted = "posted"
)

var (
	ErrSupplierUnknown = errors.New("accounting: supplier unknown")
	ErrAmountMissing   = errors.New("accounting: invoice amount is missing")
	ErrInvoiceNotFound = fmt.Errorf("accounting: invoice not found: %w", store.ErrNotFound)
)

// Ledger creates one supplier invoice per call.
type Ledger struct {
	db     *sql.DB
	driver string
	cfg    config.AccountingConfig
	now    func() time.Time
}

// NewLedger creates a Ledger on the store's database.
func NewLedger(s *store.Store, cfg config.AccountingConfig) *Ledger {
	return &Ledger{db: s.DB(), driver: s.Driver(), cfg: cfg, now: time.Now}
}

func (l *Ledger) rebind(q string) string { return store.Rebind(l.driver, q) }

// CreateInvoice creates the supplier invoice for rec in the actor's
// organization. The supplier, purchase journal and expense account are
// created on first use.
func (l *Ledger) CreateInvoice(ctx context.Context, actor models.Actor, rec *models.ScanRecord) (*models.InvoiceSummary, error) {
	if rec.AmountTTC == nil {
		return nil, ErrAmountMissing
	}
	if rec.SupplierName == "" && rec.SupplierCode == "" {
		return nil, ErrSupplierUnknown
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("accounting: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	org := actor.OrganizationID
	now := l.now().UTC()

	supplierID, partner, err := l.supplier(ctx, tx, org, rec.SupplierName, rec.SupplierCode, now)
	if err != nil {
		return nil, err
	}
	journalID, err := l.purchaseJournal(ctx, tx, org)
	if err != nil {
		return nil, err
	}
	accountID, err := l.expenseAccount(ctx, tx, org)
	if err != nil {
		return nil, err
	}

	state := InvoiceStateDraft
	if l.cfg.AutoValidate {
		state = InvoiceStatePosted
	}
	invoiceDate := now
	if rec.InvoiceDate != nil {
		invoiceDate = *rec.InvoiceDate
	}
	ref := rec.InvoiceNumber
	if ref == "" {
		ref = rec.VerificationID
	}
	currency := rec.Currency
	if currency == "" {
		currency = l.cfg.Currency
	}

	var id int64
	if err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO invoices (
            organization_id, name, supplier_id, journal_id, expense_account_id,
            reference, invoice_date, line_label, amount_total, currency, state, created_by, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		org, "/", supplierID, journalID, accountID,
		ref, invoiceDate.Format("2006-01-02"), lineLabelPrefix+ref,
		*rec.AmountTTC, currency, state, actor.UserID, now.Format(time.RFC3339Nano),
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("accounting: insert invoice: %w", err)
	}

	name := fmt.Sprintf("BILL/%d/%05d", invoiceDate.Year(), id)
	if _, err := tx.ExecContext(ctx, l.rebind(`UPDATE invoices SET name = ? WHERE id = ?`), name, id); err != nil {
		return nil, fmt.Errorf("accounting: name invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("accounting: commit invoice: %w", err)
	}

	slog.Info("supplier invoice created", "invoice", name, "supplier", partner, "state", state, "amount", *rec.AmountTTC)
	return &models.InvoiceSummary{
		ID:          id,
		Name:        name,
		State:       state,
		AmountTotal: *rec.AmountTTC,
		Currency:    currency,
		PartnerName: partner,
	}, nil
}

// Invoice returns the summary of one supplier invoice of the organization.
func (l *Ledger) Invoice(ctx context.Context, organizationID string, id int64) (*models.InvoiceSummary, error) {
	inv := &models.InvoiceSummary{}
	err := l.db.QueryRowContext(ctx, l.rebind(`SELECT i.id, i.name, i.state, i.amount_total, i.currency, s.name
        FROM invoices i JOIN suppliers s ON s.id = i.supplier_id
        WHERE i.id = ? AND i.organization_id = ?`), id, organizationID,
	).Scan(&inv.ID, &inv.Name, &inv.State, &inv.AmountTotal, &inv.Currency, &inv.PartnerName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounting: get invoice %d: %w", id, err)
	}
	return inv, nil
}

// supplier finds the supplier by fiscal code, then by name, and creates it
// when allowed.
func (l *Ledger) supplier(ctx context.Context, tx *sql.Tx, org, name, code string, now time.Time) (int64, string, error) {
	var (
		id       int64
		existing string
	)
	if code != "" {
		err := tx.QueryRowContext(ctx, l.rebind(`SELECT id, name FROM suppliers
            WHERE organization_id = ? AND dgi_code = ? ORDER BY id LIMIT 1`), org, code).Scan(&id, &existing)
		if err == nil {
			return id, existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, "", fmt.Errorf("accounting: find supplier by code: %w", err)
		}
	}
	if name != "" {
		err := tx.QueryRowContext(ctx, l.rebind(`SELECT id, name FROM suppliers
            WHERE organization_id = ? AND LOWER(name) = LOWER(?) ORDER BY id LIMIT 1`), org, name).Scan(&id, &existing)
		if err == nil {
			return id, existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, "", fmt.Errorf("accounting: find supplier by name: %w", err)
		}
	}

	if !l.cfg.AutoCreateSupplier {
		return 0, "", fmt.Errorf("%w: %s %s (automatic supplier creation disabled)", ErrSupplierUnknown, name, code)
	}
	if name == "" {
		name = "Fournisseur DGI " + code
	}
	if err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO suppliers (organization_id, name, dgi_code, created_at)
        VALUES (?, ?, ?, ?) RETURNING id`), org, name, nullable(code), now.Format(time.RFC3339Nano)).Scan(&id); err != nil {
		return 0, "", fmt.Errorf("accounting: create supplier: %w", err)
	}
	slog.Info("supplier created", "supplier", name, "dgi_code", code)
	return id, name, nil
}

func (l *Ledger) purchaseJournal(ctx context.Context, tx *sql.Tx, org string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, l.rebind(`SELECT id FROM journals
        WHERE organization_id = ? AND kind = 'purchase' ORDER BY id LIMIT 1`), org).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("accounting: find purchase journal: %w", err)
	}
	if err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO journals (organization_id, code, name, kind)
        VALUES (?, ?, ?, 'purchase') RETURNING id`), org, purchaseJournalCode, purchaseJournalName).Scan(&id); err != nil {
		return 0, fmt.Errorf("accounting: create purchase journal: %w", err)
	}
	return id, nil
}

func (l *Ledger) expenseAccount(ctx context.Context, tx *sql.Tx, org string) (int64, error) {
	code := strings.TrimSpace(l.cfg.DefaultExpenseAccount)
	if code == "" {
		return 0, errors.New("accounting: no default expense account configured")
	}
	var id int64
	err := tx.QueryRowContext(ctx, l.rebind(`SELECT id FROM expense_accounts
        WHERE organization_id = ? AND code = ?`), org, code).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("accounting: find expense account: %w", err)
	}
	if err := tx.QueryRowContext(ctx, l.rebind(`INSERT INTO expense_accounts (organization_id, code, name)
        VALUES (?, ?, ?) RETURNING id`), org, code, expenseAccountName).Scan(&id); err != nil {
		return 0, fmt.Errorf("accounting: create expense account: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
