package models

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a ScanRecord.
type State string

const (
	StateDraft     State = "draft"
	StateCreated   State = "created"
	StateProcessed State = "processed"
	StateError     State = "error"
)

// Successful reports whether the state occupies the identifier slot of its
// organization (created or processed).
func (s State) Successful() bool {
	return s == StateCreated || s == StateProcessed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateCreated, StateProcessed, StateError:
		return true
	}
	return false
}

// Label is the human readable name shown to mobile clients.
func (s State) Label() string {
	switch s {
	case StateDraft:
		return "Draft"
	case StateCreated:
		return "Invoice created"
	case StateProcessed:
		return "Processed"
	case StateError:
		return "Error"
	}
	return ""
}

// Actor identifies who performs an operation and on behalf of which
// organization. It is passed explicitly into every scan operation.
type Actor struct {
	OrganizationID string
	UserID         string
}

// FieldSet is the structured content extracted from a verification page.
// Empty strings and nil pointers mean the field was not found.
type FieldSet struct {
	SupplierName    string     `json:"supplier_name,omitempty"`
	SupplierCode    string     `json:"supplier_code_dgi,omitempty"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerCode    string     `json:"customer_code_dgi,omitempty"`
	InvoiceNumber   string     `json:"invoice_number_dgi,omitempty"`
	InvoiceDate     *time.Time `json:"invoice_date,omitempty"`
	VerificationRef string     `json:"verification_ref,omitempty"`
	AmountTTC       *float64   `json:"amount_ttc,omitempty"`
	AmountHT        *float64   `json:"amount_ht,omitempty"`
	Currency        string     `json:"currency,omitempty"`

	// Bounded raw capture, retained for diagnostics only.
	RawHTML     string `json:"-"`
	TextContent string `json:"-"`
}

// Usable reports whether the set carries enough to be worth keeping
// (a supplier or an amount).
func (f *FieldSet) Usable() bool {
	return f.SupplierName != "" || f.AmountTTC != nil
}

// Amount returns the TTC amount or 0 when absent.
func (f *FieldSet) Amount() float64 {
	if f.AmountTTC == nil {
		return 0
	}
	return *f.AmountTTC
}

// ScanRecord is one scan of a verification identifier within an organization.
type ScanRecord struct {
	ID             int64  `json:"id"`
	Reference      string `json:"reference"`
	VerificationID string `json:"qr_uuid"`
	OrganizationID string `json:"organization_id"`
	SourceURL      string `json:"qr_url"`

	FieldSet

	State        State  `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`

	InvoiceID   *int64 `json:"invoice_id,omitempty"`
	InvoiceName string `json:"invoice_name,omitempty"`
	PartnerName string `json:"partner_name,omitempty"`

	DuplicateCount  int        `json:"duplicate_count"`
	LastDuplicateAt *time.Time `json:"last_duplicate_attempt,omitempty"`
	LastDuplicateBy string     `json:"last_duplicate_user,omitempty"`

	ScannedBy   string     `json:"scanned_by,omitempty"`
	ScanDate    time.Time  `json:"scan_date"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasInvoice reports whether a downstream invoice is linked.
func (r *ScanRecord) HasInvoice() bool {
	return r.InvoiceID != nil && *r.InvoiceID > 0
}

// CanRetry reports whether invoice creation may be re-attempted.
func (r *ScanRecord) CanRetry() bool {
	return r.State == StateError && !r.HasInvoice()
}

// FormatReference builds the human reference for a record id.
func FormatReference(id int64, at time.Time) string {
	return fmt.Sprintf("SCAN/%d/%05d", at.Year(), id)
}

// InvoiceSummary describes the downstream invoice created for a record.
type InvoiceSummary struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	AmountTotal float64 `json:"amount_total"`
	Currency    string  `json:"currency"`
	PartnerName string  `json:"partner_name"`
}
