package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

const dateLayout = "2006-01-02"

const recordColumns = "id, reference, verification_id, organization_id, source_url, supplier_name, supplier_code, customer_name, customer_code, invoice_number, invoice_date, verification_ref, amount_ttc, amount_ht, currency, raw_html, text_content, state, error_message, error_type, invoice_id, invoice_name, partner_name, duplicate_count, last_duplicate_at, last_duplicate_by, scanned_by, scan_date, processed_by, processed_at, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*models.ScanRecord, error) {
	var (
		id              int64
		reference       sql.NullString
		verificationID  string
		organizationID  string
		sourceURL       string
		supplierName    sql.NullString
		supplierCode    sql.NullString
		customerName    sql.NullString
		customerCode    sql.NullString
		invoiceNumber   sql.NullString
		invoiceDate     sql.NullString
		verificationRef sql.NullString
		amountTTC       sql.NullFloat64
		amountHT        sql.NullFloat64
		currency        sql.NullString
		rawHTML         sql.NullString
		textContent     sql.NullString
		state           string
		errorMessage    sql.NullString
		errorType       sql.NullString
		invoiceID       sql.NullInt64
		invoiceName     sql.NullString
		partnerName     sql.NullString
		duplicateCount  int64
		lastDupAt       sql.NullString
		lastDupBy       sql.NullString
		scannedBy       sql.NullString
		scanDate        string
		processedBy     sql.NullString
		processedAt     sql.NullString
		createdRaw      string
		updatedRaw      string
	)

	if err := scanner.Scan(
		&id,
		&reference,
		&verificationID,
		&organizationID,
		&sourceURL,
		&supplierName,
		&supplierCode,
		&customerName,
		&customerCode,
		&invoiceNumber,
		&invoiceDate,
		&verificationRef,
		&amountTTC,
		&amountHT,
		&currency,
		&rawHTML,
		&textContent,
		&state,
		&errorMessage,
		&errorType,
		&invoiceID,
		&invoiceName,
		&partnerName,
		&duplicateCount,
		&lastDupAt,
		&lastDupBy,
		&scannedBy,
		&scanDate,
		&processedBy,
		&processedAt,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &models.ScanRecord{
		ID:             id,
		Reference:      reference.String,
		VerificationID: verificationID,
		OrganizationID: organizationID,
		SourceURL:      sourceURL,
		FieldSet: models.FieldSet{
			SupplierName:    supplierName.String,
			SupplierCode:    supplierCode.String,
			CustomerName:    customerName.String,
			CustomerCode:    customerCode.String,
			InvoiceNumber:   invoiceNumber.String,
			VerificationRef: verificationRef.String,
			Currency:        currency.String,
			RawHTML:         rawHTML.String,
			TextContent:     textContent.String,
		},
		State:           models.State(state),
		ErrorMessage:    errorMessage.String,
		ErrorType:       errorType.String,
		InvoiceName:     invoiceName.String,
		PartnerName:     partnerName.String,
		DuplicateCount:  int(duplicateCount),
		LastDuplicateBy: lastDupBy.String,
		ScannedBy:       scannedBy.String,
		ProcessedBy:     processedBy.String,
	}
	if invoiceDate.Valid {
		if d, err := time.Parse(dateLayout, invoiceDate.String); err == nil {
			rec.InvoiceDate = &d
		}
	}
	if amountTTC.Valid {
		v := amountTTC.Float64
		rec.AmountTTC = &v
	}
	if amountHT.Valid {
		v := amountHT.Float64
		rec.AmountHT = &v
	}
	if invoiceID.Valid {
		v := invoiceID.Int64
		rec.InvoiceID = &v
	}
	rec.LastDuplicateAt = parseOptionalTime(lastDupAt)
	rec.ProcessedAt = parseOptionalTime(processedAt)
	if t, err := parseTimeString(scanDate); err == nil {
		rec.ScanDate = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableDate(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Format(dateLayout)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
