package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Storage bounds for the raw capture kept on a record.
const (
	MaxRawHTML     = 5000
	MaxTextContent = 3000
)

// Section markers whose presence means the verification content has loaded.
var markers = []string{"FOURNISSEUR", "NUMERO DE FACTURE"}

// The labels are the French wording printed by the DGI verification page.
// Each field has its own pattern so a miss never affects the others.
var (
	reSupplier      = regexp.MustCompile(`(?im)FOURNISSEUR:\s*([\p{L}\p{N}\s.&'\x{2019}-]+?)\s+-\s+([A-Z0-9]+)`)
	reCustomer      = regexp.MustCompile(`(?im)CLIENT:\s*([\p{L}\p{N}\s.&'\x{2019}-]+?)\s+-\s+([A-Z0-9]+)`)
	reInvoiceNumber = regexp.MustCompile(`(?im)NUMERO DE FACTURE:\s*([A-Z0-9][A-Z0-9/-]*)`)
	reInvoiceDate   = regexp.MustCompile(`(?im)DATE DE FACTURATION:\s*(\d{2}/\d{2}/\d{4})`)
	reVerification  = regexp.MustCompile(`(?im)ID VERIFICATION:\s*([A-Z0-9-]+)`)
	reAmountTTC     = regexp.MustCompile(`(?im)MONTANT TTC:\s*(\d[\d \x{00a0}\x{202f}]*)\s*(?:F?CFA)?`)
	reAmountHT      = regexp.MustCompile(`(?im)MONTANT HT:\s*(\d[\d \x{00a0}\x{202f}]*)\s*(?:F?CFA)?`)
)

// HasMarkers reports whether text contains a recognizable section marker.
func HasMarkers(text string) bool {
	upper := strings.ToUpper(text)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// Extract parses verification page text into a field set. It never fails:
// fields that cannot be located or parsed are left absent. rawHTML is only
// kept, bounded, for diagnostics.
func Extract(text, rawHTML string) *models.FieldSet {
	fs := &models.FieldSet{
		RawHTML:     Truncate(rawHTML, MaxRawHTML),
		TextContent: Truncate(text, MaxTextContent),
	}

	if m := reSupplier.FindStringSubmatch(text); m != nil {
		fs.SupplierName = CleanText(m[1])
		fs.SupplierCode = strings.ToUpper(m[2])
	}
	if m := reCustomer.FindStringSubmatch(text); m != nil {
		fs.CustomerName = CleanText(m[1])
		fs.CustomerCode = strings.ToUpper(m[2])
	}
	if m := reInvoiceNumber.FindStringSubmatch(text); m != nil {
		fs.InvoiceNumber = m[1]
	}
	if m := reInvoiceDate.FindStringSubmatch(text); m != nil {
		if d, ok := ParseDate(m[1]); ok {
			fs.InvoiceDate = &d
		}
	}
	if m := reVerification.FindStringSubmatch(text); m != nil {
		fs.VerificationRef = m[1]
	}
	if m := reAmountTTC.FindStringSubmatch(text); m != nil {
		if v, ok := ParseAmount(m[1]); ok {
			fs.AmountTTC = &v
		}
	}
	if m := reAmountHT.FindStringSubmatch(text); m != nil {
		if v, ok := ParseAmount(m[1]); ok {
			fs.AmountHT = &v
		}
	}
	return fs
}

// ParseAmount parses a CFA amount whose digit groups may be separated by
// ordinary, non-breaking or narrow non-breaking spaces. A trailing FCFA or
// CFA unit is ignored.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "FCFA") {
		s = s[:len(s)-4]
	} else if strings.HasSuffix(upper, "CFA") {
		s = s[:len(s)-3]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDate parses a dd/mm/yyyy date.
func ParseDate(s string) (time.Time, bool) {
	d, err := time.Parse("02/01/2006", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// Truncate bounds s to at most n runes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
