package scan

import (
	"strings"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// classRules are checked in order; the first class with a matching keyword
// wins.
var classRules = []struct {
	class    string
	keywords []string
}{
	{models.ErrTypeDGIService, []string{"dgi", "fne"}},
	{models.ErrTypeNetwork, []string{"timeout", "timed out", "connection", "network", "réseau", "connexion"}},
	{models.ErrTypeParsing, []string{"parse", "parsing", "extract", "format", "uuid", "url"}},
	{models.ErrTypeInvoiceCreation, []string{"facture", "invoice", "compte", "journal", "partner", "supplier", "fournisseur"}},
	{models.ErrTypeBrowser, []string{"browser", "chromium", "go-rod", "navigateur"}},
}

// ClassifyError maps a free-text error message onto the error taxonomy. It
// is the fallback for records whose class was not known when they failed.
func ClassifyError(message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return models.ErrTypeUnknown
	}
	for _, rule := range classRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.class
			}
		}
	}
	return models.ErrTypeOther
}
