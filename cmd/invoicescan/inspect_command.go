package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
	"github.com/Ivory-cocoa/invoice-qr-scanner/scan"
)

func newInspectCommand(cfg *config.Config) *cobra.Command {
	var (
		asJSON  bool
		preview bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Fetch a verification page and show the extracted fields without saving anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			ctx, cancel := context.WithTimeout(ctx, cfg.Browser.NavigationTimeout+cfg.DGI.PageTimeout+cfg.DGI.APITimeout*2)
			defer cancel()

			// Inspect touches neither the store nor the ledger.
			o := scan.New(nil, newPipeline(cfg), nil)
			res, err := o.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printInspection(cmd.OutOrStdout(), res, preview)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw inspection as JSON")
	cmd.Flags().BoolVar(&preview, "preview", false, "Also print the markdown preview of the page")
	return cmd
}

func printInspection(w io.Writer, res *models.InspectResult, withPreview bool) error {
	fmt.Fprintf(w, "URL:        %s\n", res.URL)
	fmt.Fprintf(w, "Identifier: %s\n", orDash(res.VerificationID))
	fmt.Fprintf(w, "Stage:      %s (%d ms)\n\n", res.Stage, res.DurationMs)

	f := res.Fields
	if f == nil {
		f = &models.FieldSet{}
	}
	date := ""
	if f.InvoiceDate != nil {
		date = f.InvoiceDate.Format("02/01/2006")
	}
	rows := [][]string{
		{"Supplier", f.SupplierName, f.SupplierCode},
		{"Customer", f.CustomerName, f.CustomerCode},
		{"Invoice number", f.InvoiceNumber, ""},
		{"Invoice date", date, ""},
		{"Verification ref", f.VerificationRef, ""},
		{"Amount TTC", formatAmount(f.AmountTTC), f.Currency},
		{"Amount HT", formatAmount(f.AmountHT), f.Currency},
	}
	for _, r := range rows {
		r[1] = orDash(r[1])
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value", "Code / unit"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))

	if withPreview && res.Preview != "" {
		fmt.Fprintf(w, "\n%s\n", res.Preview)
	}
	return nil
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
