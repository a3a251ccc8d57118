package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const apiPrefix = "/api/v1/invoice-scanner"

// envelope mirrors the scanner API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// scanResult mirrors the fields of a scan outcome the tools report.
type scanResult struct {
	Success        bool   `json:"success"`
	ErrorCode      string `json:"error_code"`
	Message        string `json:"message"`
	RecordID       int64  `json:"record_id"`
	DuplicateCount int    `json:"duplicate_count"`
	Record         *struct {
		ID            int64    `json:"id"`
		Reference     string   `json:"reference"`
		State         string   `json:"state"`
		SupplierName  string   `json:"supplier_name"`
		InvoiceNumber string   `json:"invoice_number_dgi"`
		AmountTTC     *float64 `json:"amount_ttc"`
		Currency      string   `json:"currency"`
		InvoiceName   string   `json:"invoice_name"`
	} `json:"record"`
}

type client struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func main() {
	apiURL := os.Getenv("INVOICESCAN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("INVOICESCAN_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "INVOICESCAN_API_KEY is required")
		os.Exit(1)
	}
	c := &client{
		// A scan may launch a headless browser and poll for half a minute.
		http:   &http.Client{Timeout: 180 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
	}

	s := server.NewMCPServer(
		"invoicescan",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scanTool := mcp.NewTool("scan_invoice",
		mcp.WithDescription("Scan a DGI invoice verification URL (the content of the invoice QR code). Fetches the verification page, extracts supplier, amount and invoice number, and creates the supplier bill. Rescanning an invoice reports a duplicate."),
		mcp.WithString("qr_url",
			mcp.Required(),
			mcp.Description("The URL decoded from the invoice QR code"),
		),
	)
	s.AddTool(scanTool, c.handleScan)

	checkTool := mcp.NewTool("check_duplicate",
		mcp.WithDescription("Check whether an invoice QR code was already scanned successfully, without recording anything."),
		mcp.WithString("qr_url",
			mcp.Required(),
			mcp.Description("The URL decoded from the invoice QR code"),
		),
	)
	s.AddTool(checkTool, c.handleCheck)

	inspectTool := mcp.NewTool("inspect_invoice",
		mcp.WithDescription("Fetch a verification page and return the extracted fields and a markdown preview. Nothing is saved."),
		mcp.WithString("qr_url",
			mcp.Required(),
			mcp.Description("The URL decoded from the invoice QR code"),
		),
	)
	s.AddTool(inspectTool, c.handleInspect)

	errorsTool := mcp.NewTool("list_scan_errors",
		mcp.WithDescription("List failed scans with their error class and whether invoice creation can be retried."),
		mcp.WithNumber("page", mcp.Description("Page number (default: 1)")),
		mcp.WithNumber("limit", mcp.Description("Records per page (default: 20, max: 100)")),
		mcp.WithBoolean("retry_possible", mcp.Description("Only list records whose invoice creation can be retried")),
	)
	s.AddTool(errorsTool, c.handleErrors)

	retryTool := mcp.NewTool("retry_invoice",
		mcp.WithDescription("Retry invoice creation for a failed scan record. The verification page is not fetched again."),
		mcp.WithNumber("record_id",
			mcp.Required(),
			mcp.Description("Id of the scan record in error"),
		),
	)
	s.AddTool(retryTool, c.handleRetry)

	statsTool := mcp.NewTool("scan_stats",
		mcp.WithDescription("Show scan statistics: successful, processed, duplicate and failed scans and the total amount."),
	)
	s.AddTool(statsTool, c.handleStats)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do calls the scanner API and decodes the envelope. A nil payload sends no
// body.
func (c *client) do(ctx context.Context, method, path string, payload any) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	return &env, nil
}

func (c *client) handleScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	qrURL, err := request.RequireString("qr_url")
	if err != nil {
		return mcp.NewToolResultError("qr_url is required"), nil
	}
	env, err := c.do(ctx, http.MethodPost, "/scan", map[string]string{"qr_url": qrURL})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var res scanResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse scan result: %v", err)), nil
		}
	}
	if !env.Success {
		return mcp.NewToolResultError(describeFailure(env, &res)), nil
	}
	return mcp.NewToolResultText(describeSuccess(&res)), nil
}

func describeSuccess(res *scanResult) string {
	r := res.Record
	if r == nil {
		return "invoice scanned"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scan %s created bill %s\n", r.Reference, r.InvoiceName)
	fmt.Fprintf(&b, "Supplier: %s\n", r.SupplierName)
	if r.InvoiceNumber != "" {
		fmt.Fprintf(&b, "Invoice number: %s\n", r.InvoiceNumber)
	}
	if r.AmountTTC != nil {
		fmt.Fprintf(&b, "Amount TTC: %.0f %s\n", *r.AmountTTC, r.Currency)
	}
	return b.String()
}

func describeFailure(env *envelope, res *scanResult) string {
	msg := "scan failed"
	if env.Error != nil {
		msg = fmt.Sprintf("[%s] %s", env.Error.Code, env.Error.Message)
	}
	switch {
	case res.DuplicateCount > 0 && res.Record != nil:
		msg += fmt.Sprintf(" (record %s, scanned %d extra times)", res.Record.Reference, res.DuplicateCount)
	case res.RecordID > 0:
		msg += fmt.Sprintf(" (error record %d, retry with retry_invoice)", res.RecordID)
	}
	return msg
}

func (c *client) handleCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	qrURL, err := request.RequireString("qr_url")
	if err != nil {
		return mcp.NewToolResultError("qr_url is required"), nil
	}
	return c.forward(ctx, http.MethodPost, "/check", map[string]string{"qr_url": qrURL})
}

func (c *client) handleInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	qrURL, err := request.RequireString("qr_url")
	if err != nil {
		return mcp.NewToolResultError("qr_url is required"), nil
	}
	return c.forward(ctx, http.MethodPost, "/inspect", map[string]string{"qr_url": qrURL})
}

func (c *client) handleErrors(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := url.Values{}
	if page := request.GetInt("page", 0); page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit := request.GetInt("limit", 0); limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if request.GetBool("retry_possible", false) {
		q.Set("retry_possible", "true")
	}
	path := "/errors"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.forward(ctx, http.MethodGet, path, nil)
}

func (c *client) handleRetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetInt("record_id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("record_id must be a positive integer"), nil
	}
	return c.forward(ctx, http.MethodPost, fmt.Sprintf("/errors/%d/retry", id), nil)
}

func (c *client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.forward(ctx, http.MethodGet, "/stats", nil)
}

// forward returns the response data as indented JSON.
func (c *client) forward(ctx context.Context, method, path string, payload any) (*mcp.CallToolResult, error) {
	env, err := c.do(ctx, method, path, payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !env.Success {
		msg := "request failed"
		if env.Error != nil {
			msg = fmt.Sprintf("[%s] %s", env.Error.Code, env.Error.Message)
		}
		return mcp.NewToolResultError(msg), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, env.Data, "", "  "); err != nil {
		return mcp.NewToolResultText(string(env.Data)), nil
	}
	return mcp.NewToolResultText(out.String()), nil
}
