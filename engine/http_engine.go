package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/extractor"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// HTTPEngine is the fast retrieval path. It tries the verification service's
// JSON endpoints, then falls back to a plain page request. Every failure is
// reported as ErrNoContent so the pipeline can move on to rendering.
type HTTPEngine struct {
	client *http.Client
	cfg    config.DGIConfig
}

// apiShapes are the known direct-data endpoints, relative to the base URL.
var apiShapes = []string{
	"/api/verification/%s",
	"/api/v1/verification/%s",
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine(cfg config.DGIConfig) *HTTPEngine {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &HTTPEngine{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func (e *HTTPEngine) Name() string { return StageHTTP }

func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if req.VerificationID != "" && e.cfg.BaseURL != "" {
		for _, shape := range apiShapes {
			endpoint := strings.TrimRight(e.cfg.BaseURL, "/") + fmt.Sprintf(shape, req.VerificationID)
			res, err := e.fetchAPI(ctx, endpoint)
			if err != nil {
				slog.Debug("verification api lookup failed", "endpoint", endpoint, "error", err)
				continue
			}
			return res, nil
		}
	}

	if req.SkipPage {
		return nil, ErrNoContent
	}
	res, err := e.fetchPage(ctx, req.URL)
	if err != nil {
		slog.Debug("plain page fetch yielded nothing", "url", req.URL, "error", err)
		return nil, ErrNoContent
	}
	return res, nil
}

// fetchAPI requests one JSON endpoint and maps its keys to a field set.
func (e *HTTPEngine) fetchAPI(ctx context.Context, endpoint string) (*FetchResult, error) {
	ctx, cancel := withTimeout(ctx, e.cfg.APITimeout)
	defer cancel()

	body, err := e.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("http_engine: decode json: %w", err)
	}
	fields := fieldsFromJSON(payload)
	if !fields.Usable() {
		return nil, ErrNoContent
	}
	text := extractor.Truncate(string(body), extractor.MaxTextContent)
	fields.TextContent = text
	return &FetchResult{Fields: fields, Stage: StageAPI, TextContent: text}, nil
}

// fetchPage requests the verification page itself and extracts from its
// visible text. Client-rendered pages carry no markers here.
func (e *HTTPEngine) fetchPage(ctx context.Context, pageURL string) (*FetchResult, error) {
	ctx, cancel := withTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	body, err := e.get(ctx, pageURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	rawHTML := string(body)

	text, err := extractor.VisibleText(rawHTML, e.cfg.ContentSelector)
	if err != nil {
		return nil, err
	}
	if !extractor.HasMarkers(text) {
		return nil, ErrNoContent
	}
	fields := extractor.Extract(text, rawHTML)
	return &FetchResult{
		Fields:      fields,
		Stage:       StageHTTP,
		TextContent: fields.TextContent,
		RawHTML:     fields.RawHTML,
	}, nil
}

// withTimeout applies d when positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (e *HTTPEngine) get(ctx context.Context, target, accept string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("http_engine: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http_engine: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http_engine: unexpected status %d", resp.StatusCode)
	}

	const maxBody = 5 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("http_engine: read body: %w", err)
	}
	return body, nil
}

// Key aliases accepted from the direct API, in lookup order.
var (
	supplierKeys = []string{"supplier_name", "fournisseur", "supplierName"}
	amountKeys   = []string{"amount_ttc", "montantTtc", "montant_ttc", "totalAmount"}
	numberKeys   = []string{"invoice_number", "invoiceNumber", "numero_facture"}
)

func fieldsFromJSON(payload map[string]any) *models.FieldSet {
	fs := &models.FieldSet{}
	if v := firstString(payload, supplierKeys); v != "" {
		fs.SupplierName = extractor.CleanText(v)
	}
	if v := firstString(payload, numberKeys); v != "" {
		fs.InvoiceNumber = strings.TrimSpace(v)
	}
	for _, k := range amountKeys {
		raw, ok := payload[k]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			amount := v
			fs.AmountTTC = &amount
		case string:
			if amount, ok := extractor.ParseAmount(v); ok {
				fs.AmountTTC = &amount
			}
		}
		if fs.AmountTTC != nil {
			fs.Currency = "XOF"
			break
		}
	}
	return fs
}

func firstString(payload map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
