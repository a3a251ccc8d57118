package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
)

const testID = "0a1b2c3d-4e5f-6789-abcd-ef0123456789"

const renderedPage = `<html><body><div id="app">
<p>FOURNISSEUR:</p><p>SOCIETE ABC SARL - 2502298K</p>
<p>NUMERO DE FACTURE:</p><p>FAC2024001234</p>
<p>MONTANT TTC:</p><p>1 677 566 FCFA</p>
</div></body></html>`

const shellPage = `<html><body><div id="app"></div><script>load()</script></body></html>`

func testDGIConfig(base string) config.DGIConfig {
	return config.DGIConfig{
		BaseURL:         base,
		APITimeout:      2 * time.Second,
		PageTimeout:     2 * time.Second,
		ContentSelector: "body",
		UserAgent:       "test-agent",
	}
}

func TestHTTPEngineAPIShape(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		supplier string
		amount   float64
	}{
		{
			name:     "primary shape snake case",
			path:     "/api/verification/" + testID,
			body:     `{"supplier_name":"SOCIETE ABC SARL","amount_ttc":1677566,"invoice_number":"FAC1"}`,
			supplier: "SOCIETE ABC SARL",
			amount:   1677566,
		},
		{
			name:     "secondary shape french keys",
			path:     "/api/v1/verification/" + testID,
			body:     `{"fournisseur":"ICP  SA","montant_ttc":"25 000 FCFA"}`,
			supplier: "ICP SA",
			amount:   25000,
		},
		{
			name:   "camel case amount only",
			path:   "/api/verification/" + testID,
			body:   `{"totalAmount":"42"}`,
			amount: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			e := NewHTTPEngine(testDGIConfig(srv.URL))
			res, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/fr/verification/" + testID, VerificationID: testID})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if res.Stage != StageAPI {
				t.Errorf("Stage = %q, want %q", res.Stage, StageAPI)
			}
			if res.Fields.SupplierName != tt.supplier {
				t.Errorf("SupplierName = %q, want %q", res.Fields.SupplierName, tt.supplier)
			}
			if res.Fields.AmountTTC == nil || *res.Fields.AmountTTC != tt.amount {
				t.Errorf("AmountTTC = %v, want %v", res.Fields.AmountTTC, tt.amount)
			}
		})
	}
}

func TestHTTPEngineFallsBackToPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			// JSON without usable keys.
			fmt.Fprint(w, `{"status":"ok"}`)
			return
		}
		if got := r.Header.Get("Accept-Language"); !strings.HasPrefix(got, "fr-FR") {
			t.Errorf("Accept-Language = %q, want fr-FR first", got)
		}
		fmt.Fprint(w, renderedPage)
	}))
	defer srv.Close()

	e := NewHTTPEngine(testDGIConfig(srv.URL))
	res, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/fr/verification/" + testID, VerificationID: testID})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Stage != StageHTTP {
		t.Errorf("Stage = %q, want %q", res.Stage, StageHTTP)
	}
	if res.Fields.SupplierCode != "2502298K" {
		t.Errorf("SupplierCode = %q, want 2502298K", res.Fields.SupplierCode)
	}
	if res.Fields.InvoiceNumber != "FAC2024001234" {
		t.Errorf("InvoiceNumber = %q", res.Fields.InvoiceNumber)
	}
}

func TestHTTPEngineNoContent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "client rendered shell",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					http.NotFound(w, r)
					return
				}
				fmt.Fprint(w, shellPage)
			},
		},
		{
			name: "server error everywhere",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "api returns array",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					fmt.Fprint(w, `[1,2,3]`)
					return
				}
				w.WriteHeader(http.StatusForbidden)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e := NewHTTPEngine(testDGIConfig(srv.URL))
			_, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/fr/verification/" + testID, VerificationID: testID})
			if !errors.Is(err, ErrNoContent) {
				t.Errorf("err = %v, want ErrNoContent", err)
			}
		})
	}
}

func TestHTTPEngineUnreachableIsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	e := NewHTTPEngine(testDGIConfig(base))
	_, err := e.Fetch(context.Background(), &FetchRequest{URL: base + "/fr/verification/" + testID, VerificationID: testID})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestHTTPEngineSkipPage(t *testing.T) {
	tests := []struct {
		name      string
		apiBody   string
		wantStage string
	}{
		{"api hit", `{"supplier_name":"SOCIETE ABC SARL","amount_ttc":1000}`, StageAPI},
		{"api miss", `{"status":"ok"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pageRequests int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					fmt.Fprint(w, tt.apiBody)
					return
				}
				pageRequests++
				fmt.Fprint(w, renderedPage)
			}))
			defer srv.Close()

			e := NewHTTPEngine(testDGIConfig(srv.URL))
			res, err := e.Fetch(context.Background(), &FetchRequest{
				URL:            srv.URL + "/fr/verification/" + testID,
				VerificationID: testID,
				SkipPage:       true,
			})
			if pageRequests != 0 {
				t.Errorf("page requested %d times, want 0", pageRequests)
			}
			if tt.wantStage == "" {
				if !errors.Is(err, ErrNoContent) {
					t.Errorf("err = %v, want ErrNoContent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if res.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", res.Stage, tt.wantStage)
			}
		})
	}
}
