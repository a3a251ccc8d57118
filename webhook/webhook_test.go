package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
)

func TestNotifySignsAndDelivers(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if sig := r.Header.Get(SignatureHeader); sig != Sign("s3cret", body) {
			t.Errorf("signature = %q, want %q", sig, Sign("s3cret", body))
		}
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		got.Store(ev)
	}))
	defer srv.Close()

	n := NewNotifier(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	n.Notify(&Event{Type: EventScanCreated, OrganizationID: "org-a", RecordID: 4})
	n.Wait()

	ev, ok := got.Load().(Event)
	if !ok {
		t.Fatal("no event received")
	}
	if ev.Type != EventScanCreated || ev.RecordID != 4 || ev.Timestamp == 0 {
		t.Errorf("event = %+v", ev)
	}
}

func TestNotifyRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	n := NewNotifier(config.WebhookConfig{URL: srv.URL})
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	n.Notify(&Event{Type: EventScanError})
	n.Wait()

	if c := calls.Load(); c != 3 {
		t.Errorf("calls = %d, want 3", c)
	}
}

func TestNilNotifier(t *testing.T) {
	n := NewNotifier(config.WebhookConfig{})
	if n != nil {
		t.Fatal("expected nil notifier without URL")
	}
	n.Notify(&Event{Type: EventScanCreated})
	n.Wait()
}
