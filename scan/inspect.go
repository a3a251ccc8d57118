package scan

import (
	"context"
	"net/url"

	"github.com/Ivory-cocoa/invoice-qr-scanner/cache"
	"github.com/Ivory-cocoa/invoice-qr-scanner/engine"
	"github.com/Ivory-cocoa/invoice-qr-scanner/extractor"
	"github.com/Ivory-cocoa/invoice-qr-scanner/identifier"
	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Cache status values reported by Inspect.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Inspect runs the fetch pipeline and extraction for a URL without
// persisting anything. The identifier is reported when present but is not
// required.
func (o *Orchestrator) Inspect(ctx context.Context, rawURL string) (*models.InspectResult, error) {
	key := cache.Key(rawURL)
	if o.cache != nil {
		if cached, ok := o.cache.Get(key); ok {
			hit := *cached
			hit.CacheStatus = CacheHit
			return &hit, nil
		}
	}

	start := o.now()
	vid, _ := identifier.Extract(rawURL)
	res, err := o.fetcher.Fetch(ctx, &engine.FetchRequest{URL: rawURL, VerificationID: vid})
	if err != nil {
		return nil, err
	}

	preview, err := extractor.Preview(res.RawHTML, previewDomain(rawURL))
	if err != nil {
		logging.FromContext(ctx).Debug("markdown preview failed", "url", rawURL, "error", err)
		preview = ""
	}

	out := &models.InspectResult{
		URL:            rawURL,
		VerificationID: vid,
		Stage:          res.Stage,
		Fields:         res.Fields,
		TextContent:    res.TextContent,
		Preview:        preview,
		DurationMs:     o.now().Sub(start).Milliseconds(),
		CacheStatus:    CacheMiss,
	}
	if o.cache != nil {
		o.cache.Set(key, out)
	}
	return out, nil
}

func previewDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

