package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Pipeline runs the retrieval stages in order: the fast path first, then the
// render path when the fast path yields no usable content. A fast path
// failure is never surfaced on its own.
type Pipeline struct {
	fast   Fetcher
	render Fetcher
	memory *HostMemory
}

// NewPipeline creates a Pipeline. Either stage may be nil.
func NewPipeline(fast, render Fetcher) *Pipeline {
	return &Pipeline{fast: fast, render: render}
}

// WithHostMemory lets the pipeline skip the plain page fetch for hosts where
// it recently yielded nothing. The verification API is still tried for every
// identifier. It has no effect without a render path.
func (p *Pipeline) WithHostMemory(m *HostMemory) *Pipeline {
	p.memory = m
	return p
}

func (p *Pipeline) skipPage(rawURL string) bool {
	return p.memory != nil && p.render != nil && p.memory.RenderOnly(rawURL)
}

// Fetch returns the first usable result.
func (p *Pipeline) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if p.fast != nil {
		fastReq := req
		if p.skipPage(req.URL) {
			r := *req
			r.SkipPage = true
			fastReq = &r
			slog.Debug("plain page fetch skipped for host", "url", req.URL)
		}
		res, err := p.fast.Fetch(ctx, fastReq)
		if err == nil && res != nil && res.Fields != nil && res.Fields.Usable() {
			slog.Info("fast path succeeded", "stage", res.Stage, "url", req.URL)
			if p.memory != nil && res.Stage == StageHTTP {
				p.memory.Forget(req.URL)
			}
			return res, nil
		}
		// Only a page fetch that actually ran says anything about the host.
		if p.memory != nil && !fastReq.SkipPage && ctx.Err() == nil {
			p.memory.MarkRenderOnly(req.URL)
		}
		if err != nil && !errors.Is(err, ErrNoContent) {
			slog.Warn("fast path failed, escalating to render path", "url", req.URL, "error", err)
		} else {
			slog.Debug("fast path yielded no usable content, escalating to render path", "url", req.URL)
		}
	}

	if ctx.Err() != nil {
		return nil, renderError(ctx.Err(), "verification lookup aborted")
	}
	if p.render == nil {
		return nil, &FetchError{Type: models.ErrTypeBrowser, Message: unavailableDiagnostic, Err: ErrBrowserUnavailable}
	}

	res, err := p.render.Fetch(ctx, req)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{Type: models.ErrTypeDGIService, Message: "verification page could not be retrieved", Err: err}
	}
	slog.Info("render path succeeded", "url", req.URL)
	return res, nil
}
