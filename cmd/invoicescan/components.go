package main

import (
	"context"
	"log/slog"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/engine"
)

// newPipeline wires the fast path and, when enabled, the render path.
func newPipeline(cfg *config.Config) *engine.Pipeline {
	fast := engine.NewHTTPEngine(cfg.DGI)
	var render engine.Fetcher
	if cfg.Browser.Enabled {
		render = engine.NewRodEngine(cfg.Browser)
	} else {
		slog.Warn("render path disabled, client-rendered verification pages will fail")
	}
	return engine.NewPipeline(fast, render)
}

// commandContext returns the command's context or a background one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
