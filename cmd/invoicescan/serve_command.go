package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ivory-cocoa/invoice-qr-scanner/accounting"
	"github.com/Ivory-cocoa/invoice-qr-scanner/api"
	"github.com/Ivory-cocoa/invoice-qr-scanner/cache"
	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/engine"
	"github.com/Ivory-cocoa/invoice-qr-scanner/scan"
	"github.com/Ivory-cocoa/invoice-qr-scanner/store"
	"github.com/Ivory-cocoa/invoice-qr-scanner/webhook"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the invoice scanner HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(commandContext(cmd.Context()), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("invoicescan starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"db_driver", cfg.Database.Driver,
		"render", cfg.Browser.Enabled,
	)

	// ── 1. Record store ─────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// ── 2. Fetch pipeline and collaborators ─────────────────────────
	pipeline := newPipeline(cfg)
	if cfg.Browser.Enabled && cfg.DGI.FastPathMemory > 0 {
		memory := engine.NewHostMemory(cfg.DGI.FastPathMemory)
		defer memory.Stop()
		pipeline.WithHostMemory(memory)
	}
	ledger := accounting.NewLedger(st, cfg.Accounting)

	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer cc.Stop()

	opts := []scan.Option{scan.WithCache(cc), scan.WithCurrency(cfg.Accounting.Currency)}
	notifier := webhook.NewNotifier(cfg.Webhook)
	if notifier != nil {
		opts = append(opts, scan.WithNotifier(notifier))
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}

	// ── 3. Orchestrator and router ──────────────────────────────────
	orchestrator := scan.New(st, pipeline, ledger, opts...)
	router := api.NewRouter(orchestrator, st, cfg, time.Now())

	// ── 4. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// A scan with a render session can take over a minute.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	if notifier != nil {
		notifier.Wait()
	}

	slog.Info("invoicescan stopped")
	return nil
}
