package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ivory-cocoa/invoice-qr-scanner/api/handler"
	"github.com/Ivory-cocoa/invoice-qr-scanner/api/middleware"
	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → RequestID
//	Scanner: Auth → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring checks always work.
func NewRouter(scanner handler.Scanner, db handler.Pinger, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(db, startTime))

	h := handler.NewScannerHandler(scanner, cfg.DGI)
	s := v1.Group("/invoice-scanner")
	s.Use(middleware.Auth(cfg.Auth))
	s.Use(middleware.RateLimit(cfg.RateLimit))

	// Scanning
	s.POST("/scan", h.Scan)
	s.POST("/check", h.Check)
	s.POST("/report-duplicate", h.ReportDuplicate)
	s.POST("/sync", h.Sync)
	s.POST("/inspect", h.Inspect)

	// Lifecycle
	s.POST("/mark-processed/:id", h.MarkProcessed)
	s.POST("/mark-unprocessed/:id", h.MarkUnprocessed)
	s.POST("/bulk-mark-processed", h.BulkMarkProcessed)

	// Errors and retry
	s.GET("/errors", h.Errors)
	s.POST("/errors/bulk-retry", h.BulkRetry)
	s.POST("/errors/:id/retry", h.Retry)

	// Read models
	s.GET("/history", h.History)
	s.GET("/stats", h.Stats)
	s.GET("/invoice/:id", h.Invoice)

	return r
}
