package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Pinger checks the record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /api/v1/health.
//
// Reports degraded when the record store does not answer within 2s.
func Health(db Pinger, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, database := "healthy", "ok"
		if err := db.Ping(ctx); err != nil {
			status, database = "degraded", err.Error()
		}

		c.JSON(http.StatusOK, models.OK(models.HealthResponse{
			Status:   status,
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Database: database,
			Version:  Version,
		}))
	}
}
