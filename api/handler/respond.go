package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// respondError maps an error to its HTTP status and writes the envelope.
// Errors without a code are internal and their detail is only logged.
func respondError(c *gin.Context, err error) {
	var scanErr *models.ScanError
	if !errors.As(err, &scanErr) {
		logging.FromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		scanErr = models.NewScanError(models.ErrCodeInternal, "internal error", err)
	}
	c.JSON(mapErrorToStatus(scanErr.Code), models.Fail(scanErr.ToDetail(), nil))
}

// respondOutcome writes a terminal outcome that failed as a business result.
// The payload is kept so clients get the record id or duplicate snapshot.
func respondOutcome(c *gin.Context, code, message string, data any) {
	c.JSON(mapErrorToStatus(code), models.Fail(&models.ErrorDetail{Code: code, Message: message}, data))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.Fail(&models.ErrorDetail{
		Code:    models.ErrCodeValidation,
		Message: msg,
	}, nil))
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeInvalidURL, models.ErrCodeValidation, models.ErrCodeLimitExceeded:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeDuplicate, models.ErrCodeInvalidState, models.ErrCodeAlreadyProcessed:
		return http.StatusConflict // 409
	case models.ErrCodeInvoice, models.ErrCodeRetryFailed:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeDGI:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// recordID parses the :id path parameter.
func recordID(c *gin.Context) (int64, bool) {
	return pathID(c, "record id")
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, what+" must be a positive integer")
		return 0, false
	}
	return id, true
}
