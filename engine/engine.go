package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// Fetcher is the interface that both retrieval paths implement.
type Fetcher interface {
	// Name returns the stage identifier ("http" or "render").
	Name() string

	// Fetch retrieves the verification page and extracts its fields.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything a fetcher needs for one verification URL.
type FetchRequest struct {
	URL            string
	VerificationID string
	// SkipPage limits the fast path to the verification API.
	SkipPage bool
}

// Stage names reported in FetchResult.Stage.
const (
	StageAPI    = "api"
	StageHTTP   = "http"
	StageRender = "render"
)

// FetchResult is the output of a successful fetch.
type FetchResult struct {
	Fields      *models.FieldSet
	Stage       string
	TextContent string
	RawHTML     string
}

var (
	// ErrNoContent means a stage finished without usable fields. It is never
	// surfaced to callers of the pipeline; the next stage runs instead.
	ErrNoContent = errors.New("engine: no usable content")

	// ErrBrowserUnavailable means no headless browser could be found or
	// launched on this host.
	ErrBrowserUnavailable = errors.New("engine: headless browser unavailable")
)

// FetchError is a retrieval failure annotated with its error class.
type FetchError struct {
	Type    string
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorKind returns the error class recorded on the scan record.
func (e *FetchError) ErrorKind() string { return e.Type }

// ErrorKind returns the class of err when it carries one, or "" otherwise.
func ErrorKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ""
}
