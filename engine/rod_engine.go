package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/extractor"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

const bodyTextJS = `() => document.body ? document.body.innerText : ""`

// session is one isolated browser instance holding one page.
type session interface {
	Navigate(ctx context.Context, url string) error
	BodyText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close()
}

type launchFunc func(ctx context.Context) (session, error)

// RodEngine is the render path. Each fetch launches its own headless browser,
// waits for the verification page to populate, and always tears the browser
// down before returning.
type RodEngine struct {
	cfg    config.BrowserConfig
	launch launchFunc
}

// NewRodEngine creates a RodEngine.
func NewRodEngine(cfg config.BrowserConfig) *RodEngine {
	e := &RodEngine{cfg: cfg}
	e.launch = e.launchRod
	return e
}

func (e *RodEngine) Name() string { return StageRender }

func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	// ── 1. Launch with retry ──────────────────────────────────────────
	sess, err := e.launchWithRetry(ctx)
	if err != nil {
		fe := renderError(err, "failed to launch headless browser")
		if fe.Type == models.ErrTypeDGIService {
			fe.Type = models.ErrTypeBrowser
		}
		return nil, fe
	}
	// ── 2. CRITICAL DEFER: the browser never outlives the fetch ──────
	defer sess.Close()

	// ── 3. One deadline for navigation, polling and the final read ───
	sessCtx, cancelSess := withTimeout(ctx, e.sessionTimeout())
	defer cancelSess()

	// ── 4. Navigate and wait for network quiescence ──────────────────
	navCtx, cancel := withTimeout(sessCtx, e.cfg.NavigationTimeout)
	defer cancel()
	if err := sess.Navigate(navCtx, req.URL); err != nil {
		return nil, renderError(err, "navigation to verification page failed")
	}

	// ── 5. Poll until the asynchronous content shows up ──────────────
	text, err := e.pollForMarkers(sessCtx, sess)
	if err != nil {
		return nil, renderError(err, "reading verification page failed")
	}

	// ── 6. Capture markup and extract ────────────────────────────────
	rawHTML, err := sess.HTML(sessCtx)
	if err != nil {
		return nil, renderError(err, "failed to extract page HTML")
	}

	fields := extractor.Extract(text, rawHTML)
	return &FetchResult{
		Fields:      fields,
		Stage:       StageRender,
		TextContent: fields.TextContent,
		RawHTML:     fields.RawHTML,
	}, nil
}

// sessionReadMargin is added to the navigation and poll budgets for the
// evaluations and the final HTML read.
const sessionReadMargin = 15 * time.Second

// sessionTimeout bounds everything done with a launched browser.
func (e *RodEngine) sessionTimeout() time.Duration {
	if e.cfg.SessionTimeout > 0 {
		return e.cfg.SessionTimeout
	}
	polls := max(e.cfg.MaxPolls, 1)
	return e.cfg.NavigationTimeout + time.Duration(polls)*e.cfg.PollInterval + sessionReadMargin
}

// pollForMarkers reads the visible body text until a field marker appears
// or the poll budget runs out. The last text read is returned either way.
func (e *RodEngine) pollForMarkers(ctx context.Context, sess session) (string, error) {
	polls := e.cfg.MaxPolls
	if polls < 1 {
		polls = 1
	}
	var text string
	for i := 1; i <= polls; i++ {
		if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
			return "", err
		}
		t, err := sess.BodyText(ctx)
		if err != nil {
			return "", err
		}
		text = t
		if extractor.HasMarkers(text) {
			slog.Debug("verification content loaded", "poll", i)
			return text, nil
		}
	}
	slog.Warn("verification markers not found, extracting from current content", "polls", polls)
	return text, nil
}

func (e *RodEngine) launchWithRetry(ctx context.Context) (session, error) {
	attempts := e.cfg.LaunchAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sess, err := e.launchAttempt(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("browser launched after retry", "attempt", attempt)
			}
			return sess, nil
		}
		if errors.Is(err, ErrBrowserUnavailable) {
			return nil, err
		}
		lastErr = err
		slog.Warn("browser launch failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts {
			if err := sleepCtx(ctx, e.cfg.LaunchBackoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

var errLaunchTimeout = errors.New("browser launch timed out")

// launchAttempt runs one launch bounded by LaunchTimeout. The launch gets
// its own context, which kills the browser process when cancelled, so it
// stays alive until the session is closed.
func (e *RodEngine) launchAttempt(ctx context.Context) (session, error) {
	launchCtx, cancel := context.WithCancel(ctx)
	if e.cfg.LaunchTimeout <= 0 {
		sess, err := e.launch(launchCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		return &cancelOnClose{session: sess, cancel: cancel}, nil
	}

	type launched struct {
		sess session
		err  error
	}
	done := make(chan launched, 1)
	go func() {
		sess, err := e.launch(launchCtx)
		done <- launched{sess, err}
	}()

	timer := time.NewTimer(e.cfg.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case l := <-done:
		if l.err != nil {
			cancel()
			return nil, l.err
		}
		return &cancelOnClose{session: l.sess, cancel: cancel}, nil
	case <-timer.C:
		err = fmt.Errorf("%w after %s", errLaunchTimeout, e.cfg.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	go func() {
		if l := <-done; l.sess != nil {
			l.sess.Close()
		}
	}()
	return nil, err
}

// cancelOnClose releases the launch context once the session is closed.
type cancelOnClose struct {
	session
	cancel context.CancelFunc
}

func (s *cancelOnClose) Close() {
	s.session.Close()
	s.cancel()
}

func (e *RodEngine) launchRod(ctx context.Context) (session, error) {
	bin := e.cfg.BrowserBin
	if bin != "" {
		if _, err := os.Stat(bin); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBrowserUnavailable, bin)
		}
	} else if found, has := launcher.LookPath(); has {
		bin = found
	} else if !e.cfg.AllowDownload {
		return nil, ErrBrowserUnavailable
	}

	l := launcher.New().
		Context(ctx).
		Headless(e.cfg.Headless).
		NoSandbox(e.cfg.NoSandbox)
	if bin != "" {
		l = l.Bin(bin)
	}

	// ── Container-friendly flags ─────────────────────────────────────
	l.Set(flags.Flag("disable-setuid-sandbox"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("disable-software-rasterizer"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-features"), "VizDisplayCompositor")
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("lang"), e.cfg.Locale)

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, err
	}
	slog.Debug("browser launched", "controlURL", controlURL)
	return &rodSession{launcher: l, browser: browser, cfg: e.cfg}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cfg      config.BrowserConfig
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return err
	}
	s.page = page

	_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.cfg.UserAgent,
		AcceptLanguage: s.cfg.Locale,
	})
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080})
	_ = proto.EmulationSetLocaleOverride{Locale: s.cfg.Locale}.Call(page)
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": acceptLanguage(s.cfg.Locale)}),
	}.Call(page)

	p := page.Context(ctx)

	// The idle waiter must be installed before navigating or in-flight
	// requests are missed.
	waitIdle := p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return err
	}
	waitIdle()
	return ctx.Err()
}

func (s *rodSession) BodyText(ctx context.Context) (string, error) {
	if s.page == nil {
		return "", errors.New("no page open")
	}
	res, err := s.page.Context(ctx).Eval(bodyTextJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	if s.page == nil {
		return "", errors.New("no page open")
	}
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			slog.Debug("cleanup: page close failed", "error", err)
		}
	}
	if err := s.browser.Close(); err != nil {
		slog.Debug("cleanup: browser close failed", "error", err)
	}
	s.launcher.Kill()
	s.launcher.Cleanup()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func acceptLanguage(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	if lang == "" || lang == locale {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9,en;q=0.8", locale, lang)
}

// crashSignatures are lowercase fragments of errors raised when the browser
// process dies under the page.
var crashSignatures = []string{
	"target closed",
	"has been closed",
	"sigtrap",
	"websocket: close",
	"use of closed network connection",
	"session closed",
}

func isCrash(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range crashSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

const crashDiagnostic = "headless browser crashed while rendering the verification page. " +
	"Likely causes: not enough memory, a /dev/shm too small for Chromium " +
	"(run Docker with --shm-size=256m) or a broken Chromium install"

const unavailableDiagnostic = "no headless browser available on this server. " +
	"Install Chromium or set INVOICESCAN_BROWSER_BIN"

// renderError annotates a render failure with its error class. A crash keeps
// the browser class and carries an actionable diagnostic.
func renderError(err error, msg string) *FetchError {
	switch {
	case errors.Is(err, ErrBrowserUnavailable):
		return &FetchError{Type: models.ErrTypeBrowser, Message: unavailableDiagnostic, Err: err}
	case isCrash(err):
		return &FetchError{Type: models.ErrTypeBrowser, Message: crashDiagnostic, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &FetchError{Type: models.ErrTypeNetwork, Message: msg + " (timeout)", Err: err}
	case errors.Is(err, context.Canceled):
		return &FetchError{Type: models.ErrTypeNetwork, Message: "request canceled", Err: err}
	default:
		return &FetchError{Type: models.ErrTypeDGIService, Message: msg, Err: err}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
