// internal/browser/driver.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
)

// Driver implements schemas.Driver on top of a single chromedp browser
// session (one browser context, one page). It is exclusively owned by the
// currently running automation and must not be shared across runs.
type Driver struct {
	id     string
	ctx    context.Context
	logger *zap.Logger
	cfg    *config.Config

	cancels []context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.Driver = (*Driver)(nil)

// New launches the browser and returns a connected Driver. The supplied
// context bounds the session lifetime; canceling it tears the browser down.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Driver, error) {
	id := uuid.New().String()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.Browser.Width, cfg.Browser.Height),
	)
	if cfg.Browser.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Browser.UserAgent))
	}
	for _, arg := range cfg.Browser.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		id:      id,
		ctx:     browserCtx,
		logger:  logger.Named("browser").With(zap.String("session_id", id)),
		cfg:     cfg,
		cancels: []context.CancelFunc{browserCancel, allocCancel},
	}

	// Establish the CDP connection eagerly so a broken Chrome install fails
	// here instead of mid-run.
	startCtx, cancel := context.WithTimeout(browserCtx, cfg.Network.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	d.logger.Info("Browser session started.", zap.Bool("headless", cfg.Browser.Headless))
	return d, nil
}

// ID returns the unique session identifier.
func (d *Driver) ID() string { return d.id }

// run executes chromedp actions bounded by both the session lifetime and the
// per-call timeout.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	closed := d.isClosed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("browser session %s is closed", d.id)
	}

	runCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the page to settle.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating.", zap.String("url", url))

	if err := d.run(ctx, d.cfg.Network.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := d.WaitForLoad(ctx); err != nil {
		// Non-fatal: dynamic pages keep loading forever, the caller's explicit
		// element waits decide the real outcome.
		d.logger.Debug("Post-navigation settle wait incomplete.", zap.Error(err))
	}
	return nil
}

// WaitForLoad blocks until the document body is ready, then applies the
// configured post-load quiet period.
func (d *Driver) WaitForLoad(ctx context.Context) error {
	actions := chromedp.Tasks{chromedp.WaitReady("body", chromedp.ByQuery)}
	if d.cfg.Network.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(d.cfg.Network.PostLoadWait))
	}
	return d.run(ctx, d.cfg.Network.NavigationTimeout, actions)
}

// CurrentURL returns the page's current location.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Evaluate runs a JavaScript expression in the page.
func (d *Driver) Evaluate(ctx context.Context, expression string, out any) error {
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Close terminates the browser session. Idempotent; safe under a canceled
// parent context because teardown only releases local resources.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil
	}
	d.isClosed = true
	d.mu.Unlock()

	d.logger.Debug("Closing browser session.")

	// Ask the browser to close the page politely, bounded by the caller's
	// context; fall through to a hard cancel regardless.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = chromedp.Cancel(d.ctx)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("Graceful browser close timed out, forcing teardown.")
	}

	d.teardown()
	d.logger.Info("Browser session closed.")
	return nil
}

func (d *Driver) teardown() {
	for _, cancel := range d.cancels {
		cancel()
	}
}

// combineContext derives a context canceled as soon as either input is done.
func combineContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
