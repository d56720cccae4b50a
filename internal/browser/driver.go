// Package browser implements the automation driver contract on top of
// chromedp. Each Driver owns a dedicated Chrome process via its own exec
// allocator, so two drivers never share cookies or storage.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ErrUnavailable indicates the browser failed to launch or navigate
var ErrUnavailable = errors.New("browser unavailable")

// Driver is a chromedp-backed implementation of interfaces.Browser
type Driver struct {
	browserCtx  context.Context
	cancelChain []context.CancelFunc
	navTimeout  time.Duration
	opTimeout   time.Duration
	logger      arbor.ILogger

	closeOnce sync.Once
}

// Factory creates isolated chromedp drivers from browser configuration
type Factory struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewFactory creates a driver factory
func NewFactory(config common.BrowserConfig, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// NewBrowser launches a fresh Chrome instance and verifies it responds
func (f *Factory) NewBrowser(ctx context.Context) (interfaces.Browser, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.config.Headless),
		chromedp.Flag("disable-gpu", f.config.DisableGPU),
		chromedp.Flag("no-sandbox", f.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startupTimeout := f.config.StartupTimeout.Duration()
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("%w: startup test failed: %s", ErrUnavailable, err)
	}

	f.logger.Debug().
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance launched")

	return &Driver{
		browserCtx:  browserCtx,
		cancelChain: []context.CancelFunc{browserCancel, allocatorCancel},
		navTimeout:  f.config.NavTimeout.Duration(),
		opTimeout:   f.config.StartupTimeout.Duration(),
		logger:      f.logger,
	}, nil
}

// run executes chromedp actions against the driver's browser under the
// caller's deadline or the driver default, whichever is tighter.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Navigate loads the URL and waits for the page to settle
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, d.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("%w: navigate %s: %s", ErrUnavailable, url, err)
	}
	return nil
}

// WaitVisible blocks until the selector matches a visible element
func (d *Driver) WaitVisible(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.opTimeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element not visible %q: %w", selector, err)
	}
	return nil
}

// SendKeys types text into the element matching the selector
func (d *Driver) SendKeys(ctx context.Context, selector, text string) error {
	if err := d.run(ctx, d.opTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

// Click clicks the element matching the selector
func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.opTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// CurrentURL returns the current page location
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := d.run(ctx, d.opTimeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return location, nil
}

// PageText returns the visible text of the current page
func (d *Driver) PageText(ctx context.Context) (string, error) {
	var text string
	err := d.run(ctx, d.opTimeout, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// LocalStorage returns the localStorage entries of the current origin
func (d *Driver) LocalStorage(ctx context.Context) (map[string]string, error) {
	entries := make(map[string]string)
	script := `(() => {
		const entries = {};
		for (let i = 0; i < localStorage.length; i++) {
			const key = localStorage.key(i);
			entries[key] = localStorage.getItem(key);
		}
		return entries;
	})()`

	if err := d.run(ctx, d.opTimeout, chromedp.Evaluate(script, &entries)); err != nil {
		return nil, fmt.Errorf("failed to read localStorage: %w", err)
	}
	return entries, nil
}

// Close releases the underlying Chrome process. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		for _, cancel := range d.cancelChain {
			cancel()
		}
		d.logger.Debug().Msg("Browser instance closed")
	})
	return nil
}
