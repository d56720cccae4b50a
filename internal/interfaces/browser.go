package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Browser is the automation driver contract consumed by the login state
// machine and the worker pool. Every call may time out or fail with a
// navigation/element error; implementations must be safe to Close more than
// once. A Browser is exclusively owned by one auth session or one in-flight
// task at a time - never shared across concurrent operations.
type Browser interface {
	// Navigate loads the URL and waits for the page to settle
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector matches a visible element
	WaitVisible(ctx context.Context, selector string) error

	// SendKeys types text into the element matching the selector
	SendKeys(ctx context.Context, selector, text string) error

	// Click clicks the element matching the selector
	Click(ctx context.Context, selector string) error

	// CurrentURL returns the current page location
	CurrentURL(ctx context.Context) (string, error)

	// PageText returns the visible text of the current page
	PageText(ctx context.Context) (string, error)

	// Cookies returns all cookies visible to the current browser context
	Cookies(ctx context.Context) ([]*models.Cookie, error)

	// SetCookies injects stored cookies so subsequent navigation is authenticated
	SetCookies(ctx context.Context, cookies []*models.Cookie) error

	// LocalStorage returns the localStorage entries of the current origin
	LocalStorage(ctx context.Context) (map[string]string, error)

	// Close releases the underlying browser resource. Idempotent.
	Close() error
}

// BrowserFactory creates isolated browser instances. The worker pool and the
// login flow each obtain their own instance so sessions never share state.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}
