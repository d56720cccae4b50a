package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/colligo/internal/models"
)

// Cookies returns all cookies visible to the current browser context
func (d *Driver) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	var captured []*models.Cookie

	err := d.run(ctx, d.opTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}

		captured = make([]*models.Cookie, 0, len(cookies))
		for _, c := range cookies {
			var expires int64
			if c.Expires > 0 {
				expires = int64(c.Expires)
			}
			captured = append(captured, &models.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  expires,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	return captured, nil
}

// SetCookies injects stored cookies into the browser context so a worker can
// reach the target site as an authenticated session. A single cookie failing
// does not abort the batch; the failure count is logged.
func (d *Driver) SetCookies(ctx context.Context, cookies []*models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	err := d.run(ctx, d.opTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			failCount := 0
			for _, c := range cookies {
				var expires *cdp.TimeSinceEpoch
				if c.Expires > 0 {
					expiresTime := time.Unix(c.Expires, 0)
					if expiresTime.After(time.Now()) {
						timestamp := cdp.TimeSinceEpoch(expiresTime)
						expires = &timestamp
					}
				}

				// chromedp rejects the RFC 6265 leading dot
				domain := strings.TrimPrefix(c.Domain, ".")

				param := network.SetCookie(c.Name, c.Value).
					WithDomain(domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithExpires(expires)

				switch strings.ToLower(c.SameSite) {
				case "strict":
					param = param.WithSameSite(network.CookieSameSiteStrict)
				case "lax":
					param = param.WithSameSite(network.CookieSameSiteLax)
				case "none":
					param = param.WithSameSite(network.CookieSameSiteNone)
				}

				if err := param.Do(ctx); err != nil {
					failCount++
					d.logger.Warn().
						Err(err).
						Str("cookie_name", c.Name).
						Str("domain", domain).
						Msg("Failed to inject cookie")
				}
			}

			if failCount > 0 {
				d.logger.Warn().
					Int("failed", failCount).
					Int("total", len(cookies)).
					Msg("Some cookies failed to inject")
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to inject cookies: %w", err)
	}

	d.logger.Debug().
		Int("cookie_count", len(cookies)).
		Msg("Cookies injected into browser")

	return nil
}
