package browser

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/checkin/internal/models"
)

// hostOf returns the host of an origin without port
func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// domainMatches reports whether a cookie domain belongs to the host, in either direction
// of the subdomain relation. A leading dot on the cookie domain is ignored.
func domainMatches(cookieDomain, host string) bool {
	d := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	h := strings.TrimPrefix(strings.ToLower(host), ".")
	if d == "" || h == "" {
		return false
	}
	return d == h || strings.HasSuffix(h, "."+d) || strings.HasSuffix(d, "."+h)
}

// FilterCookies keeps the cookies scoped to the origin's domain and flattens them
func FilterCookies(cookies []models.Cookie, origin string) map[string]string {
	host := hostOf(origin)
	out := make(map[string]string)
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		if domainMatches(c.Domain, host) {
			out[c.Name] = c.Value
		}
	}
	return out
}

// PickCookies returns the named cookies that are present with a value
func PickCookies(cookies []models.Cookie, names []string) map[string]string {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make(map[string]string)
	for _, c := range cookies {
		if wanted[c.Name] && c.Value != "" {
			out[c.Name] = c.Value
		}
	}
	return out
}

// withDefaultScope fills the domain and path of cookies restored without them
func withDefaultScope(cookies []models.Cookie, origin string) []models.Cookie {
	host := hostOf(origin)
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Domain == "" {
			c.Domain = host
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if c.SameSite == "" {
			c.SameSite = "Lax"
		}
		out = append(out, c)
	}
	return out
}

func fromNetworkCookies(cookies []*network.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}

func toCookieParams(cookies []models.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "none":
			p.SameSite = network.CookieSameSiteNone
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// readCookies returns every cookie held by the browser
func readCookies(ctx context.Context) ([]models.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(cookies), nil
}

// writeCookies installs cookies into the browser
func writeCookies(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(toCookieParams(cookies)).Do(ctx)
	}))
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
