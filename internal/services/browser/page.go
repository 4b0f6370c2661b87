package browser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
)

// fingerprintScript reports the browser User-Agent and derives client hints from it.
// Client hints are only produced for Chromium user agents.
const fingerprintScript = `(() => {
	const ua = navigator.userAgent;
	const h = {'User-Agent': ua};
	const m = ua.match(/Chrome\/([\d.]+)/);
	if (!m) { return h; }
	const full = m[1];
	const major = full.split('.')[0];
	const p = navigator.platform || '';
	let name = 'Unknown', version = '10.0.0', arch = 'x86';
	if (p.includes('Win')) { name = 'Windows'; }
	else if (p.includes('Mac')) { name = 'macOS'; version = '15.0.0'; arch = 'arm'; }
	else if (p.includes('Linux')) { name = 'Linux'; version = '6.5.0'; }
	h['sec-ch-ua'] = '"Google Chrome";v="' + major + '", "Chromium";v="' + major + '", "Not A(Brand";v="24"';
	h['sec-ch-ua-mobile'] = '?0';
	h['sec-ch-ua-platform'] = '"' + name + '"';
	h['sec-ch-ua-platform-version'] = '"' + version + '"';
	h['sec-ch-ua-arch'] = '"' + arch + '"';
	h['sec-ch-ua-bitness'] = '"64"';
	h['sec-ch-ua-full-version'] = '"' + full + '"';
	h['sec-ch-ua-full-version-list'] = '"Google Chrome";v="' + full + '", "Chromium";v="' + full + '", "Not A(Brand";v="24.0.0.0"';
	h['sec-ch-ua-model'] = '""';
	return h;
})()`

func fingerprint(ctx context.Context) (map[string]string, error) {
	headers := map[string]string{}
	if err := chromedp.Run(ctx, chromedp.Evaluate(fingerprintScript, &headers)); err != nil {
		return nil, fmt.Errorf("failed to read browser fingerprint: %w", err)
	}
	return headers, nil
}

// exists reports whether the selector matches an element right now, without waiting
func exists(ctx context.Context, selector string) bool {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%s) !== null`, strconv.Quote(selector))
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false
	}
	return found
}

func location(ctx context.Context) string {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

// waitForURL polls the page location until match accepts it
func waitForURL(ctx context.Context, timeout time.Duration, match func(string) bool) (string, error) {
	var loc string
	err := pollUntil(ctx, timeout, 500*time.Millisecond, func(ctx context.Context) (bool, error) {
		loc = location(ctx)
		return match(loc), nil
	})
	if err != nil {
		return loc, fmt.Errorf("waiting for redirect (current page %s): %w", loc, err)
	}
	return loc, nil
}

// isCallbackURL matches {origin}/oauth/** pages of the provider
func isCallbackURL(origin, loc string) bool {
	return strings.HasPrefix(loc, strings.TrimRight(origin, "/")+"/oauth/")
}

// callbackParams extracts the authorization code and state from a callback URL
func callbackParams(loc string) (code, state string) {
	u, err := url.Parse(loc)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("code"), q.Get("state")
}

// parseStoredUser reads the id of the user object a new-api frontend keeps in localStorage
func parseStoredUser(raw string) string {
	if !gjson.Valid(raw) {
		return ""
	}
	return gjson.Get(raw, "id").String()
}

// storedUserID waits for localStorage.user and returns its id, empty when absent
func storedUserID(ctx context.Context, timeout time.Duration) string {
	var raw string
	_ = pollUntil(ctx, timeout, 500*time.Millisecond, func(ctx context.Context) (bool, error) {
		raw = ""
		if err := chromedp.Run(ctx, chromedp.Evaluate(`localStorage.getItem('user') || ''`, &raw)); err != nil {
			return false, nil
		}
		return raw != "", nil
	})
	return parseStoredUser(raw)
}

// fetchJSON runs fetch() inside the page so the request carries the browser's cookies and fingerprint
func fetchJSON(ctx context.Context, target string) (map[string]any, error) {
	script := fmt.Sprintf(`(async () => {
		try {
			const r = await fetch(%s, {credentials: 'include'});
			return await r.json();
		} catch (e) {
			return {success: false, message: String(e)};
		}
	})()`, strconv.Quote(target))

	var result map[string]any
	err := chromedp.Run(ctx, chromedp.Evaluate(script, &result, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return result, nil
}
