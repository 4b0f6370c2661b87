package httpclient

import (
	"math/rand/v2"

	"github.com/ternarybob/checkin/internal/models"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:144.0) Gecko/20100101 Firefox/144.0",
}

// clientHintHeaders are copied from a browser fingerprint only when it exposed sec-ch-ua
var clientHintHeaders = []string{
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-ch-ua-platform-version",
	"sec-ch-ua-arch",
	"sec-ch-ua-bitness",
	"sec-ch-ua-full-version",
	"sec-ch-ua-full-version-list",
	"sec-ch-ua-model",
}

// RandomUserAgent picks one user agent; callers choose once per account-run
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// CommonHeaders builds the per-account-run header set. When the bypass artifact
// carries browser fingerprint headers, its User-Agent (and client hints, if the
// browser exposed them) replace the random choice so the fingerprint stays consistent.
func CommonHeaders(userAgent string, artifact *models.BypassArtifact) map[string]string {
	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en,en-US;q=0.9,zh;q=0.8,en-CN;q=0.7,zh-CN;q=0.6",
		"Cache-Control":   "no-store",
		"Pragma":          "no-cache",
		"User-Agent":      userAgent,
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "same-origin",
	}
	if artifact == nil || len(artifact.FingerprintHeaders) == 0 {
		return headers
	}

	if ua := artifact.FingerprintHeaders["User-Agent"]; ua != "" {
		headers["User-Agent"] = ua
	}
	// Firefox has no client hints; sending them anyway breaks the fingerprint
	if artifact.HasClientHints() {
		for _, name := range clientHintHeaders {
			if v, ok := artifact.FingerprintHeaders[name]; ok {
				headers[name] = v
			}
		}
	}
	return headers
}
