package models

import "sort"

// Session is the cookie/header/account-identifier bundle produced by an
// authentication method. It is never mutated after creation; Merge and With*
// return new values.
type Session struct {
	Cookies   map[string]string
	Headers   map[string]string
	AccountID string
	Proxy     string
}

// NewSession copies the given maps into a new session
func NewSession(cookies, headers map[string]string, accountID string) *Session {
	return &Session{
		Cookies:   copyMap(cookies),
		Headers:   copyMap(headers),
		AccountID: accountID,
	}
}

// MergeCookies returns the union of base and overlay; overlay wins on collision
func MergeCookies(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// WithCookies returns a copy whose cookies are merged with overlay
func (s *Session) WithCookies(overlay map[string]string) *Session {
	return &Session{
		Cookies:   MergeCookies(s.Cookies, overlay),
		Headers:   copyMap(s.Headers),
		AccountID: s.AccountID,
		Proxy:     s.Proxy,
	}
}

// WithHeaders returns a copy with headers replaced by the overlay on collision
func (s *Session) WithHeaders(overlay map[string]string) *Session {
	return &Session{
		Cookies:   copyMap(s.Cookies),
		Headers:   MergeCookies(s.Headers, overlay),
		AccountID: s.AccountID,
		Proxy:     s.Proxy,
	}
}

// RequestHeaders adds the provider's per-request headers to the session headers
func (s *Session) RequestHeaders(p *Provider) map[string]string {
	h := copyMap(s.Headers)
	if p == nil {
		return h
	}
	if s.AccountID != "" {
		h[p.APIUserKey] = s.AccountID
	}
	h["Referer"] = p.LoginURL()
	h["Origin"] = p.Origin
	return h
}

// CookieNames returns the sorted cookie names, safe to log
func (s *Session) CookieNames() []string {
	names := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BypassArtifact is what a BypassAcquirer returns
type BypassArtifact struct {
	Cookies            map[string]string
	FingerprintHeaders map[string]string
}

// HasClientHints reports whether the browser exposed sec-ch-ua headers
func (b *BypassArtifact) HasClientHints() bool {
	if b == nil {
		return false
	}
	_, ok := b.FingerprintHeaders["sec-ch-ua"]
	return ok
}

// Cookie is a browser cookie with its scope, as exchanged with the browser layer
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite"`
}

// CookieMap flattens scoped cookies into a name/value map
func CookieMap(cookies []Cookie) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
