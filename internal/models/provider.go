package models

import (
	"fmt"
	"strings"
)

// BypassMethod names the anti-bot artifact a provider requires before any other request
type BypassMethod string

const (
	BypassNone        BypassMethod = "none"
	BypassWAFCookies  BypassMethod = "waf_cookies"
	BypassCFClearance BypassMethod = "cf_clearance"
)

// ParseBypassMethod accepts the config spellings, empty meaning none
func ParseBypassMethod(s string) (BypassMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return BypassNone, nil
	case string(BypassWAFCookies):
		return BypassWAFCookies, nil
	case string(BypassCFClearance):
		return BypassCFClearance, nil
	}
	return BypassNone, fmt.Errorf("unknown bypass method: %s", s)
}

// Default endpoint templates shared by new-api style providers
const (
	DefaultLoginPath       = "/login"
	DefaultStatusPath      = "/api/status"
	DefaultAuthStatePath   = "/api/oauth/state"
	DefaultUserInfoPath    = "/api/user/self"
	DefaultTopupPath       = "/api/user/topup"
	DefaultSignInPath      = "/api/user/sign_in"
	DefaultAPIUserKey      = "new-api-user"
	DefaultGitHubCallback  = "/api/oauth/github"
	DefaultLinuxDoCallback = "/api/oauth/linuxdo"
	DefaultQuotaDivisor    = 500000.0
)

// DefaultCFCookieNames are the cookies a Cloudflare interstitial issues
var DefaultCFCookieNames = []string{"cf_clearance", "__cf_bm", "cf_chl_2", "cf_chl_prog"}

// CheckInPath is either a static path appended to the origin or a function
// producing a signed URL from the origin and the resolved user id.
type CheckInPath struct {
	static string
	signed func(origin, userID string) string
}

// StaticPath returns a check-in path appended verbatim to the origin
func StaticPath(path string) *CheckInPath {
	return &CheckInPath{static: path}
}

// SignedPath returns a check-in path computed per user
func SignedPath(fn func(origin, userID string) string) *CheckInPath {
	return &CheckInPath{signed: fn}
}

// IsSigned reports whether the path is the function variant
func (p *CheckInPath) IsSigned() bool {
	return p != nil && p.signed != nil
}

// URL resolves the check-in URL
func (p *CheckInPath) URL(origin, userID string) string {
	if p == nil {
		return ""
	}
	if p.signed != nil {
		return p.signed(origin, userID)
	}
	return strings.TrimRight(origin, "/") + p.static
}

// Provider is the immutable capability record of one quota-granting service.
// Sources and Classifier hold ids resolved by the provider registry.
type Provider struct {
	ID                  string
	Origin              string
	LoginPath           string
	StatusPath          string
	AuthStatePath       string
	UserInfoPath        string
	TopupPath           string
	APIUserKey          string
	GitHubCallbackPath  string
	LinuxDoCallbackPath string
	Bypass              BypassMethod
	BypassCookieNames   []string
	GitHubClientID      string
	LinuxDoClientID     string
	CheckIn             *CheckInPath // nil: check-in happens implicitly on user info
	CheckInStatus       string       // status query path, empty when unsupported
	Sources             []string     // ordered CDK source ids
	Classifier          string
	QuotaDivisor        float64
}

func (p *Provider) url(path string) string {
	return strings.TrimRight(p.Origin, "/") + path
}

func (p *Provider) LoginURL() string     { return p.url(p.LoginPath) }
func (p *Provider) StatusURL() string    { return p.url(p.StatusPath) }
func (p *Provider) AuthStateURL() string { return p.url(p.AuthStatePath) }
func (p *Provider) UserInfoURL() string  { return p.url(p.UserInfoPath) }

// TopupURL returns empty when the provider has no top-up endpoint
func (p *Provider) TopupURL() string {
	if p.TopupPath == "" {
		return ""
	}
	return p.url(p.TopupPath)
}

// CallbackURL returns the OAuth callback endpoint for the identity method
func (p *Provider) CallbackURL(method AuthMethod) string {
	switch method {
	case MethodGitHub:
		return p.url(p.GitHubCallbackPath)
	case MethodLinuxDo:
		return p.url(p.LinuxDoCallbackPath)
	}
	return ""
}

// ClientID returns the pinned OAuth client id for the identity method
func (p *Provider) ClientID(method AuthMethod) string {
	switch method {
	case MethodGitHub:
		return p.GitHubClientID
	case MethodLinuxDo:
		return p.LinuxDoClientID
	}
	return ""
}

// CheckInURL resolves the manual check-in URL, empty for implicit providers
func (p *Provider) CheckInURL(userID string) string {
	return p.CheckIn.URL(p.Origin, userID)
}

// NeedsManualCheckIn is false when fetching user info performs the check-in
func (p *Provider) NeedsManualCheckIn() bool {
	return p.CheckIn != nil
}

func (p *Provider) HasCheckInStatusQuery() bool {
	return p.CheckInStatus != ""
}

func (p *Provider) NeedsBypass() bool {
	return p.Bypass != "" && p.Bypass != BypassNone
}

// Divisor returns the quota unit divisor, defaulting to 500000
func (p *Provider) Divisor() float64 {
	if p.QuotaDivisor <= 0 {
		return DefaultQuotaDivisor
	}
	return p.QuotaDivisor
}

// WithDefaults fills unset endpoint templates
func (p Provider) WithDefaults() *Provider {
	if p.LoginPath == "" {
		p.LoginPath = DefaultLoginPath
	}
	if p.StatusPath == "" {
		p.StatusPath = DefaultStatusPath
	}
	if p.AuthStatePath == "" {
		p.AuthStatePath = DefaultAuthStatePath
	}
	if p.UserInfoPath == "" {
		p.UserInfoPath = DefaultUserInfoPath
	}
	if p.TopupPath == "" {
		p.TopupPath = DefaultTopupPath
	}
	if p.APIUserKey == "" {
		p.APIUserKey = DefaultAPIUserKey
	}
	if p.GitHubCallbackPath == "" {
		p.GitHubCallbackPath = DefaultGitHubCallback
	}
	if p.LinuxDoCallbackPath == "" {
		p.LinuxDoCallbackPath = DefaultLinuxDoCallback
	}
	if p.Bypass == "" {
		p.Bypass = BypassNone
	}
	if p.Bypass == BypassCFClearance && len(p.BypassCookieNames) == 0 {
		p.BypassCookieNames = DefaultCFCookieNames
	}
	if p.QuotaDivisor <= 0 {
		p.QuotaDivisor = DefaultQuotaDivisor
	}
	return &p
}
