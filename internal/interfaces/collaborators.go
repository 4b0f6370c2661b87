package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/checkin/internal/models"
)

// BypassAcquirer obtains anti-bot bypass cookies and fingerprint headers.
// A nil artifact with a nil error means nothing could be acquired.
type BypassAcquirer interface {
	Acquire(ctx context.Context, provider *models.Provider, proxy string) (*models.BypassArtifact, error)
}

// AuthState is an OAuth state token and the cookies issued alongside it
type AuthState struct {
	State   string
	Cookies []models.Cookie
}

// OAuthRequest describes one identity login for a provider
type OAuthRequest struct {
	Method      models.AuthMethod
	Provider    *models.Provider
	ClientID    string
	State       string
	Credential  models.Credential
	SeedCookies []models.Cookie
	CacheKey    string
	Proxy       string
	AccountName string
}

// OAuthResult is either a completed session (AccountID set) or a deferred
// code/state pair the caller must exchange itself.
type OAuthResult struct {
	Cookies            map[string]string
	AccountID          string
	Code               string
	State              string
	FingerprintHeaders map[string]string
}

// Completed reports whether the flow produced an account id directly
func (r *OAuthResult) Completed() bool {
	return r != nil && r.AccountID != ""
}

// Deferred reports whether the caller must exchange the code
func (r *OAuthResult) Deferred() bool {
	return r != nil && r.AccountID == "" && r.Code != ""
}

// OAuthFlowRunner drives third-party login and authorization-grant flows
type OAuthFlowRunner interface {
	// FetchState obtains an OAuth state through the browser when plain HTTP is rejected
	FetchState(ctx context.Context, provider *models.Provider, proxy string) (*AuthState, error)
	Run(ctx context.Context, req OAuthRequest) (*OAuthResult, error)
}

// ChallengeSolver is invoked during navigation for CAPTCHA or interstitial pages.
// ctx carries the page handle of the browser implementation.
type ChallengeSolver interface {
	MaybeSolve(ctx context.Context) (bool, error)
}

// HTTPClient performs one provider request
type HTTPClient interface {
	Do(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error)
}

// SecretKey is one value a human is asked to supply
type SecretKey struct {
	Name        string
	Description string
}

// SecretSpec describes a human-in-the-loop secret request
type SecretSpec struct {
	Name string
	Keys []SecretKey
}

// SecretBroker retrieves out-of-band secrets such as one-time passwords.
// A nil map with a nil error means the secret was not supplied in time.
type SecretBroker interface {
	Get(ctx context.Context, spec SecretSpec, timeout time.Duration) (map[string]string, error)
}

// NotificationGateway delivers the final run report
type NotificationGateway interface {
	Push(ctx context.Context, title, body string) error
}
