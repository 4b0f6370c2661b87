package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// identity describes the browser side of one OAuth identity provider
type identity struct {
	label           string
	endpoint        oauth2.Endpoint
	scopes          []string
	loginURL        string
	approveSelector string
}

var identities = map[models.AuthMethod]identity{
	models.MethodGitHub: {
		label: "GitHub",
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		scopes:          []string{"user:email"},
		loginURL:        "https://github.com/login",
		approveSelector: `button[name="authorize"], #js-oauth-authorize-btn`,
	},
	models.MethodLinuxDo: {
		label: "Linux.do",
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://connect.linux.do/oauth2/authorize",
			TokenURL: "https://connect.linux.do/oauth2/token",
		},
		loginURL:        "https://linux.do/login",
		approveSelector: `a[href^="/oauth2/approve"]`,
	},
}

// AuthorizeURL builds the identity provider authorize URL for a provider's client id and state
func AuthorizeURL(method models.AuthMethod, clientID, state string) (string, error) {
	id, ok := identities[method]
	if !ok {
		return "", fmt.Errorf("unsupported OAuth method: %s", method)
	}
	config := &oauth2.Config{
		ClientID: clientID,
		Endpoint: id.endpoint,
		Scopes:   id.scopes,
	}
	return config.AuthCodeURL(state), nil
}

// OAuthRunner drives identity logins and authorization grants in Chrome
type OAuthRunner struct {
	launcher   *Launcher
	solver     interfaces.ChallengeSolver
	secrets    interfaces.SecretBroker
	profiles   *ProfileCache
	otpTimeout time.Duration
	logger     arbor.ILogger
}

// NewOAuthRunner creates a runner. solver and secrets may be nil.
func NewOAuthRunner(
	launcher *Launcher,
	solver interfaces.ChallengeSolver,
	secrets interfaces.SecretBroker,
	profiles *ProfileCache,
	otpTimeout time.Duration,
	logger arbor.ILogger,
) *OAuthRunner {
	return &OAuthRunner{
		launcher:   launcher,
		solver:     solver,
		secrets:    secrets,
		profiles:   profiles,
		otpTimeout: otpTimeout,
		logger:     logger,
	}
}

// openLogin navigates to the provider login page and clears any challenge on it
func (r *OAuthRunner) openLogin(ctx context.Context, provider *models.Provider) error {
	if err := chromedp.Run(ctx, chromedp.Navigate(provider.LoginURL())); err != nil {
		return err
	}
	_ = r.launcher.waitReady(ctx)
	if r.solver != nil {
		if acted, err := r.solver.MaybeSolve(ctx); err != nil {
			r.logger.Warn().Str("provider", provider.ID).Err(err).Msg("Challenge solving failed")
		} else if acted {
			_ = r.launcher.waitReady(ctx)
		}
	}
	return nil
}

// FetchState obtains an OAuth state from inside the browser, for providers whose
// anti-bot layer rejects plain HTTP clients
func (r *OAuthRunner) FetchState(ctx context.Context, provider *models.Provider, proxy string) (*interfaces.AuthState, error) {
	bctx, release, err := r.launcher.Start(ctx, proxy)
	if err != nil {
		return nil, err
	}
	defer release()

	config := r.launcher.Config()
	runCtx, cancel := context.WithTimeout(bctx, config.ChallengeTimeout+config.ReadyTimeout+config.ReadyFallback+30*time.Second)
	defer cancel()

	if err := r.openLogin(runCtx, provider); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	result, err := fetchJSON(runCtx, provider.AuthStateURL())
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	state, _ := result["data"].(string)
	if state == "" {
		msg, _ := result["message"].(string)
		return nil, fmt.Errorf("failed to get state: %s", msg)
	}

	cookies, err := readCookies(runCtx)
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("provider", provider.ID).Int("cookies", len(cookies)).Msg("OAuth state obtained in browser")
	return &interfaces.AuthState{State: state, Cookies: scopedCookies(cookies, provider.Origin)}, nil
}

// Run restores the cached identity session, logs in when the cache does not
// yield an authorized state, approves the grant and waits for the provider callback.
func (r *OAuthRunner) Run(ctx context.Context, req interfaces.OAuthRequest) (*interfaces.OAuthResult, error) {
	id, ok := identities[req.Method]
	if !ok {
		return nil, fmt.Errorf("unsupported OAuth method: %s", req.Method)
	}
	authorizeURL, err := AuthorizeURL(req.Method, req.ClientID, req.State)
	if err != nil {
		return nil, err
	}
	provider := req.Provider
	logger := r.logger.WithCorrelationId(req.CacheKey)

	bctx, release, err := r.launcher.Start(ctx, req.Proxy)
	if err != nil {
		return nil, err
	}
	defer release()

	config := r.launcher.Config()
	runCtx, cancel := context.WithTimeout(bctx, 2*config.LoginTimeout+r.otpTimeout)
	defer cancel()

	cached, err := r.profiles.Load(runCtx, req.CacheKey)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load cached browser profile")
	}
	if len(cached) > 0 {
		if err := writeCookies(runCtx, withDefaultScope(cached, provider.Origin)); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore cached cookies")
		} else {
			logger.Info().Int("cookies", len(cached)).Msg("Restored cached browser profile")
		}
	}
	if err := writeCookies(runCtx, withDefaultScope(req.SeedCookies, provider.Origin)); err != nil {
		return nil, fmt.Errorf("failed to set auth cookies: %w", err)
	}

	authorized := false
	if len(cached) > 0 {
		authorized = r.tryAuthorize(runCtx, id, authorizeURL, provider.Origin)
		logger.Info().Bool("authorized", authorized).Msg("Checked cached login state")
	}

	if !authorized {
		if err := r.login(runCtx, req, id); err != nil {
			return nil, fmt.Errorf("%s sign-in error: %w", id.label, err)
		}
		if err := r.saveProfile(runCtx, req.CacheKey); err != nil {
			logger.Warn().Err(err).Msg("Failed to save browser profile")
		}
		if err := chromedp.Run(runCtx, chromedp.Navigate(authorizeURL)); err != nil {
			return nil, fmt.Errorf("%s authorization page navigation failed: %w", id.label, err)
		}
		_ = r.launcher.waitReady(runCtx)
		r.approve(runCtx, id, provider.Origin)
	}

	loc, err := waitForURL(runCtx, config.LoginTimeout, func(loc string) bool {
		return isCallbackURL(provider.Origin, loc)
	})
	if err != nil {
		return nil, fmt.Errorf("%s authorization failed: %w", id.label, err)
	}

	cookies, err := readCookies(runCtx)
	if err != nil {
		return nil, err
	}
	headers, _ := fingerprint(runCtx)

	result := &interfaces.OAuthResult{
		Cookies:            FilterCookies(cookies, provider.Origin),
		AccountID:          storedUserID(runCtx, 10*time.Second),
		FingerprintHeaders: headers,
	}
	if result.AccountID == "" {
		result.Code, result.State = callbackParams(loc)
		if result.Code == "" {
			return nil, fmt.Errorf("%s OAuth failed - no code in callback", id.label)
		}
		logger.Info().Msg("OAuth callback carried a code, exchange deferred")
		return result, nil
	}

	logger.Info().Str("account_id", result.AccountID).Int("cookies", len(result.Cookies)).Msg("OAuth authorization successful")
	return result, nil
}

// tryAuthorize opens the authorize URL with restored cookies and approves when the
// identity provider already recognizes the session
func (r *OAuthRunner) tryAuthorize(ctx context.Context, id identity, authorizeURL, origin string) bool {
	if err := chromedp.Run(ctx, chromedp.Navigate(authorizeURL)); err != nil {
		return false
	}
	_ = r.launcher.waitReady(ctx)
	if strings.HasPrefix(location(ctx), strings.TrimRight(origin, "/")) {
		return true
	}
	return r.approve(ctx, id, origin)
}

// approve clicks the grant button when the identity provider shows one
func (r *OAuthRunner) approve(ctx context.Context, id identity, origin string) bool {
	if strings.HasPrefix(location(ctx), strings.TrimRight(origin, "/")) {
		return true
	}
	if !exists(ctx, id.approveSelector) {
		return false
	}
	clickCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return chromedp.Run(clickCtx, chromedp.Click(id.approveSelector, chromedp.ByQuery)) == nil
}

func (r *OAuthRunner) login(ctx context.Context, req interfaces.OAuthRequest, id identity) error {
	if err := chromedp.Run(ctx, chromedp.Navigate(id.loginURL)); err != nil {
		return err
	}
	_ = r.launcher.waitReady(ctx)

	switch req.Method {
	case models.MethodGitHub:
		return r.loginGitHub(ctx, req)
	case models.MethodLinuxDo:
		return r.loginLinuxDo(ctx, req, id)
	}
	return fmt.Errorf("unsupported OAuth method: %s", req.Method)
}

func (r *OAuthRunner) loginGitHub(ctx context.Context, req interfaces.OAuthRequest) error {
	stepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := chromedp.Run(stepCtx,
		chromedp.SendKeys("#login_field", req.Credential.Username, chromedp.ByQuery),
		chromedp.SendKeys("#password", req.Credential.Password, chromedp.ByQuery),
		chromedp.Click(`input[type="submit"][name="commit"]`, chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return err
	}
	if err := sleep(ctx, 10*time.Second); err != nil {
		return err
	}

	const otpSelector = `input[name="otp"], #app_totp`
	if !exists(ctx, otpSelector) {
		return nil
	}

	r.logger.Info().Str("account", req.AccountName).Msg("Two-factor authentication required")
	otp := r.requestOTP(ctx)
	if otp == "" {
		r.logger.Info().Str("account", req.AccountName).Msg("Please enter OTP manually in the browser")
		return sleep(ctx, 30*time.Second)
	}

	stepCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(stepCtx, chromedp.SendKeys(otpSelector, otp, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to fill OTP: %w", err)
	}
	if exists(ctx, `button[type="submit"]`) {
		_ = chromedp.Run(stepCtx, chromedp.Click(`button[type="submit"]`, chromedp.ByQuery))
	}
	return sleep(ctx, 5*time.Second)
}

// requestOTP asks the secret broker for the one-time password, empty when unavailable
func (r *OAuthRunner) requestOTP(ctx context.Context) string {
	if r.secrets == nil {
		return ""
	}
	values, err := r.secrets.Get(ctx, interfaces.SecretSpec{
		Name: "GitHub 2FA OTP",
		Keys: []interfaces.SecretKey{{Name: "OTP", Description: "OTP from authenticator app"}},
	}, r.otpTimeout)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Secret broker failed to provide OTP")
		return ""
	}
	return strings.TrimSpace(values["OTP"])
}

func (r *OAuthRunner) loginLinuxDo(ctx context.Context, req interfaces.OAuthRequest, id identity) error {
	stepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := chromedp.Run(stepCtx,
		chromedp.SendKeys("#login-account-name", req.Credential.Username, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.SendKeys("#login-account-password", req.Credential.Password, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Click("#login-button", chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return err
	}
	if err := sleep(ctx, 10*time.Second); err != nil {
		return err
	}

	if !strings.Contains(location(ctx), "linux.do/challenge") {
		return nil
	}
	r.logger.Warn().Str("account", req.AccountName).Msg("Cloudflare challenge detected after login")
	if r.solver != nil {
		if _, err := r.solver.MaybeSolve(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Challenge solving failed, waiting for manual intervention")
		}
	}
	challengeTimeout := r.launcher.Config().ChallengeTimeout
	if err := pollUntil(ctx, challengeTimeout, 2*time.Second, func(ctx context.Context) (bool, error) {
		return !strings.Contains(location(ctx), "linux.do/challenge") || exists(ctx, id.approveSelector), nil
	}); err != nil {
		return fmt.Errorf("cloudflare challenge not completed: %w", err)
	}
	return nil
}

func (r *OAuthRunner) saveProfile(ctx context.Context, cacheKey string) error {
	cookies, err := readCookies(ctx)
	if err != nil {
		return err
	}
	return r.profiles.Save(ctx, cacheKey, cookies)
}

// scopedCookies keeps the cookies whose domain belongs to the origin
func scopedCookies(cookies []models.Cookie, origin string) []models.Cookie {
	host := hostOf(origin)
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if domainMatches(c.Domain, host) {
			out = append(out, c)
		}
	}
	return out
}
