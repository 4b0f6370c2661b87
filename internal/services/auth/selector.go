// -----------------------------------------------------------------------
// Authentication Selector - runs every configured login method of an account
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// SessionHandler continues a method's session through check-in, redemption and balance.
// The returned outcome is recorded for the method as is.
type SessionHandler func(ctx context.Context, method models.AuthMethod, session *models.Session) models.AccountOutcome

// Selector authenticates one account with each configured method in turn
type Selector struct {
	http   interfaces.HTTPClient
	bypass interfaces.BypassAcquirer
	oauth  interfaces.OAuthFlowRunner
	logger arbor.ILogger
}

// NewSelector creates a selector. bypass and oauth may be nil when browser
// automation is unavailable; methods that need them then fail individually.
func NewSelector(
	httpClient interfaces.HTTPClient,
	bypass interfaces.BypassAcquirer,
	oauth interfaces.OAuthFlowRunner,
	logger arbor.ILogger,
) *Selector {
	return &Selector{
		http:   httpClient,
		bypass: bypass,
		oauth:  oauth,
		logger: logger,
	}
}

// accountRun is the state shared by the methods of one account-run
type accountRun struct {
	provider  *models.Provider
	account   *models.Account
	proxy     string
	userAgent string

	bypassTried bool
	artifact    *models.BypassArtifact
}

func (r *accountRun) bypassCookies() map[string]string {
	if r.artifact == nil {
		return map[string]string{}
	}
	return r.artifact.Cookies
}

// headers are stable for the account-run once the bypass outcome is known
func (r *accountRun) headers() map[string]string {
	return httpclient.CommonHeaders(r.userAgent, r.artifact)
}

// Authenticate attempts every configured method in fixed order and returns
// one outcome per method. A failing method never prevents the next one.
func (s *Selector) Authenticate(
	ctx context.Context,
	provider *models.Provider,
	account *models.Account,
	handle SessionHandler,
) []models.AccountOutcome {
	run := &accountRun{
		provider:  provider,
		account:   account,
		proxy:     account.EffectiveProxy(),
		userAgent: httpclient.RandomUserAgent(),
	}

	methods := account.Methods()
	outcomes := make([]models.AccountOutcome, 0, len(methods))
	for _, method := range methods {
		outcome := s.attempt(ctx, run, method, handle)
		if outcome.Success {
			s.logger.Info().Str("account", account.DisplayName()).Str("method", string(method)).Msg("Method succeeded")
		} else {
			s.logger.Warn().Str("account", account.DisplayName()).Str("method", string(method)).Str("error", outcome.ErrorText()).Msg("Method failed")
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *Selector) attempt(ctx context.Context, run *accountRun, method models.AuthMethod, handle SessionHandler) (outcome models.AccountOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("account", run.account.DisplayName()).
				Str("method", string(method)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in authentication method")
			outcome = models.Failed(method, models.NewConfigError(fmt.Sprintf("unexpected error: %v", r)))
		}
	}()

	var (
		session *models.Session
		err     error
	)
	switch method {
	case models.MethodCookies:
		session, err = s.cookieSession(ctx, run)
	case models.MethodGitHub, models.MethodLinuxDo:
		session, err = s.oauthSession(ctx, run, method)
	default:
		err = models.NewConfigError("unknown authentication method: " + string(method))
	}
	if err != nil {
		return models.Failed(method, err)
	}

	outcome = handle(ctx, method, session)
	outcome.Method = method
	return outcome
}

// acquireBypass asks the acquirer at most once per account-run; an absent
// result is remembered too and later methods continue without bypass cookies.
func (s *Selector) acquireBypass(ctx context.Context, run *accountRun) {
	if run.bypassTried || !run.provider.NeedsBypass() {
		return
	}
	run.bypassTried = true

	if s.bypass == nil {
		s.logger.Warn().Str("provider", run.provider.ID).Msg("Provider requires bypass cookies but no acquirer is configured")
		return
	}

	artifact, err := s.bypass.Acquire(ctx, run.provider, run.proxy)
	if err != nil {
		s.logger.Warn().Str("provider", run.provider.ID).Err(err).Msg("Unable to get bypass cookies, continuing without them")
		return
	}
	if artifact == nil || len(artifact.Cookies) == 0 {
		s.logger.Warn().Str("provider", run.provider.ID).Msg("No bypass cookies acquired")
		run.artifact = artifact
		return
	}

	run.artifact = artifact
	s.logger.Info().
		Str("provider", run.provider.ID).
		Int("cookies", len(artifact.Cookies)).
		Bool("client_hints", artifact.HasClientHints()).
		Msg("Bypass cookies acquired")
}

func (s *Selector) cookieSession(ctx context.Context, run *accountRun) (*models.Session, error) {
	if run.account.APIUser == "" {
		return nil, models.IncompleteCredentials()
	}
	cookies := run.account.Cookies.Resolve()
	if len(cookies) == 0 {
		return nil, models.NewConfigError("invalid cookies format")
	}

	s.acquireBypass(ctx, run)

	session := models.NewSession(models.MergeCookies(run.bypassCookies(), cookies), run.headers(), run.account.APIUser)
	session.Proxy = run.proxy
	return session, nil
}

func (s *Selector) oauthSession(ctx context.Context, run *accountRun, method models.AuthMethod) (*models.Session, error) {
	cred := run.account.Credential(method)
	if !cred.Complete() {
		return nil, models.IncompleteCredentials()
	}
	if s.oauth == nil {
		return nil, models.NewAuthError(fmt.Sprintf("%s login requires browser automation", methodLabel(method)), nil)
	}

	s.acquireBypass(ctx, run)

	clientID, err := s.resolveClientID(ctx, run, method)
	if err != nil {
		return nil, err
	}

	state, err := s.fetchAuthState(ctx, run)
	if err != nil {
		return nil, err
	}

	seed := append(toBrowserCookies(run.provider.Origin, run.bypassCookies()), state.Cookies...)
	result, err := s.oauth.Run(ctx, interfaces.OAuthRequest{
		Method:      method,
		Provider:    run.provider,
		ClientID:    clientID,
		State:       state.State,
		Credential:  *cred,
		SeedCookies: seed,
		CacheKey:    CacheKey(method, cred.Username),
		Proxy:       run.proxy,
		AccountName: run.account.DisplayName(),
	})
	if err != nil {
		return nil, models.NewAuthError(fmt.Sprintf("%s login failed", methodLabel(method)), err)
	}

	headers := run.headers()
	for k, v := range result.FingerprintHeaders {
		headers[k] = v
	}

	switch {
	case result.Completed():
		session := models.NewSession(models.MergeCookies(run.bypassCookies(), result.Cookies), headers, result.AccountID)
		session.Proxy = run.proxy
		return session, nil
	case result.Deferred():
		jar := models.MergeCookies(models.MergeCookies(run.bypassCookies(), models.CookieMap(state.Cookies)), result.Cookies)
		return s.exchangeCode(ctx, run, method, result, jar, headers)
	}
	return nil, models.NewAuthError(fmt.Sprintf("%s login returned neither a session nor a code", methodLabel(method)), nil)
}

// resolveClientID prefers the pinned id, else reads the provider's status endpoint
func (s *Selector) resolveClientID(ctx context.Context, run *accountRun, method models.AuthMethod) (string, error) {
	if id := run.provider.ClientID(method); id != "" {
		return id, nil
	}

	failed := func(reason string) error {
		return models.NewAuthError(fmt.Sprintf("Failed to get %s client ID: %s", methodLabel(method), reason), nil)
	}

	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodGet,
		URL:     run.provider.StatusURL(),
		Headers: s.anonymousHeaders(run),
		Cookies: run.bypassCookies(),
		Proxy:   run.proxy,
	})
	if err != nil {
		return "", models.NewTransportError(fmt.Sprintf("Failed to get %s client ID", methodLabel(method)), err)
	}
	if resp.Status != http.StatusOK {
		return "", failed(fmt.Sprintf("HTTP %d", resp.Status))
	}
	if !resp.IsJSON() {
		return "", failed("invalid response type")
	}
	if !resp.Get("success").Bool() {
		return "", failed(resp.Message())
	}

	name := statusName(method)
	if !resp.Get("data." + name + "_oauth").Bool() {
		return "", failed(name + " OAuth is not enabled")
	}
	id := resp.Get("data." + name + "_client_id").String()
	if id == "" {
		return "", failed("empty client id")
	}
	return id, nil
}

// fetchAuthState asks the provider for an OAuth state over plain HTTP and falls
// back to the browser when an anti-bot page answers instead of JSON.
func (s *Selector) fetchAuthState(ctx context.Context, run *accountRun) (*interfaces.AuthState, error) {
	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodGet,
		URL:     run.provider.AuthStateURL(),
		Headers: s.anonymousHeaders(run),
		Cookies: run.bypassCookies(),
		Proxy:   run.proxy,
	})
	if err == nil && resp.Status == http.StatusOK && resp.IsJSON() {
		if !resp.Get("success").Bool() {
			return nil, models.NewAuthError("Failed to get auth state: "+resp.Message(), nil)
		}
		state := resp.Get("data").String()
		if state == "" {
			return nil, models.NewAuthError("Failed to get auth state: empty state", nil)
		}
		return &interfaces.AuthState{
			State:   state,
			Cookies: toBrowserCookies(run.provider.Origin, resp.SetCookies),
		}, nil
	}

	switch {
	case err != nil:
		s.logger.Warn().Str("provider", run.provider.ID).Err(err).Msg("Auth state request failed, trying browser")
	default:
		s.logger.Warn().
			Str("provider", run.provider.ID).
			Int("status", resp.Status).
			Str("challenge", string(httpclient.DetectChallenge(resp))).
			Msg("Auth state not returned as JSON, trying browser")
	}

	state, berr := s.oauth.FetchState(ctx, run.provider, run.proxy)
	if berr != nil {
		return nil, models.NewAuthError("Failed to get auth state", berr)
	}
	if state == nil || state.State == "" {
		return nil, models.NewAuthError("Failed to get auth state: empty state", nil)
	}
	return state, nil
}

// exchangeCode completes a deferred grant by calling the provider's OAuth callback
func (s *Selector) exchangeCode(
	ctx context.Context,
	run *accountRun,
	method models.AuthMethod,
	result *interfaces.OAuthResult,
	jar map[string]string,
	headers map[string]string,
) (*models.Session, error) {
	query := url.Values{}
	query.Set("code", result.Code)
	query.Set("state", result.State)
	callback := run.provider.CallbackURL(method) + "?" + query.Encode()

	s.logger.Info().Str("provider", run.provider.ID).Str("method", string(method)).Msg("Received OAuth code, calling callback")

	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodGet,
		URL:     callback,
		Headers: headers,
		Cookies: jar,
		Proxy:   run.proxy,
	})
	if err != nil {
		return nil, models.NewTransportError("OAuth callback error", err)
	}
	if resp.Status != http.StatusOK {
		return nil, models.NewAuthError(fmt.Sprintf("OAuth callback HTTP %d", resp.Status), nil)
	}
	if !resp.IsJSON() || !resp.Get("success").Bool() {
		message := "Invalid response"
		if resp.IsJSON() {
			message = resp.Message()
		}
		return nil, models.NewAuthError("OAuth callback failed: "+message, nil)
	}

	accountID := resp.Get("data.id").String()
	if accountID == "" {
		return nil, models.NewAuthError("No user ID in OAuth callback response", nil)
	}

	s.logger.Debug().Str("provider", run.provider.ID).Strs("cookies", sortedKeys(resp.SetCookies)).Msg("OAuth callback cookies")

	session := models.NewSession(models.MergeCookies(run.bypassCookies(), models.MergeCookies(jar, resp.SetCookies)), headers, accountID)
	session.Proxy = run.proxy
	return session, nil
}

// anonymousHeaders are used before an account id is known
func (s *Selector) anonymousHeaders(run *accountRun) map[string]string {
	h := run.headers()
	h[run.provider.APIUserKey] = "-1"
	h["Referer"] = run.provider.LoginURL()
	h["Origin"] = run.provider.Origin
	return h
}

// CacheKey names the persisted browser profile of an identity without exposing the username
func CacheKey(method models.AuthMethod, username string) string {
	sum := sha256.Sum256([]byte(username))
	return statusName(method) + "_" + hex.EncodeToString(sum[:])[:8]
}

// statusName is the identity provider name used by new-api status fields
func statusName(method models.AuthMethod) string {
	return strings.ReplaceAll(string(method), ".", "")
}

func methodLabel(method models.AuthMethod) string {
	switch method {
	case models.MethodGitHub:
		return "GitHub"
	case models.MethodLinuxDo:
		return "Linux.do"
	}
	return string(method)
}

func toBrowserCookies(origin string, cookies map[string]string) []models.Cookie {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	out := make([]models.Cookie, 0, len(cookies))
	for _, name := range sortedKeys(cookies) {
		out = append(out, models.Cookie{
			Name:     name,
			Value:    cookies[name],
			Domain:   host,
			Path:     "/",
			Secure:   strings.HasPrefix(origin, "https"),
			SameSite: "Lax",
		})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
