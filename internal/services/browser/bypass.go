package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// BypassAcquirer opens the provider login page in a real browser and collects
// the anti-bot cookies it is issued together with the browser fingerprint.
type BypassAcquirer struct {
	launcher *Launcher
	solver   interfaces.ChallengeSolver
	logger   arbor.ILogger
}

// NewBypassAcquirer creates an acquirer; solver may be nil
func NewBypassAcquirer(launcher *Launcher, solver interfaces.ChallengeSolver, logger arbor.ILogger) *BypassAcquirer {
	return &BypassAcquirer{launcher: launcher, solver: solver, logger: logger}
}

// bypassSatisfied reports whether the picked cookies complete the bypass
func bypassSatisfied(method models.BypassMethod, picked map[string]string) bool {
	switch method {
	case models.BypassCFClearance:
		return picked["cf_clearance"] != ""
	case models.BypassWAFCookies:
		return len(picked) > 0
	}
	return true
}

// Acquire returns nil without error when the browser could not obtain the cookies
func (a *BypassAcquirer) Acquire(ctx context.Context, provider *models.Provider, proxy string) (*models.BypassArtifact, error) {
	if !provider.NeedsBypass() {
		return nil, nil
	}
	config := a.launcher.Config()
	startTime := time.Now()

	a.logger.Info().
		Str("provider", provider.ID).
		Str("bypass", string(provider.Bypass)).
		Bool("proxy", proxy != "").
		Msg("Starting browser to acquire bypass cookies")

	bctx, release, err := a.launcher.Start(ctx, proxy)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(bctx, config.ChallengeTimeout+config.ReadyTimeout+config.ReadyFallback+30*time.Second)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(provider.LoginURL())); err != nil {
		return nil, err
	}
	_ = a.launcher.waitReady(runCtx)

	if a.solver != nil {
		if acted, err := a.solver.MaybeSolve(runCtx); err != nil {
			a.logger.Warn().Str("provider", provider.ID).Err(err).Msg("Challenge solving failed, waiting for cookies anyway")
		} else if acted {
			_ = a.launcher.waitReady(runCtx)
		}
	}

	var picked map[string]string
	waitErr := pollUntil(runCtx, config.ChallengeTimeout, 2*time.Second, func(ctx context.Context) (bool, error) {
		cookies, err := readCookies(ctx)
		if err != nil {
			return false, nil
		}
		picked = PickCookies(cookies, provider.BypassCookieNames)
		return bypassSatisfied(provider.Bypass, picked), nil
	})

	if waitErr != nil || !bypassSatisfied(provider.Bypass, picked) {
		a.logger.Warn().
			Str("provider", provider.ID).
			Strs("cookies", sortedNames(picked)).
			Dur("elapsed", time.Since(startTime)).
			Msg("Bypass cookies not obtained")
		return nil, nil
	}

	headers, err := fingerprint(runCtx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Browser fingerprint unavailable, using random headers")
	}

	a.logger.Info().
		Str("provider", provider.ID).
		Strs("cookies", sortedNames(picked)).
		Bool("client_hints", headers["sec-ch-ua"] != "").
		Dur("elapsed", time.Since(startTime)).
		Msg("Bypass cookies acquired")

	return &models.BypassArtifact{Cookies: picked, FingerprintHeaders: headers}, nil
}
