// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 2:10:00 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/common"
)

// Config holds browser launch and wait settings
type Config struct {
	Headless         bool
	ExecPath         string
	ReadyTimeout     time.Duration // document.readyState poll
	ReadyFallback    time.Duration // fixed wait when the poll times out
	ChallengeTimeout time.Duration // wait for bypass cookies
	LoginTimeout     time.Duration // wait for the OAuth callback
}

// ConfigFromCommon converts the [browser] section into launch settings
func ConfigFromCommon(c common.BrowserConfig) Config {
	return Config{
		Headless:         c.Headless,
		ExecPath:         c.ExecPath,
		ReadyTimeout:     common.ParseDuration(c.ReadyTimeout, 5*time.Second),
		ReadyFallback:    common.ParseDuration(c.ReadyFallback, 3*time.Second),
		ChallengeTimeout: common.ParseDuration(c.ChallengeTimeout, 60*time.Second),
		LoginTimeout:     common.ParseDuration(c.LoginTimeout, 120*time.Second),
	}
}

// Launcher starts one isolated Chrome instance per browser session.
// Sessions never share a profile; persisted state is restored explicitly from the profile cache.
type Launcher struct {
	config Config
	logger arbor.ILogger
}

// NewLauncher creates a launcher
func NewLauncher(config Config, logger arbor.ILogger) *Launcher {
	return &Launcher{config: config, logger: logger}
}

// Config returns the launch settings
func (l *Launcher) Config() Config {
	return l.config
}

// allocatorOptions builds the exec allocator flags for one session
func (l *Launcher) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", l.config.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(1920, 1080),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	return opts
}

// Start launches a browser and returns its context and a release function.
// The release function must always be called; it closes the browser.
func (l *Launcher) Start(ctx context.Context, proxy string) (context.Context, func(), error) {
	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(proxy)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	release := func() {
		browserCancel()
		allocatorCancel()
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		release()
		return nil, nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	l.logger.Debug().
		Bool("headless", l.config.Headless).
		Bool("proxy", proxy != "").
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return browserCtx, release, nil
}

// waitReady polls document.readyState, falling back to a fixed wait
func (l *Launcher) waitReady(ctx context.Context) error {
	if err := pollUntil(ctx, l.config.ReadyTimeout, 250*time.Millisecond, func(ctx context.Context) (bool, error) {
		var state string
		if err := chromedp.Run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return false, nil
		}
		return state == "complete", nil
	}); err == nil {
		return nil
	}
	return sleep(ctx, l.config.ReadyFallback)
}

// pollUntil calls check every interval until it returns true or timeout elapses
func pollUntil(ctx context.Context, timeout, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
