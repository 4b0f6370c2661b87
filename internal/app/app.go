// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 2:05:11 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
	"github.com/ternarybob/checkin/internal/providers"
	"github.com/ternarybob/checkin/internal/services/auth"
	"github.com/ternarybob/checkin/internal/services/balance"
	"github.com/ternarybob/checkin/internal/services/browser"
	"github.com/ternarybob/checkin/internal/services/changes"
	"github.com/ternarybob/checkin/internal/services/checkin"
	"github.com/ternarybob/checkin/internal/services/notify"
	"github.com/ternarybob/checkin/internal/services/redemption"
	"github.com/ternarybob/checkin/internal/services/report"
	"github.com/ternarybob/checkin/internal/services/runner"
	"github.com/ternarybob/checkin/internal/services/scheduler"
	"github.com/ternarybob/checkin/internal/services/secrets"
	"github.com/ternarybob/checkin/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB        *badger.BadgerDB
	KVStorage interfaces.KeyValueStorage

	HTTPClient *httpclient.Client
	Registry   *providers.Registry

	// Collaborators
	Notifier interfaces.NotificationGateway // nil when no channel is configured
	Secrets  interfaces.SecretBroker        // nil when broker is "none"
	Launcher *browser.Launcher
	Solver   *browser.Solver
	Bypass   *browser.BypassAcquirer
	OAuth    *browser.OAuthRunner

	// Stages
	Selector   *auth.Selector
	CheckIn    *checkin.Service
	Redemption *redemption.Service
	Balance    *balance.Service
	Aggregator *report.Aggregator
	Detector   *changes.Detector

	Runner *runner.Service
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initServices()

	logger.Debug().
		Strs("providers", app.Registry.IDs()).
		Bool("notifier", app.Notifier != nil).
		Bool("secret_broker", app.Secrets != nil).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db
	a.KVStorage = badger.NewKVStorage(db, a.Logger)
	return nil
}

func (a *App) initServices() {
	cfg := a.Config

	opts := []httpclient.ClientOption{
		httpclient.WithTimeout(common.ParseDuration(cfg.HTTP.Timeout, 30*time.Second)),
		httpclient.WithLogger(a.Logger),
	}
	if cfg.HTTP.HostRateLimit > 0 {
		opts = append(opts, httpclient.WithHostRateLimit(cfg.HTTP.HostRateLimit))
	}
	a.HTTPClient = httpclient.NewClient(opts...)

	a.Registry = providers.NewRegistry(a.HTTPClient, a.Logger)
	a.Registry.ApplyOverrides(cfg.Providers)

	a.Notifier = notify.NewGateway(cfg.Notify, a.KVStorage, a.Logger)
	a.Secrets = secrets.NewBroker(cfg.Secrets, a.HTTPClient, a.KVStorage, a.Notifier, a.Logger)

	a.Launcher = browser.NewLauncher(browser.ConfigFromCommon(cfg.Browser), a.Logger)
	a.Solver = browser.NewSolver(a.Logger)
	a.Bypass = browser.NewBypassAcquirer(a.Launcher, a.Solver, a.Logger)
	a.OAuth = browser.NewOAuthRunner(
		a.Launcher,
		a.Solver,
		a.Secrets,
		browser.NewProfileCache(a.KVStorage),
		common.ParseDuration(cfg.Secrets.Timeout, 5*time.Minute),
		a.Logger,
	)

	a.Selector = auth.NewSelector(a.HTTPClient, a.Bypass, a.OAuth, a.Logger)
	a.CheckIn = checkin.NewService(a.HTTPClient, a.Logger)
	a.Redemption = redemption.NewService(a.HTTPClient, a.Logger, common.ParseDuration(cfg.Redemption.Interval, 60*time.Second))
	a.Balance = balance.NewService(a.HTTPClient, a.Logger)
	a.Aggregator = report.NewAggregator(a.Logger)
	a.Detector = changes.NewDetector(a.KVStorage, a.Logger, cfg.Run.BalanceCategory)

	a.Runner = runner.NewService(cfg, runner.Dependencies{
		Registry:   a.Registry,
		Selector:   a.Selector,
		CheckIn:    a.CheckIn,
		Redemption: a.Redemption,
		Balance:    a.Balance,
		Aggregator: a.Aggregator,
		Detector:   a.Detector,
		Notifier:   a.Notifier,
	}, a.Logger)
}

// RunOnce loads the accounts and performs one full check-in run. The error is
// set only when the accounts could not be loaded at all.
func (a *App) RunOnce(ctx context.Context) (*models.RunReport, error) {
	accounts, err := common.LoadAccounts(a.Config)
	if err != nil {
		return nil, err
	}
	return a.Runner.Run(ctx, accounts), nil
}

// Daemon runs the check-in on the configured schedule until ctx is cancelled
func (a *App) Daemon(ctx context.Context) error {
	sched := scheduler.NewService(func(ctx context.Context) error {
		result, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}
		if result.ExitCode() != 0 {
			return errors.New("no authentication method succeeded")
		}
		return nil
	}, a.Logger)

	if err := sched.Start(ctx, a.Config.Scheduler.Schedule); err != nil {
		return err
	}
	defer sched.Stop()

	if a.Config.Scheduler.RunOnStart {
		go sched.Trigger()
	}

	<-ctx.Done()
	a.Logger.Info().Msg("Daemon shutting down")
	return nil
}

// StoredHash returns the persisted balance hash, empty when none exists
func (a *App) StoredHash(ctx context.Context) (string, error) {
	return a.Detector.Previous(ctx)
}

// Close releases the database
func (a *App) Close() error {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		a.Logger.Debug().Msg("Database closed")
	}
	return nil
}
