// -----------------------------------------------------------------------
// Runner Service - processes every account sequentially and gates notification
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
	"github.com/ternarybob/checkin/internal/providers"
	"github.com/ternarybob/checkin/internal/services/auth"
	"github.com/ternarybob/checkin/internal/services/balance"
	"github.com/ternarybob/checkin/internal/services/changes"
	"github.com/ternarybob/checkin/internal/services/checkin"
	"github.com/ternarybob/checkin/internal/services/redemption"
	"github.com/ternarybob/checkin/internal/services/report"
)

// Dependencies are the stage services a run is composed of
type Dependencies struct {
	Registry   *providers.Registry
	Selector   *auth.Selector
	CheckIn    *checkin.Service
	Redemption *redemption.Service
	Balance    *balance.Service
	Aggregator *report.Aggregator
	Detector   *changes.Detector
	Notifier   interfaces.NotificationGateway // nil disables notification
}

// Service runs one check-in pass over all accounts
type Service struct {
	deps   Dependencies
	title  string
	dryRun bool
	logger arbor.ILogger
}

// NewService creates a runner
func NewService(config *common.Config, deps Dependencies, logger arbor.ILogger) *Service {
	title := config.Notify.Title
	if title == "" {
		title = "Check-in Alert"
	}
	return &Service{
		deps:   deps,
		title:  title,
		dryRun: config.Run.DryRun,
		logger: logger,
	}
}

// Run processes the accounts one at a time, then evaluates the balance hash,
// notifies when warranted and persists the hash. The returned report's
// ExitCode reflects whether any method attempt succeeded.
func (s *Service) Run(ctx context.Context, accounts []common.LoadedAccount) *models.RunReport {
	runID := common.NewRunID()
	started := time.Now()

	base := s.logger
	s.logger = base.WithCorrelationId(runID)
	defer func() { s.logger = base }()

	s.logger.Info().Str("run_id", runID).Int("accounts", len(accounts)).Bool("dry_run", s.dryRun).Msg("Check-in run started")

	reports := make([]models.AccountReport, 0, len(accounts))
	for i := range accounts {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Run cancelled, remaining accounts skipped")
			for j := i; j < len(accounts); j++ {
				reports = append(reports, s.deps.Aggregator.Failed(&accounts[j].Account, "run cancelled"))
			}
			break
		}
		reports = append(reports, s.processAccount(ctx, &accounts[i]))
	}

	result := s.deps.Aggregator.Run(runID, started, time.Now(), reports)
	s.finish(ctx, result)

	s.logger.Info().
		Str("run_id", runID).
		Int("success", result.SuccessCount).
		Int("total", result.TotalCount).
		Str("duration", time.Since(started).Round(time.Millisecond).String()).
		Msg("Check-in run finished")

	return result
}

// processAccount is the failure boundary of one account: panics become a report line
func (s *Service) processAccount(ctx context.Context, loaded *common.LoadedAccount) (rep models.AccountReport) {
	account := &loaded.Account

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("account", account.DisplayName()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic while processing account")
			rep = s.deps.Aggregator.Failed(account, fmt.Sprintf("exception: %v", r))
		}
	}()

	if loaded.Err != nil {
		s.logger.Warn().Str("account", account.DisplayName()).Err(loaded.Err).Msg("Account configuration invalid, skipping")
		return s.deps.Aggregator.Failed(account, models.ReasonOf(loaded.Err))
	}

	provider, ok := s.deps.Registry.Get(account.Provider)
	if !ok {
		s.logger.Warn().Str("account", account.DisplayName()).Str("provider", account.Provider).Msg("Provider configuration not found")
		return s.deps.Aggregator.Failed(account, fmt.Sprintf("Provider '%s' configuration not found", account.Provider))
	}

	s.logger.Info().
		Str("account", account.DisplayName()).
		Str("provider", provider.ID).
		Int("methods", len(account.Methods())).
		Bool("proxy", account.EffectiveProxy() != "").
		Msg("Processing account")

	handler := func(ctx context.Context, method models.AuthMethod, session *models.Session) models.AccountOutcome {
		return s.continueSession(ctx, provider, account, method, session)
	}
	outcomes := s.deps.Selector.Authenticate(ctx, provider, account, handler)
	return s.deps.Aggregator.Account(account, outcomes)
}

// continueSession runs check-in, redemption and balance on an authenticated session
func (s *Service) continueSession(
	ctx context.Context,
	provider *models.Provider,
	account *models.Account,
	method models.AuthMethod,
	session *models.Session,
) models.AccountOutcome {
	outcome := models.AccountOutcome{
		Method:         method,
		SessionSummary: fmt.Sprintf("user %s, %d cookies", session.AccountID, len(session.Cookies)),
	}
	classifier := s.deps.Registry.Classifier(provider)

	result, err := s.deps.CheckIn.Execute(ctx, provider, session, classifier, s.deps.Registry.StatusQuery(provider))
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.CheckIn = result

	sources := s.deps.Registry.Sources(provider, account, session)
	if len(result.EmittedCodes) > 0 {
		emitted := providers.NewStaticSource("checkin_codes", result.EmittedCodes)
		sources = append([]interfaces.CdkSource{emitted}, sources...)
	}
	stats := s.deps.Redemption.Run(ctx, provider, session, classifier, sources)
	outcome.Redemption = stats
	if !stats.Success() {
		outcome.Err = models.NewRedemptionError(stats.Failures[0], nil)
		return outcome
	}

	bal, err := s.deps.Balance.Fetch(ctx, provider, session)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Balance = bal
	outcome.Success = true
	return outcome
}

// finish gates notification on the balance hash and failures, then persists the hash
func (s *Service) finish(ctx context.Context, result *models.RunReport) {
	decision, err := s.deps.Detector.Evaluate(ctx, result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Balance change detection failed, notifying on failures only")
		decision = &changes.Decision{
			Hash:   changes.Hash(changes.Balances(result)),
			Notify: result.HasFailures,
		}
	}

	if s.dryRun {
		s.logger.Info().Bool("would_notify", decision.Notify).Str("hash", decision.Hash).Msg("Dry run, notification and hash persistence skipped")
		return
	}

	if err := s.deps.Detector.Save(ctx, decision.Hash); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist balance hash")
	}

	if !decision.Notify || len(result.Accounts) == 0 {
		s.logger.Info().Msg("All accounts successful and no balance changes detected, notification skipped")
		return
	}
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Push(ctx, s.title, report.Render(result)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send notification")
		return
	}
	s.logger.Info().Msg("Notification sent due to failures or balance changes")
}
