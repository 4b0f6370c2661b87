// -----------------------------------------------------------------------
// Redemption Service - sequential, rate limited CDK top-up pipeline
// -----------------------------------------------------------------------

package redemption

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// DefaultInterval separates consecutive top-up calls
const DefaultInterval = 60 * time.Second

// Service pulls tokens from CDK sources and redeems them one at a time
type Service struct {
	http     interfaces.HTTPClient
	logger   arbor.ILogger
	interval time.Duration
}

// NewService creates a redemption service; a non-positive interval disables pacing
func NewService(httpClient interfaces.HTTPClient, logger arbor.ILogger, interval time.Duration) *Service {
	return &Service{
		http:     httpClient,
		logger:   logger,
		interval: interval,
	}
}

// Run drains the sources in order. A Failure stops the current source only;
// a source that errors is ended and reported without counting as a failure.
// The first top-up never waits; each later one waits the full interval,
// counted from the end of the previous top-up.
func (s *Service) Run(
	ctx context.Context,
	provider *models.Provider,
	session *models.Session,
	classifier interfaces.ResponseClassifier,
	sources []interfaces.CdkSource,
) *models.RedemptionStats {
	stats := &models.RedemptionStats{}
	p := &pacer{interval: s.interval}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			stats.SourceErrors = append(stats.SourceErrors, fmt.Sprintf("%s: %v", source.Name(), err))
			break
		}
		s.drain(ctx, provider, session, classifier, source, p, stats)
	}

	if stats.Attempted > 0 || len(stats.SourceErrors) > 0 {
		s.logger.Info().
			Str("provider", provider.ID).
			Int("attempted", stats.Attempted).
			Int("succeeded", stats.Succeeded).
			Int("already_used", stats.AlreadyUsed).
			Int("failures", len(stats.Failures)).
			Int("source_errors", len(stats.SourceErrors)).
			Msg("Redemption completed")
	}
	return stats
}

// pacer holds back every top-up except the first of a run. The bucket is
// drained when a top-up finishes, so the next one waits the full interval.
type pacer struct {
	interval time.Duration
	limiter  *rate.Limiter
}

func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

func (p *pacer) done() {
	if p.interval <= 0 {
		return
	}
	p.limiter = rate.NewLimiter(rate.Every(p.interval), 1)
	p.limiter.Allow()
}

func (s *Service) drain(
	ctx context.Context,
	provider *models.Provider,
	session *models.Session,
	classifier interfaces.ResponseClassifier,
	source interfaces.CdkSource,
	p *pacer,
	stats *models.RedemptionStats,
) {
	for {
		token, ok, err := source.Next(ctx)
		if err != nil {
			s.logger.Warn().Str("source", source.Name()).Err(err).Msg("CDK source failed")
			stats.SourceErrors = append(stats.SourceErrors, fmt.Sprintf("%s: %v", source.Name(), err))
			return
		}
		if !ok {
			return
		}

		if err := p.wait(ctx); err != nil {
			// Token was minted but never sent; surface it so it can be redeemed by hand
			s.logger.Warn().Str("source", source.Name()).Str("code", string(token)).Err(err).Msg("Redemption interrupted, code not redeemed")
			stats.SourceErrors = append(stats.SourceErrors, fmt.Sprintf("%s: interrupted: %v", source.Name(), err))
			return
		}

		outcome := s.redeem(ctx, provider, session, classifier, token)
		p.done()
		stats.Attempted++

		switch outcome.Kind {
		case models.RedemptionSuccess:
			stats.Succeeded++
			s.logger.Info().Str("source", source.Name()).Str("code", token.Masked()).Str("message", outcome.Message).Msg("Topup successful")
		case models.RedemptionAlreadyUsed:
			stats.AlreadyUsed++
			s.logger.Info().Str("source", source.Name()).Str("code", token.Masked()).Msg("Code already used")
		default:
			stats.Failures = append(stats.Failures, outcome.Message)
			s.logger.Warn().Str("source", source.Name()).Str("code", token.Masked()).Str("reason", outcome.Message).Msg("Topup failed, stopping source")
			return
		}
	}
}

func (s *Service) redeem(
	ctx context.Context,
	provider *models.Provider,
	session *models.Session,
	classifier interfaces.ResponseClassifier,
	token models.CdkToken,
) models.RedemptionOutcome {
	target := provider.TopupURL()
	if target == "" {
		return models.RedeemFailed("provider has no topup endpoint")
	}

	headers := session.RequestHeaders(provider)
	headers["Content-Type"] = "application/json"
	headers["Accept"] = "application/json, text/plain, */*"
	headers["Referer"] = provider.Origin + "/console/topup"

	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:   http.MethodPost,
		URL:      target,
		Headers:  headers,
		Cookies:  session.Cookies,
		JSONBody: map[string]string{"key": string(token)},
		Proxy:    session.Proxy,
	})
	if err != nil {
		return models.RedeemFailed(models.ReasonOf(err))
	}
	return classifier.Topup(resp)
}
