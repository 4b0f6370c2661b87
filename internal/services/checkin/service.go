// -----------------------------------------------------------------------
// Check-in Service - idempotent daily check-in against a provider
// -----------------------------------------------------------------------

package checkin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// Service issues the check-in call when a provider requires one
type Service struct {
	http   interfaces.HTTPClient
	logger arbor.ILogger
}

// NewService creates a new check-in service
func NewService(httpClient interfaces.HTTPClient, logger arbor.ILogger) *Service {
	return &Service{
		http:   httpClient,
		logger: logger,
	}
}

// Execute performs the check-in for one session.
// When status is non-nil it is consulted first and an already checked-in account
// skips the mutating call. Providers without a check-in path report an implicit success.
func (s *Service) Execute(
	ctx context.Context,
	provider *models.Provider,
	session *models.Session,
	classifier interfaces.ResponseClassifier,
	status interfaces.CheckInStatusQuery,
) (*models.CheckInResult, error) {
	if !provider.NeedsManualCheckIn() {
		s.logger.Debug().Str("provider", provider.ID).Msg("Check-in completed implicitly by user info request")
		return &models.CheckInResult{
			Success:  true,
			Implicit: true,
			Message:  "Check-in completed automatically",
		}, nil
	}

	if status != nil {
		checked, err := status.CheckedInToday(ctx, provider, session)
		switch {
		case err != nil:
			s.logger.Warn().Str("provider", provider.ID).Err(err).Msg("Check-in status query failed, checking in anyway")
		case checked:
			s.logger.Info().Str("provider", provider.ID).Msg("Already checked in today, skipping check-in")
			return &models.CheckInResult{
				Success:     true,
				AlreadyDone: true,
				Message:     "Already checked in today",
			}, nil
		}
	}

	target := provider.CheckInURL(session.AccountID)
	if target == "" {
		return nil, models.NewConfigError("no check-in URL configured")
	}

	headers := session.RequestHeaders(provider)
	headers["Content-Type"] = "application/json"
	headers["X-Requested-With"] = "XMLHttpRequest"

	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers,
		Cookies: session.Cookies,
		Proxy:   session.Proxy,
	})
	if err != nil {
		return nil, models.NewTransportError("check-in request failed", err)
	}

	s.logger.Debug().Str("provider", provider.ID).Int("status", resp.Status).Msg("Check-in response")

	if !resp.StatusIn(http.StatusOK, http.StatusBadRequest) {
		return nil, models.NewCheckInError(fmt.Sprintf("HTTP %d", resp.Status), nil)
	}

	verdict := classifier.CheckIn(resp)
	if !verdict.Success {
		return nil, models.NewCheckInError(verdict.Message, nil)
	}

	result := &models.CheckInResult{
		Success:        true,
		Message:        verdict.Message,
		RedeemedAmount: verdict.QuotaAwarded,
		EmittedCodes:   verdict.Codes,
	}

	s.logger.Info().
		Str("provider", provider.ID).
		Str("date", verdict.CheckinDate).
		Float64("quota_awarded", verdict.QuotaAwarded).
		Int("codes", len(verdict.Codes)).
		Msg("Check-in successful")

	if status != nil {
		if checked, err := status.CheckedInToday(ctx, provider, session); err == nil {
			s.logger.Debug().Str("provider", provider.ID).Bool("checked_in", checked).Msg("Check-in status after check-in")
		}
	}

	return result, nil
}
