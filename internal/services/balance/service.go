package balance

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// Service reads the account balance from the provider's user-info endpoint.
// For implicit check-in providers this request is also the check-in.
type Service struct {
	http   interfaces.HTTPClient
	logger arbor.ILogger
}

func NewService(httpClient interfaces.HTTPClient, logger arbor.ILogger) *Service {
	return &Service{http: httpClient, logger: logger}
}

// Fetch returns the balance in display units, rounded to two decimals
func (s *Service) Fetch(ctx context.Context, provider *models.Provider, session *models.Session) (*models.Balance, error) {
	resp, err := s.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodGet,
		URL:     provider.UserInfoURL(),
		Headers: session.RequestHeaders(provider),
		Cookies: session.Cookies,
		Proxy:   session.Proxy,
	})
	if err != nil {
		return nil, models.NewTransportError("Failed to get user info", err)
	}
	if resp.Status != http.StatusOK {
		return nil, models.NewTransportError(fmt.Sprintf("Failed to get user info: HTTP %d", resp.Status), nil)
	}
	if !resp.IsJSON() {
		if kind := httpclient.DetectChallenge(resp); kind != httpclient.ChallengeNone {
			return nil, models.NewBypassError(fmt.Sprintf("Failed to get user info: %s challenge", kind), nil)
		}
		return nil, models.NewTransportError("Failed to get user info: Invalid response type: "+httpclient.Summary(resp, 80), nil)
	}
	if !resp.Get("success").Bool() {
		message := resp.Get("message").String()
		if message == "" {
			message = "Unknown error"
		}
		return nil, models.NewAuthError("Failed to get user info: "+message, nil)
	}

	divisor := provider.Divisor()
	data := resp.Get("data")
	balance := &models.Balance{
		Quota:      Round(data.Get("quota").Float() / divisor),
		UsedQuota:  Round(data.Get("used_quota").Float() / divisor),
		BonusQuota: Round(data.Get("bonus_quota").Float() / divisor),
	}

	s.logger.Info().
		Str("provider", provider.ID).
		Float64("quota", balance.Quota).
		Float64("used_quota", balance.UsedQuota).
		Float64("bonus_quota", balance.BonusQuota).
		Msg("Balance retrieved")

	return balance, nil
}

// Round rounds to two decimals
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
