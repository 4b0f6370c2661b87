package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

const (
	x666LotteryOrigin = "https://qd.x666.me"

	x666UserInfoPath = "/api/user/info"
	x666SpinPath     = "/api/lottery/spin"
)

var spinAlreadyMarkers = []string{"already", "已经", "已抽"}

// X666LotterySource yields today's lottery code, spinning when a spin is still available
type X666LotterySource struct {
	deps   SourceDeps
	origin string
	done   bool
}

func NewX666LotterySource(deps SourceDeps) interfaces.CdkSource {
	return &X666LotterySource{deps: deps, origin: x666LotteryOrigin}
}

func (s *X666LotterySource) Name() string { return SourceX666Lottery }

func (s *X666LotterySource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	if s.done {
		return "", false, nil
	}
	s.done = true

	if s.deps.Account == nil {
		return "", false, fmt.Errorf("no account")
	}
	token := s.deps.Account.Extra.String("access_token", "")
	if token == "" {
		return "", false, fmt.Errorf("access_token not configured")
	}

	info, err := s.post(ctx, x666UserInfoPath, token)
	if err != nil {
		return "", false, fmt.Errorf("lottery user info: %w", err)
	}
	// An unreadable user info leaves the spin state unknown; the spin call decides
	known := info.Status == http.StatusOK && info.IsJSON() && info.Get("success").Bool()
	if !known {
		s.deps.Logger.Warn().
			Str("account", s.deps.Account.DisplayName()).
			Int("status", info.Status).
			Msg("Lottery user info unavailable, trying to spin")
	}

	if known && !info.Get("data.can_spin").Bool() {
		cdk := info.Get("data.today_record.cdk").String()
		s.deps.Logger.Info().
			Str("account", s.deps.Account.DisplayName()).
			Bool("has_code", cdk != "").
			Msg("Lottery already spun today")
		if cdk == "" {
			return "", false, nil
		}
		return models.CdkToken(cdk), true, nil
	}

	resp, err := s.post(ctx, x666SpinPath, token)
	if err != nil {
		return "", false, fmt.Errorf("lottery spin: %w", err)
	}
	if !resp.StatusIn(http.StatusOK, http.StatusBadRequest) {
		return "", false, fmt.Errorf("lottery spin: HTTP %d", resp.Status)
	}
	if !resp.IsJSON() {
		return "", false, fmt.Errorf("lottery spin: invalid response format")
	}

	message := resp.Message()
	if resp.Get("success").Bool() {
		cdk := resp.Get("data.cdk").String()
		s.deps.Logger.Info().
			Str("account", s.deps.Account.DisplayName()).
			Str("prize", resp.Get("data.label").String()).
			Str("code", models.CdkToken(cdk).Masked()).
			Msg("Lottery spin successful")
		if cdk == "" {
			return "", false, nil
		}
		return models.CdkToken(cdk), true, nil
	}
	if containsAny(strings.ToLower(message), spinAlreadyMarkers) {
		return "", false, nil
	}
	if message == "" {
		message = "Unknown error"
	}
	return "", false, fmt.Errorf("lottery spin: %s", message)
}

func (s *X666LotterySource) post(ctx context.Context, path, token string) (*models.HTTPResponse, error) {
	headers := s.deps.baseHeaders()
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"
	headers["Origin"] = s.origin
	headers["Referer"] = s.origin + "/"
	headers["sec-fetch-dest"] = "empty"
	headers["sec-fetch-mode"] = "cors"
	headers["sec-fetch-site"] = "same-origin"
	return s.deps.HTTP.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodPost,
		URL:     s.origin + path,
		Headers: headers,
		Proxy:   s.deps.proxy(),
	})
}

var _ interfaces.CdkSource = (*X666LotterySource)(nil)
