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
	fuliOrigin = "https://fuli.hxi.me"

	fuliCheckInStatusPath = "/api/checkin/status"
	fuliCheckInPath       = "/api/checkin"
	fuliWheelStatusPath   = "/api/wheel/status"
	fuliWheelPath         = "/api/wheel"
)

var (
	fuliAlreadyMarkers = []string{"already", "已经", "已签"}
	wheelEmptyMarkers  = []string{"already", "已经", "次数", "no more"}
)

// fuliClient issues requests against the welfare site with the account's fuli cookies
type fuliClient struct {
	deps    SourceDeps
	origin  string
	cookies map[string]string
}

func newFuliClient(deps SourceDeps, origin string) (*fuliClient, error) {
	if deps.Account == nil {
		return nil, fmt.Errorf("no account")
	}
	cookies := deps.Account.Extra.Cookies("fuli_cookies").Resolve()
	if len(cookies) == 0 {
		return nil, fmt.Errorf("fuli_cookies not configured")
	}
	cookies = models.MergeCookies(map[string]string{"i18next": "en"}, cookies)
	return &fuliClient{deps: deps, origin: origin, cookies: cookies}, nil
}

func (c *fuliClient) do(ctx context.Context, method, path string) (*models.HTTPResponse, error) {
	headers := c.deps.baseHeaders()
	headers["Referer"] = c.origin + "/"
	headers["sec-fetch-dest"] = "empty"
	headers["sec-fetch-mode"] = "cors"
	headers["sec-fetch-site"] = "same-origin"
	if method == http.MethodPost {
		headers["Origin"] = c.origin
	}
	return c.deps.HTTP.Do(ctx, &models.HTTPRequest{
		Method:  method,
		URL:     c.origin + path,
		Headers: headers,
		Cookies: c.cookies,
		Proxy:   c.deps.proxy(),
	})
}

// FuliCheckInSource yields the code issued by the welfare site's daily check-in
type FuliCheckInSource struct {
	deps   SourceDeps
	origin string
	done   bool
}

func NewFuliCheckInSource(deps SourceDeps) interfaces.CdkSource {
	return &FuliCheckInSource{deps: deps, origin: fuliOrigin}
}

func (s *FuliCheckInSource) Name() string { return SourceFuliCheckIn }

// Next performs the status query and the check-in at most once
func (s *FuliCheckInSource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	if s.done {
		return "", false, nil
	}
	s.done = true

	client, err := newFuliClient(s.deps, s.origin)
	if err != nil {
		return "", false, err
	}

	status, err := client.do(ctx, http.MethodGet, fuliCheckInStatusPath)
	if err != nil {
		return "", false, fmt.Errorf("checkin status: %w", err)
	}
	if status.Status == http.StatusOK && status.IsJSON() && status.Get("checked").Bool() {
		s.deps.Logger.Info().Str("account", s.deps.Account.DisplayName()).Msg("Welfare check-in already done today")
		return "", false, nil
	}

	resp, err := client.do(ctx, http.MethodPost, fuliCheckInPath)
	if err != nil {
		return "", false, fmt.Errorf("checkin: %w", err)
	}
	if !resp.StatusIn(http.StatusOK, http.StatusBadRequest) {
		return "", false, fmt.Errorf("checkin: HTTP %d", resp.Status)
	}
	if !resp.IsJSON() {
		return "", false, fmt.Errorf("checkin: invalid response format")
	}

	message := resp.Message()
	if resp.Get("success").Bool() {
		code := resp.Get("code").String()
		s.deps.Logger.Info().
			Str("account", s.deps.Account.DisplayName()).
			Str("code", models.CdkToken(code).Masked()).
			Int("streak", int(resp.Get("streak").Int())).
			Msg("Welfare check-in successful")
		if code == "" {
			return "", false, nil
		}
		return models.CdkToken(code), true, nil
	}
	if containsAny(strings.ToLower(message), fuliAlreadyMarkers) {
		return "", false, nil
	}
	if message == "" {
		message = "Unknown error"
	}
	return "", false, fmt.Errorf("checkin: %s", message)
}

// FuliWheelSource spins the welfare wheel once per Next until spins run out
type FuliWheelSource struct {
	deps      SourceDeps
	origin    string
	client    *fuliClient
	remaining int
	started   bool
	finished  bool
}

func NewFuliWheelSource(deps SourceDeps) interfaces.CdkSource {
	return &FuliWheelSource{deps: deps, origin: fuliOrigin}
}

func (s *FuliWheelSource) Name() string { return SourceFuliWheel }

func (s *FuliWheelSource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	if s.finished {
		return "", false, nil
	}
	if !s.started {
		s.started = true
		if err := s.init(ctx); err != nil {
			s.finished = true
			return "", false, err
		}
	}

	for s.remaining > 0 {
		token, err := s.spin(ctx)
		if err != nil {
			s.finished = true
			return "", false, err
		}
		if token != "" {
			return token, true, nil
		}
	}
	s.finished = true
	return "", false, nil
}

func (s *FuliWheelSource) init(ctx context.Context) error {
	client, err := newFuliClient(s.deps, s.origin)
	if err != nil {
		return err
	}
	s.client = client

	status, err := client.do(ctx, http.MethodGet, fuliWheelStatusPath)
	if err != nil {
		return fmt.Errorf("wheel status: %w", err)
	}
	if status.Status != http.StatusOK || !status.IsJSON() {
		return fmt.Errorf("wheel status: HTTP %d", status.Status)
	}
	s.remaining = int(status.Get("remaining").Int())
	s.deps.Logger.Debug().
		Str("account", s.deps.Account.DisplayName()).
		Int("remaining", s.remaining).
		Msg("Wheel status")
	return nil
}

// spin returns an empty token with a nil error for a prize without a code
func (s *FuliWheelSource) spin(ctx context.Context) (models.CdkToken, error) {
	resp, err := s.client.do(ctx, http.MethodPost, fuliWheelPath)
	if err != nil {
		return "", fmt.Errorf("wheel: %w", err)
	}
	if !resp.StatusIn(http.StatusOK, http.StatusBadRequest) {
		return "", fmt.Errorf("wheel: HTTP %d", resp.Status)
	}
	if !resp.IsJSON() {
		return "", fmt.Errorf("wheel: invalid response format")
	}

	message := resp.Message()
	if !resp.Get("success").Bool() {
		s.remaining = 0
		if containsAny(strings.ToLower(message), wheelEmptyMarkers) {
			return "", nil
		}
		if message == "" {
			message = "Unknown error"
		}
		return "", fmt.Errorf("wheel: %s", message)
	}

	if r := resp.Get("remaining"); r.Exists() {
		s.remaining = int(r.Int())
	} else {
		s.remaining--
	}
	code := resp.Get("code").String()
	s.deps.Logger.Info().
		Str("account", s.deps.Account.DisplayName()).
		Str("prize", resp.Get("prize").String()).
		Str("code", models.CdkToken(code).Masked()).
		Int("remaining", s.remaining).
		Msg("Wheel spin successful")
	return models.CdkToken(code), nil
}

var (
	_ interfaces.CdkSource = (*FuliCheckInSource)(nil)
	_ interfaces.CdkSource = (*FuliWheelSource)(nil)
)
