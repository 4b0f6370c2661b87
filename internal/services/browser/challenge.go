package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/models"
)

const (
	turnstileSelector = `iframe[src*="challenges.cloudflare.com"]`
	sliderSelector    = `#aliyunCaptcha-sliding-slider, #nc_1_n1z`
	sliderTrack       = `#aliyunCaptcha-sliding-body, #nc_1__scale_text`
)

// rect is a viewport bounding box reported by getBoundingClientRect
type rect struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

func (r rect) center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Solver clicks through Cloudflare interstitials and drags aliyun sliders.
// The context passed to MaybeSolve must be a chromedp browser context.
type Solver struct {
	attempts int
	delay    time.Duration
	logger   arbor.ILogger
}

// NewSolver creates a challenge solver
func NewSolver(logger arbor.ILogger) *Solver {
	return &Solver{attempts: 5, delay: 3 * time.Second, logger: logger}
}

// MaybeSolve acts on the current page when it shows a known challenge and reports whether it acted
func (s *Solver) MaybeSolve(ctx context.Context) (bool, error) {
	kind := s.detect(ctx)
	if kind == httpclient.ChallengeNone {
		return false, nil
	}

	s.logger.Info().Str("challenge", string(kind)).Str("url", location(ctx)).Msg("Challenge page detected")

	for attempt := 1; attempt <= s.attempts; attempt++ {
		var err error
		switch kind {
		case httpclient.ChallengeCloudflare:
			err = clickCenterLeft(ctx, turnstileSelector)
		case httpclient.ChallengeWAF:
			err = dragSlider(ctx)
		}
		if err != nil {
			s.logger.Debug().Int("attempt", attempt).Err(err).Msg("Challenge interaction failed")
		}

		if err := sleep(ctx, s.delay); err != nil {
			return true, err
		}
		if s.detect(ctx) == httpclient.ChallengeNone {
			s.logger.Info().Int("attempt", attempt).Msg("Challenge cleared")
			return true, nil
		}
	}
	return true, fmt.Errorf("%s challenge still present after %d attempts", kind, s.attempts)
}

func (s *Solver) detect(ctx context.Context) httpclient.ChallengeKind {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return httpclient.ChallengeNone
	}
	return detectHTML(html)
}

func detectHTML(html string) httpclient.ChallengeKind {
	return httpclient.DetectChallenge(&models.HTTPResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(html),
	})
}

func boundingRect(ctx context.Context, selector string) (*rect, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return {found: false}; }
		const r = el.getBoundingClientRect();
		return {found: true, x: r.left, y: r.top, w: r.width, h: r.height};
	})()`, selector)
	var r rect
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &r)); err != nil {
		return nil, err
	}
	if !r.Found {
		return nil, fmt.Errorf("element not found: %s", selector)
	}
	return &r, nil
}

// clickCenterLeft clicks where the Turnstile checkbox sits inside its frame
func clickCenterLeft(ctx context.Context, selector string) error {
	r, err := boundingRect(ctx, selector)
	if err != nil {
		return err
	}
	_, y := r.center()
	return chromedp.Run(ctx, chromedp.MouseClickXY(r.X+30, y))
}

func dragSlider(ctx context.Context) error {
	handle, err := boundingRect(ctx, sliderSelector)
	if err != nil {
		return err
	}
	track, err := boundingRect(ctx, sliderTrack)
	if err != nil {
		return err
	}
	startX, y := handle.center()
	endX := track.X + track.W - handle.W/2

	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MousePressed, startX, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		for _, x := range slidePath(startX, endX, 20) {
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).WithButton(input.Left).Do(ctx); err != nil {
				return err
			}
			if err := sleep(ctx, 15*time.Millisecond); err != nil {
				return err
			}
		}
		return input.DispatchMouseEvent(input.MouseReleased, endX, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	}))
}

// slidePath returns intermediate x positions that ease out towards end
func slidePath(start, end float64, steps int) []float64 {
	if steps <= 0 {
		return []float64{end}
	}
	path := make([]float64, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		eased := 1 - (1-t)*(1-t)
		path = append(path, start+(end-start)*eased)
	}
	return path
}
