package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
)

// LogGateway writes the report to the log
type LogGateway struct {
	logger arbor.ILogger
}

func NewLogGateway(logger arbor.ILogger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Push(ctx context.Context, title, body string) error {
	g.logger.Info().Str("title", title).Msg("Notification")
	for _, line := range strings.Split(body, "\n") {
		g.logger.Info().Msg(line)
	}
	return nil
}

// namedGateway tags a gateway with its channel name for error reporting
type namedGateway struct {
	name    string
	gateway interfaces.NotificationGateway
}

// MultiGateway delivers to every channel; one failing channel does not stop the others
type MultiGateway struct {
	gateways []namedGateway
	logger   arbor.ILogger
}

func NewMultiGateway(logger arbor.ILogger) *MultiGateway {
	return &MultiGateway{logger: logger}
}

// Add registers a channel
func (m *MultiGateway) Add(name string, gateway interfaces.NotificationGateway) *MultiGateway {
	m.gateways = append(m.gateways, namedGateway{name: name, gateway: gateway})
	return m
}

// Len returns the number of registered channels
func (m *MultiGateway) Len() int {
	return len(m.gateways)
}

// Push returns the joined errors of the failed channels
func (m *MultiGateway) Push(ctx context.Context, title, body string) error {
	var errs []error
	for _, g := range m.gateways {
		if err := g.gateway.Push(ctx, title, body); err != nil {
			m.logger.Warn().Str("channel", g.name).Err(err).Msg("Notification channel failed")
			errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
		}
	}
	return errors.Join(errs...)
}

// NewGateway builds the configured channels. Channels that cannot be built are
// skipped with a warning; no channel at all yields nil.
func NewGateway(config common.NotifyConfig, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) interfaces.NotificationGateway {
	multi := NewMultiGateway(logger)
	for _, channel := range config.Channels {
		switch channel {
		case "log":
			multi.Add(channel, NewLogGateway(logger))
		case "email":
			multi.Add(channel, NewEmailGateway(config.Email, kvStorage, logger))
		case "github":
			gateway, err := NewGitHubIssueGateway(config.GitHub, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("GitHub notification channel disabled")
				continue
			}
			multi.Add(channel, gateway)
		default:
			logger.Warn().Str("channel", channel).Msg("Unknown notification channel, skipping")
		}
	}
	if multi.Len() == 0 {
		return nil
	}
	return multi
}
