package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("checkin", GetVersion())

	logger.Debug().
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Strs("notify_channels", config.Notify.Channels).
		Str("secret_broker", config.Secrets.Broker).
		Bool("headless", config.Browser.Headless).
		Msg("Resolved configuration (sanitized)")
}
