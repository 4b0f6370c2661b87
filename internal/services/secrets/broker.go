package secrets

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
)

// NewBroker selects the configured SecretBroker. "none" yields nil, which
// makes GitHub 2FA fall back to manual entry in the browser.
func NewBroker(
	config common.SecretsConfig,
	httpClient interfaces.HTTPClient,
	kvStorage interfaces.KeyValueStorage,
	notifier interfaces.NotificationGateway,
	logger arbor.ILogger,
) interfaces.SecretBroker {
	switch config.Broker {
	case "stepsecurity":
		return NewStepSecurityBroker(httpClient, config.StepSecurity.APIURL, config.StepSecurity.AppURL, notifier, logger)
	case "imap":
		mailbox := NewIMAPMailbox(config.IMAP, kvStorage, logger)
		return NewIMAPBroker(mailbox, config.IMAP.Subject, logger)
	case "env":
		return NewEnvBroker()
	}
	return nil
}
