package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/checkin/internal/interfaces"
)

// EnvPrefix is prepended to the upper-cased key name, e.g. CHECKIN_SECRET_OTP
const EnvPrefix = "CHECKIN_SECRET_"

// EnvBroker answers from environment variables, for local runs
type EnvBroker struct {
	getenv func(string) string
}

func NewEnvBroker() *EnvBroker {
	return &EnvBroker{getenv: os.Getenv}
}

// Get returns nil when any requested key is unset
func (b *EnvBroker) Get(ctx context.Context, spec interfaces.SecretSpec, timeout time.Duration) (map[string]string, error) {
	values := make(map[string]string, len(spec.Keys))
	for _, k := range spec.Keys {
		v := b.getenv(EnvPrefix + strings.ToUpper(k.Name))
		if v == "" {
			return nil, nil
		}
		values[k.Name] = v
	}
	return values, nil
}
