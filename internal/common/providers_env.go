package common

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
)

// mergeProvidersEnv merges the PROVIDERS env JSON object into config.Providers.
// Entries that fail to parse are skipped; a value that is not an object is ignored entirely.
func mergeProvidersEnv(config *Config, raw string) error {
	if raw == "" {
		return nil
	}

	logger := arbor.NewLogger()

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		logger.Warn().Err(err).Msg("PROVIDERS must be a JSON object, using built-in providers only")
		return nil
	}

	if config.Providers == nil {
		config.Providers = map[string]ProviderOverride{}
	}

	loaded := 0
	for name, data := range entries {
		override, err := parseProviderOverride(data)
		if err != nil {
			logger.Warn().Str("provider", name).Err(err).Msg("Failed to parse provider, skipping")
			continue
		}
		config.Providers[name] = override
		loaded++
	}

	logger.Info().Int("count", loaded).Msg("Loaded custom providers from PROVIDERS")
	return nil
}

func parseProviderOverride(data json.RawMessage) (ProviderOverride, error) {
	var override ProviderOverride
	if err := json.Unmarshal(data, &override); err != nil {
		return override, err
	}
	if override.Origin == "" {
		return override, fmt.Errorf("origin is required")
	}

	// "sign_in_path": null means check-in happens implicitly on user info
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return override, err
	}
	if v, ok := fields["sign_in_path"]; ok && v == nil {
		override.ImplicitCheckIn = true
	}
	return override, nil
}
