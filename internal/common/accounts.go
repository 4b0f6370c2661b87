package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/checkin/internal/models"
)

// ErrNoAccounts is returned when neither ACCOUNTS nor the accounts file provides any account
var ErrNoAccounts = errors.New("no accounts configured")

// LoadedAccount is a parsed account and its load-time validation error, if any.
// An invalid account is reported as a config failure without any network I/O.
type LoadedAccount struct {
	Account models.Account
	Err     error
}

// accountRules are the struct-level checks applied to every account
type accountRules struct {
	Provider string `validate:"required"`
	Proxy    string `validate:"omitempty,url"`
}

// LoadAccounts reads the ACCOUNTS env JSON array, falling back to the accounts file.
// A structurally invalid document aborts; individual invalid accounts do not.
func LoadAccounts(config *Config) ([]LoadedAccount, error) {
	var (
		raw    []map[string]any
		source string
	)

	if env := strings.TrimSpace(os.Getenv("ACCOUNTS")); env != "" {
		if err := json.Unmarshal([]byte(env), &raw); err != nil {
			return nil, fmt.Errorf("ACCOUNTS must be a JSON array of objects: %w", err)
		}
		source = "ACCOUNTS"
	} else if config.Run.AccountsFile != "" {
		data, err := os.ReadFile(config.Run.AccountsFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNoAccounts
			}
			return nil, fmt.Errorf("failed to read accounts file %s: %w", config.Run.AccountsFile, err)
		}
		// yaml.v3 also reads JSON documents
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse accounts file %s: %w", config.Run.AccountsFile, err)
		}
		source = config.Run.AccountsFile
	}

	if len(raw) == 0 {
		return nil, ErrNoAccounts
	}

	validate := validator.New()
	accounts := make([]LoadedAccount, 0, len(raw))
	for i, entry := range raw {
		account, err := decodeAccount(entry)
		account.Index = i
		if err != nil {
			accounts = append(accounts, LoadedAccount{Account: account, Err: models.NewConfigError(fmt.Sprintf("invalid account (%s): %v", source, err))})
			continue
		}
		if account.Provider == "" {
			account.Provider = "anyrouter"
		}
		if account.Extra == nil {
			account.Extra = models.Extra{}
		}
		if config.Run.Proxy != "" {
			if _, ok := account.Extra["global_proxy"]; !ok {
				account.Extra["global_proxy"] = config.Run.Proxy
			}
		}

		if v, ok := entry["name"]; ok && fmt.Sprintf("%v", v) == "" {
			err = models.NewConfigError("name field cannot be empty")
		} else if verr := validate.Struct(accountRules{Provider: account.Provider, Proxy: account.Proxy}); verr != nil {
			err = models.NewConfigError(verr.Error())
		} else {
			err = account.Validate()
		}
		accounts = append(accounts, LoadedAccount{Account: account, Err: err})
	}

	return accounts, nil
}

// decodeAccount round-trips one generic entry through JSON so that both
// env JSON and YAML files share the Account decoding rules.
func decodeAccount(entry map[string]any) (models.Account, error) {
	var account models.Account
	data, err := json.Marshal(entry)
	if err != nil {
		return account, err
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return account, err
	}
	return account, nil
}
