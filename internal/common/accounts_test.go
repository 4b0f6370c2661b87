package common

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/checkin/internal/models"
)

func TestLoadAccounts_FromEnv(t *testing.T) {
	t.Setenv("ACCOUNTS", `[
		{"cookies": {"session": "abc"}, "api_user": 1234, "cdks": ["A", "B"]},
		{"provider": "x666", "name": "Lottery", "linux.do": {"username": "u", "password": "p"}, "access_token": "tok"},
		{"provider": "agentrouter"},
		{"name": "", "cookies": "a=1"},
		{"cookies": 42}
	]`)
	config := NewDefaultConfig()
	config.Run.Proxy = "http://global:3128"

	accounts, err := LoadAccounts(config)
	require.NoError(t, err)
	require.Len(t, accounts, 5)

	first := accounts[0]
	require.NoError(t, first.Err)
	assert.Equal(t, "anyrouter", first.Account.Provider)
	assert.Equal(t, "1234", first.Account.APIUser)
	assert.Equal(t, map[string]string{"session": "abc"}, first.Account.Cookies.Resolve())
	assert.Equal(t, []string{"A", "B"}, first.Account.Extra.Strings("cdks"))
	assert.Equal(t, "http://global:3128", first.Account.EffectiveProxy())
	assert.Equal(t, "account_1", first.Account.Key())

	second := accounts[1]
	require.NoError(t, second.Err)
	assert.Equal(t, "Lottery", second.Account.DisplayName())
	assert.Equal(t, "tok", second.Account.Extra.String("access_token", ""))
	assert.Equal(t, []models.AuthMethod{models.MethodLinuxDo}, second.Account.Methods())

	assert.Error(t, accounts[2].Err)
	var stageErr *models.StageError
	require.True(t, errors.As(accounts[2].Err, &stageErr))
	assert.Equal(t, models.KindConfig, stageErr.Kind)

	assert.EqualError(t, accounts[3].Err, "config: name field cannot be empty")
	assert.Error(t, accounts[4].Err)
	assert.Equal(t, 4, accounts[4].Account.Index)
}

func TestLoadAccounts_MalformedEnv(t *testing.T) {
	t.Setenv("ACCOUNTS", `{"provider": "anyrouter"}`)
	_, err := LoadAccounts(NewDefaultConfig())
	assert.Error(t, err)
}

func TestLoadAccounts_FromYAMLFile(t *testing.T) {
	t.Setenv("ACCOUNTS", "")
	path := writeFile(t, t.TempDir(), "accounts.yaml", `
- provider: runawaytime
  name: Main
  cookies: "session=xyz; other=1"
  api_user: "77"
  fuli_cookies:
    session: fuli
- provider: anyrouter
  github:
    username: octo
    password: secret
  proxy: http://account:8080
`)
	config := NewDefaultConfig()
	config.Run.AccountsFile = path
	config.Run.Proxy = "http://global:3128"

	accounts, err := LoadAccounts(config)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	main := accounts[0].Account
	require.NoError(t, accounts[0].Err)
	assert.Equal(t, map[string]string{"session": "xyz", "other": "1"}, main.Cookies.Resolve())
	assert.Equal(t, map[string]string{"session": "fuli"}, main.Extra.Cookies("fuli_cookies").Resolve())

	second := accounts[1].Account
	require.NoError(t, accounts[1].Err)
	assert.Equal(t, "octo", second.GitHub.Username)
	assert.Equal(t, "http://account:8080", second.EffectiveProxy())
}

func TestLoadAccounts_NoAccounts(t *testing.T) {
	t.Setenv("ACCOUNTS", "")

	config := NewDefaultConfig()
	config.Run.AccountsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := LoadAccounts(config)
	assert.ErrorIs(t, err, ErrNoAccounts)

	config.Run.AccountsFile = writeFile(t, t.TempDir(), "empty.yaml", "[]\n")
	_, err = LoadAccounts(config)
	assert.ErrorIs(t, err, ErrNoAccounts)
}
