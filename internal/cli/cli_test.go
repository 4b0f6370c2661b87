package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	badgerPath := filepath.ToSlash(filepath.Join(dir, "db"))
	content := "[storage.badger]\npath = \"" + badgerPath + "\"\n\n[logging]\noutput = [\"console\"]\n\n" + body
	path := filepath.Join(dir, "checkin.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "checkin version "))
}

func TestProvidersCommand(t *testing.T) {
	path := writeConfig(t, `
[providers.local]
origin = "https://local.example.com"
sign_in_path = "/api/user/checkin?uid={user_id}"
`)
	t.Setenv("PROVIDERS", "")

	out, err := execute(t, "providers", "-c", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.Contains(t, lines[0], "PROVIDER")

	var local, anyrouter string
	for _, line := range lines[1:] {
		switch strings.Fields(line)[0] {
		case "local":
			local = line
		case "anyrouter":
			anyrouter = line
		}
	}
	assert.Contains(t, local, "https://local.example.com")
	assert.Contains(t, local, "signed")
	assert.Contains(t, anyrouter, "waf_cookies")
	assert.Contains(t, anyrouter, "manual")
}

func TestHashCommand_Empty(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "hash", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "no balance hash stored\n", out)
}

func TestRunCommand_UnloadableAccountsExitsOne(t *testing.T) {
	path := writeConfig(t, "[notify]\nchannels = [\"log\"]\n")
	t.Setenv("ACCOUNTS", "not json")

	_, err := execute(t, "run", "-c", path, "--dry-run")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "[secrets]\nbroker = \"carrier-pigeon\"\n")

	_, err := execute(t, "providers", "-c", path)
	assert.Error(t, err)
}
