// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 10:40:00 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string                      `toml:"environment"`
	Storage     StorageConfig               `toml:"storage"`
	Logging     LoggingConfig               `toml:"logging"`
	Run         RunConfig                   `toml:"run"`
	HTTP        HTTPConfig                  `toml:"http"`
	Redemption  RedemptionConfig            `toml:"redemption"`
	Browser     BrowserConfig               `toml:"browser"`
	Scheduler   SchedulerConfig             `toml:"scheduler"`
	Secrets     SecretsConfig               `toml:"secrets"`
	Notify      NotifyConfig                `toml:"notify"`
	Providers   map[string]ProviderOverride `toml:"providers"` // Merged with the PROVIDERS env JSON
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup (drops the balance hash and profile caches)
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"`
	Output     []string `toml:"output" validate:"dive,oneof=stdout console file"`
	TimeFormat string   `toml:"time_format"`
}

// RunConfig controls a single check-in run
type RunConfig struct {
	AccountsFile    string `toml:"accounts_file"`    // YAML or JSON list, used when ACCOUNTS is not set
	BalanceCategory string `toml:"balance_category"` // Namespace of the persisted balance hash
	Proxy           string `toml:"proxy"`            // Global proxy, used by accounts without their own
	DryRun          bool   `toml:"dry_run"`          // Skip notification and hash persistence
}

type HTTPConfig struct {
	Timeout       string  `toml:"timeout"`         // e.g. "30s"
	HostRateLimit float64 `toml:"host_rate_limit"` // Requests per second per host, 0 disables pacing
}

type RedemptionConfig struct {
	Interval string `toml:"interval"` // Pause between top-up calls, e.g. "60s"
}

type BrowserConfig struct {
	Headless         bool   `toml:"headless"`
	ExecPath         string `toml:"exec_path"`
	ReadyTimeout     string `toml:"ready_timeout"`     // document.readyState poll, e.g. "5s"
	ReadyFallback    string `toml:"ready_fallback"`    // fixed wait after the poll times out
	ChallengeTimeout string `toml:"challenge_timeout"` // wait for bypass cookies, e.g. "60s"
	LoginTimeout     string `toml:"login_timeout"`     // wait for the OAuth redirect, e.g. "120s"
}

type SchedulerConfig struct {
	Schedule   string `toml:"schedule"` // Cron expression for daemon mode
	RunOnStart bool   `toml:"run_on_start"`
}

type SecretsConfig struct {
	Broker       string             `toml:"broker" validate:"oneof=none env imap stepsecurity"`
	Timeout      string             `toml:"timeout"` // e.g. "5m"
	StepSecurity StepSecurityConfig `toml:"stepsecurity"`
	IMAP         IMAPConfig         `toml:"imap"`
}

type StepSecurityConfig struct {
	APIURL string `toml:"api_url"`
	AppURL string `toml:"app_url"`
}

type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	Subject  string `toml:"subject"` // Subject filter for OTP mails
}

type NotifyConfig struct {
	Channels []string           `toml:"channels" validate:"dive,oneof=log email github"`
	Title    string             `toml:"title"`
	Email    EmailConfig        `toml:"email"`
	GitHub   GitHubNotifyConfig `toml:"github"`
}

type EmailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	To       string `toml:"to"`
	UseTLS   bool   `toml:"use_tls"`
}

type GitHubNotifyConfig struct {
	Token       string   `toml:"token"`
	Owner       string   `toml:"owner"`
	Repo        string   `toml:"repo"`
	IssueNumber int      `toml:"issue_number"` // Comment on this issue; 0 opens a new issue per run
	Labels      []string `toml:"labels"`
}

// ProviderOverride adds or replaces a provider. The JSON keys follow the PROVIDERS env format.
type ProviderOverride struct {
	Origin          string   `toml:"origin" json:"origin" validate:"required,url"`
	LoginPath       string   `toml:"login_path" json:"login_path"`
	StatusPath      string   `toml:"status_path" json:"status_path"`
	AuthStatePath   string   `toml:"auth_state_path" json:"auth_state_path"`
	SignInPath      string   `toml:"sign_in_path" json:"sign_in_path"`
	ImplicitCheckIn bool     `toml:"implicit_check_in" json:"implicit_check_in"`
	UserInfoPath    string   `toml:"user_info_path" json:"user_info_path"`
	TopupPath       string   `toml:"topup_path" json:"topup_path"`
	APIUserKey      string   `toml:"api_user_key" json:"api_user_key"`
	BypassMethod    string   `toml:"bypass_method" json:"bypass_method" validate:"omitempty,oneof=none waf_cookies cf_clearance"`
	BypassCookies   []string `toml:"bypass_cookies" json:"bypass_cookies"`
	GitHubClientID  string   `toml:"github_client_id" json:"github_client_id"`
	LinuxDoClientID string   `toml:"linuxdo_client_id" json:"linuxdo_client_id"`
	CheckInStatus   string   `toml:"check_in_status" json:"check_in_status"`
	Sources         []string `toml:"sources" json:"sources"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/checkin",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Run: RunConfig{
			AccountsFile:    "accounts.yaml",
			BalanceCategory: "newapi",
		},
		HTTP: HTTPConfig{
			Timeout:       "30s",
			HostRateLimit: 2,
		},
		Redemption: RedemptionConfig{
			Interval: "60s",
		},
		Browser: BrowserConfig{
			Headless:         true,
			ReadyTimeout:     "5s",
			ReadyFallback:    "3s",
			ChallengeTimeout: "60s",
			LoginTimeout:     "120s",
		},
		Scheduler: SchedulerConfig{
			Schedule: "0 9 * * *",
		},
		Secrets: SecretsConfig{
			Broker:  "none",
			Timeout: "5m",
			StepSecurity: StepSecurityConfig{
				APIURL: "https://prod.api.stepsecurity.io/v1/secrets",
				AppURL: "https://app.stepsecurity.io",
			},
			IMAP: IMAPConfig{
				Port:    993,
				UseTLS:  true,
				Subject: "GitHub",
			},
		},
		Notify: NotifyConfig{
			Channels: []string{"log"},
			Title:    "Check-in Alert",
			Email: EmailConfig{
				Port:     587,
				UseTLS:   true,
				FromName: "checkin",
			},
		},
		Providers: map[string]ProviderOverride{},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> .env -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env never overrides variables already present in the process environment
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := mergeProvidersEnv(config, os.Getenv("PROVIDERS")); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies CHECKIN_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CHECKIN_ENV"); env != "" {
		config.Environment = env
	}

	if badgerPath := os.Getenv("CHECKIN_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("CHECKIN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CHECKIN_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		config.Logging.Output = outputs
	}

	if accountsFile := os.Getenv("CHECKIN_ACCOUNTS_FILE"); accountsFile != "" {
		config.Run.AccountsFile = accountsFile
	}
	if proxy := os.Getenv("CHECKIN_PROXY"); proxy != "" {
		config.Run.Proxy = proxy
	}
	if dryRun := os.Getenv("CHECKIN_DRY_RUN"); dryRun != "" {
		if b, err := strconv.ParseBool(dryRun); err == nil {
			config.Run.DryRun = b
		}
	}

	if timeout := os.Getenv("CHECKIN_HTTP_TIMEOUT"); timeout != "" {
		config.HTTP.Timeout = timeout
	}
	if interval := os.Getenv("CHECKIN_TOPUP_INTERVAL"); interval != "" {
		// Bare numbers are seconds
		if _, err := strconv.Atoi(interval); err == nil {
			interval += "s"
		}
		config.Redemption.Interval = interval
	}

	if headless := os.Getenv("CHECKIN_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if execPath := os.Getenv("CHECKIN_BROWSER_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	if schedule := os.Getenv("CHECKIN_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}

	if broker := os.Getenv("CHECKIN_SECRET_BROKER"); broker != "" {
		config.Secrets.Broker = broker
	}
	if host := os.Getenv("CHECKIN_IMAP_HOST"); host != "" {
		config.Secrets.IMAP.Host = host
	}
	if user := os.Getenv("CHECKIN_IMAP_USERNAME"); user != "" {
		config.Secrets.IMAP.Username = user
	}
	if pass := os.Getenv("CHECKIN_IMAP_PASSWORD"); pass != "" {
		config.Secrets.IMAP.Password = pass
	}

	if channels := os.Getenv("CHECKIN_NOTIFY_CHANNELS"); channels != "" {
		var list []string
		for _, c := range strings.Split(channels, ",") {
			if c = strings.TrimSpace(c); c != "" {
				list = append(list, c)
			}
		}
		config.Notify.Channels = list
	}
	if host := os.Getenv("CHECKIN_SMTP_HOST"); host != "" {
		config.Notify.Email.Host = host
	}
	if user := os.Getenv("CHECKIN_SMTP_USERNAME"); user != "" {
		config.Notify.Email.Username = user
	}
	if pass := os.Getenv("CHECKIN_SMTP_PASSWORD"); pass != "" {
		config.Notify.Email.Password = pass
	}
	if to := os.Getenv("CHECKIN_SMTP_TO"); to != "" {
		config.Notify.Email.To = to
	}
	// GITHUB_TOKEN is the conventional name inside Actions runners
	if token := os.Getenv("CHECKIN_GITHUB_TOKEN"); token != "" {
		config.Notify.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" && config.Notify.GitHub.Token == "" {
		config.Notify.GitHub.Token = token
	}
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" && config.Notify.GitHub.Repo == "" {
		if owner, name, ok := strings.Cut(repo, "/"); ok {
			config.Notify.GitHub.Owner = owner
			config.Notify.GitHub.Repo = name
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, logLevel string, dryRun bool) {
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if dryRun {
		config.Run.DryRun = true
	}
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, p := range c.Providers {
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("invalid provider %s: %w", name, err)
		}
	}
	for _, d := range []struct{ name, value string }{
		{"http.timeout", c.HTTP.Timeout},
		{"redemption.interval", c.Redemption.Interval},
		{"browser.ready_timeout", c.Browser.ReadyTimeout},
		{"browser.ready_fallback", c.Browser.ReadyFallback},
		{"browser.challenge_timeout", c.Browser.ChallengeTimeout},
		{"browser.login_timeout", c.Browser.LoginTimeout},
		{"secrets.timeout", c.Secrets.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
	}
	return nil
}

// ValidateSchedule validates a five field cron expression for daemon mode
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if strings.Fields(schedule)[0] == "*" {
		return fmt.Errorf("schedule must not run every minute")
	}
	return nil
}

// ParseDuration parses value, returning def when empty or invalid
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
