// -----------------------------------------------------------------------
// StepSecurity Broker - human supplied secrets for GitHub Actions runs
// -----------------------------------------------------------------------

package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

const (
	DefaultStepSecurityAPI = "https://prod.api.stepsecurity.io/v1/secrets"
	DefaultStepSecurityApp = "https://app.stepsecurity.io"

	oidcAudience       = "api://ActionsOIDCGateway/Certify"
	tokenNotYetIssued  = "Token used before issued"
	defaultPollTimeout = 5 * time.Minute
)

// StepSecurityBroker registers a secret request with the StepSecurity
// wait-for-secrets API and polls until a human fills it in. It only works
// inside a GitHub Actions job with id-token permission.
type StepSecurityBroker struct {
	http         interfaces.HTTPClient
	apiURL       string
	appURL       string
	notifier     interfaces.NotificationGateway
	pollInterval time.Duration
	getenv       func(string) string
	logger       arbor.ILogger
}

// NewStepSecurityBroker creates a broker. notifier, when set, receives the secret entry URL.
func NewStepSecurityBroker(
	httpClient interfaces.HTTPClient,
	apiURL, appURL string,
	notifier interfaces.NotificationGateway,
	logger arbor.ILogger,
) *StepSecurityBroker {
	if apiURL == "" {
		apiURL = DefaultStepSecurityAPI
	}
	if appURL == "" {
		appURL = DefaultStepSecurityApp
	}
	return &StepSecurityBroker{
		http:         httpClient,
		apiURL:       apiURL,
		appURL:       strings.TrimRight(appURL, "/"),
		notifier:     notifier,
		pollInterval: 10 * time.Second,
		getenv:       os.Getenv,
		logger:       logger,
	}
}

// runInfo identifies the Actions run the secret request belongs to
type runInfo struct {
	Owner string
	Repo  string
	RunID string
}

func (b *StepSecurityBroker) runInfo() (*runInfo, bool) {
	repository := b.getenv("GITHUB_REPOSITORY")
	runID := b.getenv("GITHUB_RUN_ID")
	if repository == "" || runID == "" {
		return nil, false
	}
	owner, repo, _ := strings.Cut(repository, "/")
	return &runInfo{Owner: owner, Repo: repo, RunID: runID}, true
}

// SecretURL is the page where the secret values are entered
func (b *StepSecurityBroker) SecretURL(info *runInfo) string {
	return fmt.Sprintf("%s/secrets/%s/%s/%s", b.appURL, info.Owner, info.Repo, info.RunID)
}

func (b *StepSecurityBroker) oidcToken(ctx context.Context) (string, error) {
	requestToken := b.getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN")
	requestURL := b.getenv("ACTIONS_ID_TOKEN_REQUEST_URL")
	if requestToken == "" || requestURL == "" {
		return "", nil
	}

	resp, err := b.http.Do(ctx, &models.HTTPRequest{
		Method: http.MethodGet,
		URL:    requestURL + "&audience=" + oidcAudience,
		Headers: map[string]string{
			"Authorization": "Bearer " + requestToken,
			"Accept":        "application/json; api-version=2.0",
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get OIDC token: %w", err)
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("failed to get OIDC token: HTTP %d", resp.Status)
	}
	token := resp.Get("value").String()
	if token == "" {
		return "", errors.New("OIDC token not found in response")
	}
	return token, nil
}

// requestPayload is the registration body: a list holding the JSON encoded key metadata
func requestPayload(spec interfaces.SecretSpec) ([]string, error) {
	metadata := make(map[string]map[string]string, len(spec.Keys))
	for _, k := range spec.Keys {
		metadata[k.Name] = map[string]string{"name": spec.Name, "description": k.Description}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

// Get returns nil without error when not running in GitHub Actions or when
// nobody supplied the secret before the timeout
func (b *StepSecurityBroker) Get(ctx context.Context, spec interfaces.SecretSpec, timeout time.Duration) (map[string]string, error) {
	info, ok := b.runInfo()
	if !ok {
		b.logger.Warn().Msg("Not running in GitHub Actions, wait-for-secrets unavailable")
		return nil, nil
	}
	token, err := b.oidcToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		b.logger.Warn().Msg("OIDC tokens not available, wait-for-secrets unavailable")
		return nil, nil
	}

	payload, err := requestPayload(spec)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	resp, err := b.http.Do(ctx, &models.HTTPRequest{Method: http.MethodPut, URL: b.apiURL, Headers: headers, JSONBody: payload, Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to register secret request: %w", err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("failed to register secret request: HTTP %d", resp.Status)
	}
	defer b.clear(headers)

	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	secretURL := b.SecretURL(info)
	b.logger.Info().Str("secret", spec.Name).Str("url", secretURL).Dur("timeout", timeout).Msg("Secret request registered, waiting for input")

	if b.notifier != nil {
		body := fmt.Sprintf("Please visit this URL to input %s within %s:\n%s", spec.Name, timeout, secretURL)
		if err := b.notifier.Push(ctx, "Secret Required", body); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to send secret URL notification")
		}
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.poll(pollCtx, headers, spec.Name)
}

func (b *StepSecurityBroker) poll(ctx context.Context, headers map[string]string, name string) (map[string]string, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := b.http.Do(ctx, &models.HTTPRequest{Method: http.MethodGet, URL: b.apiURL, Headers: headers, Timeout: 10 * time.Second})
		switch {
		case err != nil:
			if ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("Secret polling error")
			}
		case resp.Status == http.StatusOK:
			if values := secretValues(resp.JSON()); values != nil {
				b.logger.Info().Str("secret", name).Msg("Secrets received")
				return values, nil
			}
		case strings.TrimSpace(resp.Text()) != tokenNotYetIssued:
			return nil, fmt.Errorf("secret polling failed: HTTP %d: %s", resp.Status, strings.TrimSpace(resp.Text()))
		}

		select {
		case <-ctx.Done():
			b.logger.Warn().Str("secret", name).Msg("Timed out waiting for secrets")
			return nil, nil
		case <-ticker.C:
		}
	}
}

// secretValues returns the entered values once areSecretsSet is true
func secretValues(body gjson.Result) map[string]string {
	if !body.Get("areSecretsSet").Bool() {
		return nil
	}
	values := map[string]string{}
	body.Get("secrets").ForEach(func(key, value gjson.Result) bool {
		values[key.String()] = value.String()
		return true
	})
	if len(values) == 0 {
		return nil
	}
	return values
}

// clear removes the request from the StepSecurity datastore
func (b *StepSecurityBroker) clear(headers map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := b.http.Do(ctx, &models.HTTPRequest{Method: http.MethodDelete, URL: b.apiURL, Headers: headers})
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to clear secret")
		return
	}
	if resp.Status != http.StatusOK {
		b.logger.Warn().Int("status", resp.Status).Msg("Failed to clear secret")
	}
}
