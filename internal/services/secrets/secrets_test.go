package secrets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
)

var otpSpec = interfaces.SecretSpec{
	Name: "GitHub 2FA OTP",
	Keys: []interfaces.SecretKey{{Name: "OTP", Description: "OTP from authenticator app"}},
}

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// MockNotifier is a mock implementation of NotificationGateway
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Push(ctx context.Context, title, body string) error {
	args := m.Called(ctx, title, body)
	return args.Error(0)
}

func TestStepSecurityBroker_Get(t *testing.T) {
	var polls, deletes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			assert.Equal(t, "Bearer req-token", r.Header.Get("Authorization"))
			assert.Equal(t, "api://ActionsOIDCGateway/Certify", r.URL.Query().Get("audience"))
			w.Write([]byte(`{"value":"oidc-token"}`))
		case r.URL.Path == "/v1/secrets" && r.Method == http.MethodPut:
			assert.Equal(t, "Bearer oidc-token", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			var payload []string
			if assert.NoError(t, json.Unmarshal(body, &payload)) && assert.Len(t, payload, 1) {
				assert.JSONEq(t, `{"OTP":{"name":"GitHub 2FA OTP","description":"OTP from authenticator app"}}`, payload[0])
			}
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/secrets" && r.Method == http.MethodGet:
			switch polls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("Token used before issued"))
			case 2:
				w.Write([]byte(`{"areSecretsSet":false}`))
			default:
				w.Write([]byte(`{"areSecretsSet":true,"secrets":{"OTP":"123456"}}`))
			}
		case r.URL.Path == "/v1/secrets" && r.Method == http.MethodDelete:
			deletes.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	notifier := new(MockNotifier)
	notifier.On("Push", mock.Anything, "Secret Required", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "https://app.test/secrets/owner/repo/42")
	})).Return(nil).Once()

	broker := NewStepSecurityBroker(httpclient.NewClient(), server.URL+"/v1/secrets", "https://app.test/", notifier, arbor.NewLogger())
	broker.pollInterval = 10 * time.Millisecond
	broker.getenv = envFrom(map[string]string{
		"GITHUB_REPOSITORY":              "owner/repo",
		"GITHUB_RUN_ID":                  "42",
		"ACTIONS_ID_TOKEN_REQUEST_TOKEN": "req-token",
		"ACTIONS_ID_TOKEN_REQUEST_URL":   server.URL + "/token?api-version=2.0",
	})

	values, err := broker.Get(context.Background(), otpSpec, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OTP": "123456"}, values)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, int32(1), deletes.Load())
	notifier.AssertExpectations(t)
}

func TestStepSecurityBroker_OutsideActions(t *testing.T) {
	broker := NewStepSecurityBroker(httpclient.NewClient(), "", "", nil, arbor.NewLogger())
	broker.getenv = envFrom(nil)

	values, err := broker.Get(context.Background(), otpSpec, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestStepSecurityBroker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Write([]byte(`{"value":"oidc-token"}`))
		default:
			if r.Method == http.MethodGet {
				w.Write([]byte(`{"areSecretsSet":false}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	broker := NewStepSecurityBroker(httpclient.NewClient(), server.URL+"/v1/secrets", "", nil, arbor.NewLogger())
	broker.pollInterval = 10 * time.Millisecond
	broker.getenv = envFrom(map[string]string{
		"GITHUB_REPOSITORY":              "owner/repo",
		"GITHUB_RUN_ID":                  "1",
		"ACTIONS_ID_TOKEN_REQUEST_TOKEN": "t",
		"ACTIONS_ID_TOKEN_REQUEST_URL":   server.URL + "/token?x=1",
	})

	values, err := broker.Get(context.Background(), otpSpec, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestExtractOTP(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Your GitHub launch code is 482913.", "482913"},
		{"Verification code: 12345678", "12345678"},
		{"Order 12345 shipped", ""},
		{"Code 123456789 is too long", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractOTP(tt.text), tt.text)
	}
}

func TestParseMessageBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: GitHub <noreply@github.com>",
		"Subject: [GitHub] Please verify your device",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=XYZ",
		"",
		"--XYZ",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Verification code: 111111</p>",
		"--XYZ",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Verification code: 654321",
		"--XYZ--",
		"",
	}, "\r\n")

	body, err := parseMessageBody(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Verification code: 654321", body)

	_, err = parseMessageBody(nil)
	assert.Error(t, err)
}

type fakeMailbox struct {
	emails [][]Email
	calls  int
	marked []uint32
}

func (f *fakeMailbox) FetchUnread(ctx context.Context, subjectFilter string, since time.Time) ([]Email, error) {
	i := f.calls
	f.calls++
	if i < len(f.emails) {
		return f.emails[i], nil
	}
	return nil, nil
}

func (f *fakeMailbox) MarkAsRead(ctx context.Context, id uint32) error {
	f.marked = append(f.marked, id)
	return nil
}

func TestIMAPBroker_Get(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	mailbox := &fakeMailbox{emails: [][]Email{
		nil,
		{
			{ID: 1, Subject: "[GitHub] code", Body: "old code 999999", Date: now.Add(-time.Hour)},
			{ID: 2, Subject: "[GitHub] code", Body: "no digits here", Date: now},
			{ID: 3, Subject: "[GitHub] code", Body: "Verification code: 246810", Date: now},
		},
	}}

	broker := NewIMAPBroker(mailbox, "GitHub", arbor.NewLogger())
	broker.pollInterval = 5 * time.Millisecond
	broker.now = func() time.Time { return now }

	values, err := broker.Get(context.Background(), otpSpec, time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OTP": "246810"}, values)
	assert.Equal(t, []uint32{3}, mailbox.marked)
	assert.Equal(t, 2, mailbox.calls)
}

func TestIMAPBroker_Timeout(t *testing.T) {
	broker := NewIMAPBroker(&fakeMailbox{}, "GitHub", arbor.NewLogger())
	broker.pollInterval = 5 * time.Millisecond

	values, err := broker.Get(context.Background(), otpSpec, 30*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestEnvBroker(t *testing.T) {
	broker := &EnvBroker{getenv: envFrom(map[string]string{"CHECKIN_SECRET_OTP": "777777"})}
	values, err := broker.Get(context.Background(), otpSpec, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OTP": "777777"}, values)

	broker.getenv = envFrom(nil)
	values, err = broker.Get(context.Background(), otpSpec, 0)
	assert.NoError(t, err)
	assert.Nil(t, values)
}

func TestNewBroker(t *testing.T) {
	logger := arbor.NewLogger()
	client := httpclient.NewClient()

	assert.Nil(t, NewBroker(common.SecretsConfig{Broker: "none"}, client, nil, nil, logger))
	assert.IsType(t, &EnvBroker{}, NewBroker(common.SecretsConfig{Broker: "env"}, client, nil, nil, logger))
	assert.IsType(t, &IMAPBroker{}, NewBroker(common.SecretsConfig{Broker: "imap"}, client, nil, nil, logger))
	assert.IsType(t, &StepSecurityBroker{}, NewBroker(common.SecretsConfig{Broker: "stepsecurity"}, client, nil, nil, logger))
}

func TestIMAPMailbox_GetConfig(t *testing.T) {
	mailbox := NewIMAPMailbox(common.IMAPConfig{Host: "imap.test", Username: "u", Password: "p"}, nil, arbor.NewLogger())
	config := mailbox.GetConfig(context.Background())
	assert.Equal(t, 993, config.Port)
	assert.True(t, config.IsConfigured())

	empty := NewIMAPMailbox(common.IMAPConfig{}, nil, arbor.NewLogger())
	_, err := empty.FetchUnread(context.Background(), "", time.Time{})
	assert.EqualError(t, err, "IMAP not configured")
}
