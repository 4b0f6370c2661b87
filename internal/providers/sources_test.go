package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/models"
)

func testDeps(extra models.Extra) SourceDeps {
	return SourceDeps{
		HTTP:    httpclient.NewClient(httpclient.WithTimeout(5 * time.Second)),
		Logger:  arbor.NewLogger(),
		Account: &models.Account{Index: 0, Provider: "runawaytime", Extra: extra},
		Session: models.NewSession(nil, map[string]string{"User-Agent": "test-agent"}, "42"),
	}
}

func drain(t *testing.T, next func(context.Context) (models.CdkToken, bool, error)) ([]models.CdkToken, error) {
	t.Helper()
	var tokens []models.CdkToken
	for i := 0; i < 20; i++ {
		token, ok, err := next(context.Background())
		if err != nil {
			return tokens, err
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, token)
	}
	t.Fatal("source did not terminate")
	return nil, nil
}

func TestStaticSource_SkipsEmptyAndDuplicates(t *testing.T) {
	s := NewStaticSource("static", []models.CdkToken{"A", "", "B", "A"})
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Equal(t, []models.CdkToken{"A", "B"}, tokens)

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtraCodesSource(t *testing.T) {
	s := newExtraCodesSource(testDeps(models.Extra{"cdks": []any{"X-1", "X-2"}}))
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Equal(t, []models.CdkToken{"X-1", "X-2"}, tokens)
}

func TestFuliCheckInSource_IssuesCode(t *testing.T) {
	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); assert.NoError(t, err) {
			assert.Equal(t, "fuli", c.Value)
		}
		switch r.URL.Path {
		case fuliCheckInStatusPath:
			w.Write([]byte(`{"checked":false,"streak":3}`))
		case fuliCheckInPath:
			atomic.AddInt32(&posts, 1)
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"success":true,"code":"FULI-1","streak":4,"expireSeconds":600}`))
		}
	}))
	defer server.Close()

	s := &FuliCheckInSource{deps: testDeps(models.Extra{"fuli_cookies": "session=fuli"}), origin: server.URL}
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Equal(t, []models.CdkToken{"FULI-1"}, tokens)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestFuliCheckInSource_AlreadyChecked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == fuliCheckInPath {
			t.Error("check-in must not run when already checked")
		}
		w.Write([]byte(`{"checked":true}`))
	}))
	defer server.Close()

	s := &FuliCheckInSource{deps: testDeps(models.Extra{"fuli_cookies": map[string]any{"session": "fuli"}}), origin: server.URL}
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestFuliCheckInSource_MissingCookies(t *testing.T) {
	s := NewFuliCheckInSource(testDeps(nil))
	_, ok, err := s.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "fuli_cookies")
}

func TestFuliWheelSource_SpinsUntilExhausted(t *testing.T) {
	remaining := int32(2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case fuliWheelStatusPath:
			w.Write([]byte(`{"remaining":2}`))
		case fuliWheelPath:
			left := atomic.AddInt32(&remaining, -1)
			if left == 1 {
				w.Write([]byte(`{"success":true,"code":"WHEEL-1","prize":"$5","remaining":1}`))
				return
			}
			w.Write([]byte(`{"success":true,"code":"WHEEL-2","prize":"$1","remaining":0}`))
		}
	}))
	defer server.Close()

	s := &FuliWheelSource{deps: testDeps(models.Extra{"fuli_cookies": "session=fuli"}), origin: server.URL}
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Equal(t, []models.CdkToken{"WHEEL-1", "WHEEL-2"}, tokens)
	assert.Equal(t, int32(0), atomic.LoadInt32(&remaining))
}

func TestFuliWheelSource_ExhaustedMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case fuliWheelStatusPath:
			w.Write([]byte(`{"remaining":3}`))
		case fuliWheelPath:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"message":"今日次数已用完"}`))
		}
	}))
	defer server.Close()

	s := &FuliWheelSource{deps: testDeps(models.Extra{"fuli_cookies": "session=fuli"}), origin: server.URL}
	tokens, err := drain(t, s.Next)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestX666LotterySource(t *testing.T) {
	tests := []struct {
		name       string
		infoStatus int
		info       string
		spin       string
		tokens []models.CdkToken
		err    string
	}{
		{
			name:   "spin available",
			info:   `{"success":true,"data":{"can_spin":true}}`,
			spin:   `{"success":true,"data":{"label":"$2","cdk":"X666-NEW"}}`,
			tokens: []models.CdkToken{"X666-NEW"},
		},
		{
			name:   "already spun returns today's code",
			info:   `{"success":true,"data":{"can_spin":false,"today_record":{"cdk":"X666-OLD"}}}`,
			tokens: []models.CdkToken{"X666-OLD"},
		},
		{
			name: "already spun message",
			info: `{"success":true,"data":{"can_spin":true}}`,
			spin: `{"success":false,"message":"今天已抽奖"}`,
		},
		{
			name: "spin failure",
			info: `{"success":true,"data":{"can_spin":true}}`,
			spin: `{"success":false,"message":"activity closed"}`,
			err:  "activity closed",
		},
		{
			name:   "unsuccessful user info still spins",
			info:   `{"success":false,"message":"busy"}`,
			spin:   `{"success":true,"data":{"cdk":"X666-SPUN"}}`,
			tokens: []models.CdkToken{"X666-SPUN"},
		},
		{
			name:       "user info error page still spins",
			infoStatus: http.StatusBadGateway,
			info:       `<html>bad gateway</html>`,
			spin:       `{"success":true,"data":{"cdk":"X666-SPUN"}}`,
			tokens:     []models.CdkToken{"X666-SPUN"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				switch r.URL.Path {
				case x666UserInfoPath:
					if tt.infoStatus != 0 {
						w.WriteHeader(tt.infoStatus)
					}
					w.Write([]byte(tt.info))
				case x666SpinPath:
					w.Write([]byte(tt.spin))
				}
			}))
			defer server.Close()

			s := &X666LotterySource{deps: testDeps(models.Extra{"access_token": "tok"}), origin: server.URL}
			tokens, err := drain(t, s.Next)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tokens, tokens)
		})
	}
}
