package httpclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/checkin/internal/models"
)

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ChallengeKind
	}{
		{"json", `{"success":true}`, ChallengeNone},
		{"cloudflare title", `<html><head><title>Just a moment...</title></head><body></body></html>`, ChallengeCloudflare},
		{"cloudflare form", `<html><body><form id="challenge-form"></form></body></html>`, ChallengeCloudflare},
		{"aliyun waf script", `<html><script>var arg1='ABCDEF';</script></html>`, ChallengeWAF},
		{"plain html", `<html><head><title>Login</title></head><body>hello</body></html>`, ChallengeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &models.HTTPResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte(tt.body)}
			assert.Equal(t, tt.want, DetectChallenge(resp))
		})
	}
}

func TestSummary(t *testing.T) {
	jsonResp := &models.HTTPResponse{Body: []byte(`{"success":false,"message":"invalid key"}`)}
	assert.Equal(t, "invalid key", Summary(jsonResp, 50))

	htmlResp := &models.HTTPResponse{
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(`<html><body><h1>Forbidden</h1><p>Access denied</p></body></html>`),
	}
	summary := Summary(htmlResp, 100)
	assert.Contains(t, summary, "Forbidden")
	assert.Contains(t, summary, "Access denied")
	assert.NotContains(t, summary, "<h1>")

	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 3))
}
