package httpclient

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/checkin/internal/models"
)

// ChallengeKind names the anti-bot interstitial found in a response body
type ChallengeKind string

const (
	ChallengeNone       ChallengeKind = ""
	ChallengeCloudflare ChallengeKind = "cloudflare"
	ChallengeWAF        ChallengeKind = "waf"
)

// DetectChallenge inspects a non-JSON body for a known interstitial page
func DetectChallenge(resp *models.HTTPResponse) ChallengeKind {
	if resp == nil || resp.IsJSON() || len(resp.Body) == 0 {
		return ChallengeNone
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return ChallengeNone
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if strings.Contains(title, "just a moment") ||
		doc.Find("#challenge-form, #cf-challenge-running, #challenge-error-text").Length() > 0 ||
		resp.Header.Get("cf-mitigated") == "challenge" {
		return ChallengeCloudflare
	}

	waf := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, "acw_sc__v2") || strings.Contains(text, "arg1=") {
			waf = true
			return false
		}
		return true
	})
	if waf || doc.Find("#traceid, #aliyunCaptcha-window-popup").Length() > 0 {
		return ChallengeWAF
	}

	return ChallengeNone
}

// Summary renders a short human readable description of a response for
// failure messages: the JSON message, or the body text with HTML reduced to markdown.
func Summary(resp *models.HTTPResponse, limit int) string {
	if resp == nil {
		return ""
	}
	var text string
	switch {
	case resp.IsJSON():
		text = resp.Message()
		if text == "" {
			text = resp.Text()
		}
	case strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") || bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("<")):
		converter := md.NewConverter("", true, nil)
		converted, err := converter.ConvertString(resp.Text())
		if err != nil {
			text = resp.Text()
		} else {
			text = converted
		}
	default:
		text = resp.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	return Truncate(text, limit)
}

// Truncate shortens s to limit runes, appending "..." when cut
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
