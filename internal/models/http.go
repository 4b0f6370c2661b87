package models

import (
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPRequest is a single provider call
type HTTPRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Cookies  map[string]string
	JSONBody any
	Timeout  time.Duration
	Proxy    string
}

// HTTPResponse is a fully read provider response
type HTTPResponse struct {
	Status     int
	Header     http.Header
	Body       []byte
	SetCookies map[string]string
	URL        string
}

// IsJSON reports whether the body parses as a JSON object or array
func (r *HTTPResponse) IsJSON() bool {
	if r == nil || len(r.Body) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(string(r.Body))
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return false
	}
	return gjson.ValidBytes(r.Body)
}

// JSON returns a gjson view over the body; missing fields read as zero values
func (r *HTTPResponse) JSON() gjson.Result {
	if r == nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(r.Body)
}

// Get reads one field by gjson path
func (r *HTTPResponse) Get(path string) gjson.Result {
	return r.JSON().Get(path)
}

// Message returns "message", falling back to "msg"
func (r *HTTPResponse) Message() string {
	js := r.JSON()
	if m := js.Get("message"); m.Exists() && m.String() != "" {
		return m.String()
	}
	return js.Get("msg").String()
}

func (r *HTTPResponse) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// StatusIn reports whether the status is one of the given codes
func (r *HTTPResponse) StatusIn(codes ...int) bool {
	for _, c := range codes {
		if r.Status == c {
			return true
		}
	}
	return false
}

// CheckInVerdict is a classifier's reading of a check-in response
type CheckInVerdict struct {
	Success      bool
	Message      string
	QuotaAwarded float64
	CheckinDate  string
	Codes        []CdkToken
}
