package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/checkin/internal/models"
)

func jsonResponse(status int, body string) *models.HTTPResponse {
	return &models.HTTPResponse{Status: status, Body: []byte(body)}
}

func TestNewAPIClassifier_CheckIn(t *testing.T) {
	c := &NewAPIClassifier{}

	tests := []struct {
		name    string
		body    string
		success bool
		message string
	}{
		{"ret one", `{"ret":1}`, true, "Check-in successful"},
		{"code zero", `{"code":0,"msg":"ok"}`, true, "ok"},
		{"success flag", `{"success":true,"message":"签到成功"}`, true, "签到成功"},
		{"already marker", `{"success":false,"message":"今天已经签到"}`, true, "今天已经签到"},
		{"string code is not zero", `{"code":"0"}`, false, "Unknown error"},
		{"missing code", `{"success":false,"message":"token invalid"}`, false, "token invalid"},
		{"plain text success", `check-in success`, true, "Check-in successful"},
		{"html", `<html>blocked</html>`, false, "Invalid response format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.CheckIn(jsonResponse(200, tt.body))
			assert.Equal(t, tt.success, v.Success)
			assert.Equal(t, tt.message, v.Message)
		})
	}
}

func TestNewAPIClassifier_CheckInDetails(t *testing.T) {
	c := &NewAPIClassifier{}
	v := c.CheckIn(jsonResponse(200, `{"success":true,"data":{"quota_awarded":1000000,"checkin_date":"2026-10-16","code":"CDK-XYZ"}}`))

	assert.True(t, v.Success)
	assert.Equal(t, 2.0, v.QuotaAwarded)
	assert.Equal(t, "2026-10-16", v.CheckinDate)
	assert.Equal(t, []models.CdkToken{"CDK-XYZ"}, v.Codes)
}

func TestNewAPIClassifier_CheckInStatusCodeIsNotEmitted(t *testing.T) {
	c := &NewAPIClassifier{}
	v := c.CheckIn(jsonResponse(200, `{"success":true,"code":"SUCCESS","message":"签到成功"}`))

	assert.True(t, v.Success)
	assert.Equal(t, "签到成功", v.Message)
	assert.Empty(t, v.Codes)
}

func TestNewAPIClassifier_Topup(t *testing.T) {
	c := &NewAPIClassifier{}

	tests := []struct {
		name   string
		status int
		body   string
		kind   models.RedemptionKind
	}{
		{"success", 200, `{"success":true,"message":"兑换成功"}`, models.RedemptionSuccess},
		{"already used chinese", 400, `{"success":false,"message":"该兑换码已被使用"}`, models.RedemptionAlreadyUsed},
		{"already used english", 200, `{"success":false,"message":"Code Already redeemed"}`, models.RedemptionAlreadyUsed},
		{"invalid key", 200, `{"success":false,"message":"无效的兑换码"}`, models.RedemptionFailure},
		{"server error", 502, `{"success":true}`, models.RedemptionFailure},
		{"non json", 200, `<html>waf</html>`, models.RedemptionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, c.Topup(jsonResponse(tt.status, tt.body)).Kind)
		})
	}

	assert.Equal(t, "HTTP 502", c.Topup(jsonResponse(502, `{}`)).Message)
}
