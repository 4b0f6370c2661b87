package providers

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

var (
	checkInSuccessMarkers = []string{"已经签到", "签到成功"}
	alreadyUsedMarkers    = []string{"已被使用", "already", "已使用"}
)

// NewAPIClassifier reads the response conventions of new-api style providers
type NewAPIClassifier struct {
	Divisor float64
}

// CheckIn accepts ret==1, code==0, success==true or a success marker in the message.
// A non-JSON body containing "success" is the last-resort success signal.
func (c *NewAPIClassifier) CheckIn(resp *models.HTTPResponse) models.CheckInVerdict {
	if !resp.IsJSON() {
		if strings.Contains(strings.ToLower(resp.Text()), "success") {
			return models.CheckInVerdict{Success: true, Message: "Check-in successful"}
		}
		return models.CheckInVerdict{Message: "Invalid response format"}
	}

	js := resp.JSON()
	message := resp.Message()

	ok := js.Get("ret").Int() == 1 ||
		isZeroNumber(js.Get("code")) ||
		js.Get("success").Bool() ||
		containsAny(message, checkInSuccessMarkers)
	if !ok {
		if message == "" {
			message = "Unknown error"
		}
		return models.CheckInVerdict{Message: message}
	}

	verdict := models.CheckInVerdict{
		Success:     true,
		Message:     message,
		CheckinDate: js.Get("data.checkin_date").String(),
	}
	if verdict.Message == "" {
		verdict.Message = "Check-in successful"
	}
	if awarded := js.Get("data.quota_awarded").Float(); awarded > 0 {
		verdict.QuotaAwarded = awarded / c.divisor()
	}
	// Top-level "code" is a status string on many forks, never a redemption code
	for _, path := range []string{"data.code", "data.cdk"} {
		if v := js.Get(path); v.Type == gjson.String && v.String() != "" {
			verdict.Codes = append(verdict.Codes, models.CdkToken(v.String()))
			break
		}
	}
	return verdict
}

// Topup maps success to Success, an already-used marker to AlreadyUsed and anything else to Failure
func (c *NewAPIClassifier) Topup(resp *models.HTTPResponse) models.RedemptionOutcome {
	if !resp.StatusIn(200, 400) {
		return models.RedeemFailed("HTTP " + strconv.Itoa(resp.Status))
	}
	if !resp.IsJSON() {
		return models.RedeemFailed("Invalid response type: " + httpclient.Summary(resp, 80))
	}
	message := resp.Message()
	if resp.Get("success").Bool() {
		if message == "" {
			message = "Topup successful"
		}
		return models.Redeemed(message)
	}
	if containsAny(strings.ToLower(message), alreadyUsedMarkers) {
		return models.AlreadyUsed(message)
	}
	if message == "" {
		message = "Unknown error"
	}
	return models.RedeemFailed(message)
}

func (c *NewAPIClassifier) divisor() float64 {
	if c.Divisor <= 0 {
		return models.DefaultQuotaDivisor
	}
	return c.Divisor
}

func isZeroNumber(v gjson.Result) bool {
	return v.Type == gjson.Number && v.Int() == 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

var _ interfaces.ResponseClassifier = (*NewAPIClassifier)(nil)
