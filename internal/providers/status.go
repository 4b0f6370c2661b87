package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// checkedPaths are the fields new-api forks use to report today's check-in
var checkedPaths = []string{
	"checked",
	"data.checked",
	"data.checked_in",
	"data.checked_in_today",
	"data.stats.checked_in_today",
}

// PathStatusQuery asks a provider's status endpoint whether today's check-in is done
type PathStatusQuery struct {
	http interfaces.HTTPClient
}

func NewPathStatusQuery(httpClient interfaces.HTTPClient) *PathStatusQuery {
	return &PathStatusQuery{http: httpClient}
}

// CheckedInToday returns false without error when the body carries none of the known fields
func (q *PathStatusQuery) CheckedInToday(ctx context.Context, provider *models.Provider, session *models.Session) (bool, error) {
	if provider.CheckInStatus == "" {
		return false, fmt.Errorf("provider %s has no check-in status endpoint", provider.ID)
	}

	target := provider.CheckInStatus
	if !strings.HasPrefix(target, "http") {
		target = strings.TrimRight(provider.Origin, "/") + target
	}
	target = strings.ReplaceAll(target, "{user_id}", session.AccountID)

	resp, err := q.http.Do(ctx, &models.HTTPRequest{
		Method:  http.MethodGet,
		URL:     target,
		Headers: session.RequestHeaders(provider),
		Cookies: session.Cookies,
		Proxy:   session.Proxy,
	})
	if err != nil {
		return false, err
	}
	if resp.Status != http.StatusOK {
		return false, fmt.Errorf("check-in status: HTTP %d", resp.Status)
	}
	if !resp.IsJSON() {
		return false, fmt.Errorf("check-in status: invalid response format")
	}

	js := resp.JSON()
	for _, path := range checkedPaths {
		if v := js.Get(path); v.Exists() {
			return v.Bool(), nil
		}
	}
	return false, nil
}

var _ interfaces.CheckInStatusQuery = (*PathStatusQuery)(nil)
