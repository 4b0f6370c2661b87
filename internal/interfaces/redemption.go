package interfaces

import (
	"context"

	"github.com/ternarybob/checkin/internal/models"
)

// CdkSource is a lazy, finite, non-restartable sequence of tokens.
// Next returns ok=false when the sequence is exhausted. Each call may perform network I/O.
type CdkSource interface {
	Name() string
	Next(ctx context.Context) (token models.CdkToken, ok bool, err error)
}

// ResponseClassifier reads a provider's heterogeneous success signals
type ResponseClassifier interface {
	CheckIn(resp *models.HTTPResponse) models.CheckInVerdict
	Topup(resp *models.HTTPResponse) models.RedemptionOutcome
}

// CheckInStatusQuery answers whether the account already checked in today
type CheckInStatusQuery interface {
	CheckedInToday(ctx context.Context, provider *models.Provider, session *models.Session) (bool, error)
}
