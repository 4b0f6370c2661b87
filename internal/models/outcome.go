package models

import (
	"fmt"
	"time"
)

// CdkToken is an opaque single-use redemption code
type CdkToken string

// Masked returns a log-safe prefix of the token
func (t CdkToken) Masked() string {
	s := string(t)
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "***"
}

// RedemptionKind tags a RedemptionOutcome
type RedemptionKind int

const (
	RedemptionSuccess RedemptionKind = iota
	RedemptionAlreadyUsed
	RedemptionFailure
)

func (k RedemptionKind) String() string {
	switch k {
	case RedemptionSuccess:
		return "success"
	case RedemptionAlreadyUsed:
		return "already_used"
	}
	return "failure"
}

// RedemptionOutcome is the classified result of one top-up call
type RedemptionOutcome struct {
	Kind    RedemptionKind
	Message string
}

func Redeemed(msg string) RedemptionOutcome    { return RedemptionOutcome{Kind: RedemptionSuccess, Message: msg} }
func AlreadyUsed(msg string) RedemptionOutcome { return RedemptionOutcome{Kind: RedemptionAlreadyUsed, Message: msg} }
func RedeemFailed(reason string) RedemptionOutcome {
	return RedemptionOutcome{Kind: RedemptionFailure, Message: reason}
}

// Continues reports whether the pipeline may pull the next token
func (o RedemptionOutcome) Continues() bool {
	return o.Kind != RedemptionFailure
}

// RedemptionStats aggregates the pipeline across all sources
type RedemptionStats struct {
	Attempted    int
	Succeeded    int
	AlreadyUsed  int
	Failures     []string
	SourceErrors []string
}

// Success is true iff no top-up returned Failure
func (s *RedemptionStats) Success() bool {
	return len(s.Failures) == 0
}

// Balance is the account balance in display units
type Balance struct {
	Quota      float64 `json:"quota"`
	UsedQuota  float64 `json:"used_quota"`
	BonusQuota float64 `json:"bonus_quota"`
}

func (b Balance) Display() string {
	return fmt.Sprintf("Current balance: $%s, Used: $%s, Bonus: $%s",
		formatAmount(b.Quota), formatAmount(b.UsedQuota), formatAmount(b.BonusQuota))
}

// CheckInResult is the outcome of the check-in stage
type CheckInResult struct {
	Success        bool
	AlreadyDone    bool
	Implicit       bool
	Message        string
	RedeemedAmount float64
	EmittedCodes   []CdkToken
}

// AccountOutcome is the result of one authentication method and the stages that ran on its session
type AccountOutcome struct {
	Method         AuthMethod
	Success        bool
	SessionSummary string
	Err            error
	CheckIn        *CheckInResult
	Redemption     *RedemptionStats
	Balance        *Balance
}

// Failed builds a failed outcome for a method
func Failed(method AuthMethod, err error) AccountOutcome {
	return AccountOutcome{Method: method, Err: err}
}

// ErrorText returns the failure reason or "Unknown error"
func (o AccountOutcome) ErrorText() string {
	if o.Err == nil {
		return "Unknown error"
	}
	return ReasonOf(o.Err)
}

// AccountReport folds the method outcomes of one account
type AccountReport struct {
	Key      string
	Name     string
	Provider string
	Outcomes []AccountOutcome
	Error    string // account-level failure that prevented any method from running
}

// Succeeded is true when any method succeeded
func (r *AccountReport) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// SuccessCount counts successful methods
func (r *AccountReport) SuccessCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Partial is true when some but not all methods succeeded
func (r *AccountReport) Partial() bool {
	n := r.SuccessCount()
	return n > 0 && n < len(r.Outcomes)
}

// Balances returns the balances of successful methods keyed by method
func (r *AccountReport) Balances() map[AuthMethod]Balance {
	out := map[AuthMethod]Balance{}
	for _, o := range r.Outcomes {
		if o.Success && o.Balance != nil {
			out[o.Method] = *o.Balance
		}
	}
	return out
}

// RunReport is the run-level fold of all accounts
type RunReport struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Accounts     []AccountReport
	SuccessCount int
	TotalCount   int
	Lines        []string
	HasFailures  bool
}

// ExitCode is 0 when at least one method attempt succeeded
func (r *RunReport) ExitCode() int {
	if r.SuccessCount > 0 {
		return 0
	}
	return 1
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
