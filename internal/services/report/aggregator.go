// -----------------------------------------------------------------------
// Outcome Aggregator - folds method outcomes into account and run reports
// -----------------------------------------------------------------------

package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/httpclient"
	"github.com/ternarybob/checkin/internal/models"
)

const (
	errorDisplayLimit = 50
	separator         = "-------------------------------"
	timeLayout        = "2006-01-02 15:04:05"
)

// Aggregator builds reports; it never fails
type Aggregator struct {
	logger arbor.ILogger
}

func NewAggregator(logger arbor.ILogger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Account folds the method outcomes of one account
func (a *Aggregator) Account(account *models.Account, outcomes []models.AccountOutcome) models.AccountReport {
	return models.AccountReport{
		Key:      account.Key(),
		Name:     account.DisplayName(),
		Provider: account.Provider,
		Outcomes: outcomes,
	}
}

// Failed records an account that could not run any method, from a config
// error or a recovered panic
func (a *Aggregator) Failed(account *models.Account, reason string) models.AccountReport {
	return models.AccountReport{
		Key:      account.Key(),
		Name:     account.DisplayName(),
		Provider: account.Provider,
		Error:    reason,
	}
}

// Run folds the account reports into the run report and renders its lines
func (a *Aggregator) Run(runID string, started, finished time.Time, accounts []models.AccountReport) *models.RunReport {
	report := &models.RunReport{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Accounts:   accounts,
	}

	for i := range accounts {
		acc := &accounts[i]
		report.TotalCount += len(acc.Outcomes)
		report.SuccessCount += acc.SuccessCount()
		if acc.Error != "" || !acc.Succeeded() || acc.Partial() {
			report.HasFailures = true
		}
		report.Lines = append(report.Lines, accountLines(acc)...)
	}

	a.logger.Info().
		Str("run_id", runID).
		Int("success", report.SuccessCount).
		Int("total", report.TotalCount).
		Bool("has_failures", report.HasFailures).
		Msg("Run aggregated")

	return report
}

func accountLines(acc *models.AccountReport) []string {
	if acc.Error != "" {
		return []string{fmt.Sprintf("[FAIL] %s: %s", acc.Name, truncate(acc.Error))}
	}

	lines := []string{fmt.Sprintf("%s Summary:", acc.Name)}
	failed := 0
	for _, o := range acc.Outcomes {
		if o.Success {
			lines = append(lines, fmt.Sprintf("  [SUCCESS] with %s authentication", o.Method))
			if o.Balance != nil {
				lines = append(lines, "    "+o.Balance.Display())
			}
			if r := o.Redemption; r != nil && r.Attempted > 0 {
				lines = append(lines, fmt.Sprintf("    Redeemed %d/%d codes (%d already used)", r.Succeeded, r.Attempted, r.AlreadyUsed))
			}
			continue
		}
		failed++
		lines = append(lines,
			fmt.Sprintf("  [FAILED] with %s authentication", o.Method),
			"    Error: "+truncate(o.ErrorText()),
		)
	}

	stats := fmt.Sprintf("Statistics: %d/%d methods successful", len(acc.Outcomes)-failed, len(acc.Outcomes))
	if failed > 0 {
		stats += fmt.Sprintf(" (%d failed)", failed)
	}
	return append(lines, "", stats)
}

// truncate mirrors the fixed-width error display of the notification
func truncate(s string) string {
	return httpclient.Truncate(s, errorDisplayLimit)
}

// Summary returns the run-level statistics block
func Summary(report *models.RunReport) []string {
	lines := []string{
		separator,
		"Check-in result statistics:",
		fmt.Sprintf("Success: %d/%d", report.SuccessCount, report.TotalCount),
		fmt.Sprintf("Failed: %d/%d", report.TotalCount-report.SuccessCount, report.TotalCount),
	}
	switch {
	case report.TotalCount > 0 && report.SuccessCount == report.TotalCount:
		lines = append(lines, "All accounts check-in successful!")
	case report.SuccessCount > 0:
		lines = append(lines, "Some accounts check-in successful")
	default:
		lines = append(lines, "All accounts check-in failed")
	}
	return lines
}

// Render produces the notification body: execution time, account blocks and summary
func Render(report *models.RunReport) string {
	blocks := make([]string, 0, len(report.Accounts))
	for i := range report.Accounts {
		blocks = append(blocks, strings.Join(accountLines(&report.Accounts[i]), "\n"))
	}

	sections := []string{
		"Execution time: " + report.FinishedAt.Format(timeLayout),
		strings.Join(blocks, "\n"+separator+"\n"),
		strings.Join(Summary(report), "\n"),
	}
	return strings.Join(sections, "\n\n")
}
