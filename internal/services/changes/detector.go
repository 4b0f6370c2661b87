// -----------------------------------------------------------------------
// Change Detector - balance hash used to deduplicate notifications
// -----------------------------------------------------------------------

package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// DefaultCategory namespaces the hash when none is configured
const DefaultCategory = "newapi"

const keyPrefix = "balance_hash:"

// Decision is the outcome of comparing this run's balances with the previous run
type Decision struct {
	Hash     string
	Previous string
	FirstRun bool
	Changed  bool
	Notify   bool
}

// Detector compares balance hashes across runs through key/value storage
type Detector struct {
	kv       interfaces.KeyValueStorage
	logger   arbor.ILogger
	category string
}

func NewDetector(kv interfaces.KeyValueStorage, logger arbor.ILogger, category string) *Detector {
	if category == "" {
		category = DefaultCategory
	}
	return &Detector{kv: kv, logger: logger, category: category}
}

// Key is the storage key of the persisted hash
func (d *Detector) Key() string {
	return keyPrefix + d.category
}

// Balances canonicalizes the run's balances. Accounts with a single successful
// method use the account key; several methods are qualified by method name.
func Balances(report *models.RunReport) map[string]string {
	out := make(map[string]string)
	for i := range report.Accounts {
		acc := &report.Accounts[i]
		balances := acc.Balances()
		for method, b := range balances {
			key := acc.Key
			if len(balances) > 1 {
				key = acc.Key + "." + string(method)
			}
			out[key] = formatFloat(b.Quota) + ":" + formatFloat(b.UsedQuota)
		}
	}
	return out
}

// Hash returns the first 16 hex chars of sha256 over the sorted JSON object,
// or empty when there are no balances.
func Hash(balances map[string]string) string {
	if len(balances) == 0 {
		return ""
	}
	// encoding/json writes map keys in sorted order
	data, err := json.Marshal(balances)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// ShouldNotify is true on the first run or when the hash differs from the previous one
func ShouldNotify(hash, previous string) bool {
	if hash == "" {
		return false
	}
	return previous == "" || hash != previous
}

// Evaluate loads the previous hash and decides whether the run is notification-worthy.
// Failures in the report always notify.
func (d *Detector) Evaluate(ctx context.Context, report *models.RunReport) (*Decision, error) {
	decision := &Decision{Hash: Hash(Balances(report))}

	previous, err := d.kv.Get(ctx, d.Key())
	switch {
	case errors.Is(err, interfaces.ErrKeyNotFound):
		decision.FirstRun = true
	case err != nil:
		return nil, fmt.Errorf("failed to load balance hash: %w", err)
	default:
		decision.Previous = previous
	}

	decision.Changed = decision.Hash != "" && decision.Previous != "" && decision.Hash != decision.Previous
	decision.Notify = ShouldNotify(decision.Hash, decision.Previous) || report.HasFailures

	d.logger.Info().
		Str("hash", decision.Hash).
		Str("previous", decision.Previous).
		Bool("first_run", decision.FirstRun).
		Bool("changed", decision.Changed).
		Bool("notify", decision.Notify).
		Msg("Balance change detection")

	return decision, nil
}

// Save persists the hash; an empty hash is not stored
func (d *Detector) Save(ctx context.Context, hash string) error {
	if hash == "" {
		return nil
	}
	if err := d.kv.Set(ctx, d.Key(), hash, "Balance hash of the last run"); err != nil {
		return fmt.Errorf("failed to save balance hash: %w", err)
	}
	return nil
}

// Previous returns the persisted hash, empty when none exists
func (d *Detector) Previous(ctx context.Context) (string, error) {
	value, err := d.kv.Get(ctx, d.Key())
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return "", nil
	}
	return value, err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
