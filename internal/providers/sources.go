package providers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// SourceFactory builds a fresh CdkSource for one account-run.
// Sources are non-restartable, so a factory is invoked once per run.
type SourceFactory func(deps SourceDeps) interfaces.CdkSource

// SourceDeps carries what a source needs to reach its code supply
type SourceDeps struct {
	HTTP    interfaces.HTTPClient
	Logger  arbor.ILogger
	Account *models.Account
	Session *models.Session
}

// baseHeaders starts side-site requests from the session's browser-consistent headers
func (d SourceDeps) baseHeaders() map[string]string {
	out := make(map[string]string)
	if d.Session != nil {
		for k, v := range d.Session.Headers {
			out[k] = v
		}
	}
	return out
}

func (d SourceDeps) proxy() string {
	if d.Account == nil {
		return ""
	}
	return d.Account.EffectiveProxy()
}

// StaticSource yields a fixed list of tokens, skipping empty and duplicate entries
type StaticSource struct {
	name   string
	tokens []models.CdkToken
	pos    int
}

// NewStaticSource creates a source over the given tokens
func NewStaticSource(name string, tokens []models.CdkToken) *StaticSource {
	seen := make(map[models.CdkToken]bool, len(tokens))
	unique := make([]models.CdkToken, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	return &StaticSource{name: name, tokens: unique}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Next(ctx context.Context) (models.CdkToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.pos >= len(s.tokens) {
		return "", false, nil
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, true, nil
}

// newExtraCodesSource reads externally supplied codes from the account's "cdks" extra key
func newExtraCodesSource(deps SourceDeps) interfaces.CdkSource {
	var tokens []models.CdkToken
	if deps.Account != nil {
		for _, c := range deps.Account.Extra.Strings("cdks") {
			tokens = append(tokens, models.CdkToken(c))
		}
	}
	return NewStaticSource(SourceExtraCodes, tokens)
}
