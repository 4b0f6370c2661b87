package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
	"github.com/ternarybob/checkin/internal/interfaces"
	"github.com/ternarybob/checkin/internal/models"
)

// Source and classifier ids referenced from provider descriptors
const (
	SourceExtraCodes  = "extra_cdks"
	SourceFuliCheckIn = "fuli_checkin"
	SourceFuliWheel   = "fuli_wheel"
	SourceX666Lottery = "x666_lottery"

	ClassifierNewAPI = "newapi"
)

// Registry resolves provider ids to immutable descriptors and the behaviour
// attached to them (classifier, status query, CDK sources).
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*models.Provider
	classifiers map[string]interfaces.ResponseClassifier
	sources     map[string]SourceFactory
	status      interfaces.CheckInStatusQuery
	http        interfaces.HTTPClient
	logger      arbor.ILogger
}

// NewRegistry creates a registry holding the built-in providers
func NewRegistry(httpClient interfaces.HTTPClient, logger arbor.ILogger) *Registry {
	r := &Registry{
		providers: make(map[string]*models.Provider),
		classifiers: map[string]interfaces.ResponseClassifier{
			ClassifierNewAPI: &NewAPIClassifier{},
		},
		sources: map[string]SourceFactory{
			SourceExtraCodes:  newExtraCodesSource,
			SourceFuliCheckIn: NewFuliCheckInSource,
			SourceFuliWheel:   NewFuliWheelSource,
			SourceX666Lottery: NewX666LotterySource,
		},
		status: NewPathStatusQuery(httpClient),
		http:   httpClient,
		logger: logger,
	}
	for _, p := range builtins() {
		r.providers[p.ID] = p
	}
	return r
}

func builtins() []*models.Provider {
	return []*models.Provider{
		models.Provider{
			ID:                "anyrouter",
			Origin:            "https://anyrouter.top",
			Bypass:            models.BypassWAFCookies,
			BypassCookieNames: []string{"acw_tc", "cdn_sec_tc", "acw_sc__v2"},
			CheckIn:           models.StaticPath(models.DefaultSignInPath),
			Classifier:        ClassifierNewAPI,
		}.WithDefaults(),
		models.Provider{
			ID:         "agentrouter",
			Origin:     "https://agentrouter.org",
			Classifier: ClassifierNewAPI,
		}.WithDefaults(),
		models.Provider{
			ID:         "runawaytime",
			Origin:     "https://runanytime.hxi.me",
			Sources:    []string{SourceFuliCheckIn, SourceFuliWheel},
			Classifier: ClassifierNewAPI,
		}.WithDefaults(),
		models.Provider{
			ID:         "x666",
			Origin:     "https://x666.me",
			Sources:    []string{SourceX666Lottery},
			Classifier: ClassifierNewAPI,
		}.WithDefaults(),
	}
}

// ApplyOverrides adds or fully replaces providers from configuration.
// Invalid entries are logged and skipped so one bad provider never blocks the others.
func (r *Registry) ApplyOverrides(overrides map[string]common.ProviderOverride) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		provider, err := r.fromOverride(name, overrides[name])
		if err != nil {
			r.logger.Warn().Str("provider", name).Err(err).Msg("Skipping invalid provider override")
			continue
		}
		r.mu.Lock()
		_, replaced := r.providers[name]
		r.providers[name] = provider
		r.mu.Unlock()

		r.logger.Debug().
			Str("provider", name).
			Bool("replaced", replaced).
			Str("origin", provider.Origin).
			Bool("manual_check_in", provider.NeedsManualCheckIn()).
			Msg("Provider override applied")
	}
}

func (r *Registry) fromOverride(name string, o common.ProviderOverride) (*models.Provider, error) {
	if o.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	bypass, err := models.ParseBypassMethod(o.BypassMethod)
	if err != nil {
		return nil, err
	}
	for _, id := range o.Sources {
		if _, ok := r.sources[id]; !ok {
			return nil, fmt.Errorf("unknown cdk source: %s", id)
		}
	}

	p := models.Provider{
		ID:                name,
		Origin:            strings.TrimRight(o.Origin, "/"),
		LoginPath:         o.LoginPath,
		StatusPath:        o.StatusPath,
		AuthStatePath:     o.AuthStatePath,
		UserInfoPath:      o.UserInfoPath,
		TopupPath:         o.TopupPath,
		APIUserKey:        o.APIUserKey,
		Bypass:            bypass,
		BypassCookieNames: o.BypassCookies,
		GitHubClientID:    o.GitHubClientID,
		LinuxDoClientID:   o.LinuxDoClientID,
		CheckInStatus:     o.CheckInStatus,
		Sources:           o.Sources,
		Classifier:        ClassifierNewAPI,
	}
	p.CheckIn = checkInPath(o, bypass)
	return p.WithDefaults(), nil
}

// checkInPath resolves the manual check-in endpoint of an override.
// Without an explicit path only WAF-protected providers sign in manually.
func checkInPath(o common.ProviderOverride, bypass models.BypassMethod) *models.CheckInPath {
	switch {
	case o.ImplicitCheckIn:
		return nil
	case strings.Contains(o.SignInPath, "{user_id}"):
		template := o.SignInPath
		return models.SignedPath(func(origin, userID string) string {
			path := strings.ReplaceAll(template, "{user_id}", userID)
			if strings.HasPrefix(path, "http") {
				return path
			}
			return strings.TrimRight(origin, "/") + path
		})
	case o.SignInPath != "":
		return models.StaticPath(o.SignInPath)
	case bypass == models.BypassWAFCookies:
		return models.StaticPath(models.DefaultSignInPath)
	}
	return nil
}

// Get returns the descriptor for id
func (r *Registry) Get(id string) (*models.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the sorted provider ids
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Classifier returns the provider's classifier, falling back to the new-api conventions
func (r *Registry) Classifier(p *models.Provider) interfaces.ResponseClassifier {
	if c, ok := r.classifiers[p.Classifier]; ok {
		if _, isNewAPI := c.(*NewAPIClassifier); isNewAPI && p.Divisor() != models.DefaultQuotaDivisor {
			return &NewAPIClassifier{Divisor: p.Divisor()}
		}
		return c
	}
	return &NewAPIClassifier{Divisor: p.Divisor()}
}

// StatusQuery returns nil when the provider exposes no check-in status endpoint
func (r *Registry) StatusQuery(p *models.Provider) interfaces.CheckInStatusQuery {
	if !p.HasCheckInStatusQuery() {
		return nil
	}
	return r.status
}

// Sources builds fresh CDK sources for one account-run: externally supplied
// codes first, then the provider's sources in declaration order.
func (r *Registry) Sources(p *models.Provider, account *models.Account, session *models.Session) []interfaces.CdkSource {
	deps := SourceDeps{
		HTTP:    r.http,
		Logger:  r.logger,
		Account: account,
		Session: session,
	}

	ids := append([]string{SourceExtraCodes}, p.Sources...)
	out := make([]interfaces.CdkSource, 0, len(ids))
	for _, id := range ids {
		factory, ok := r.sources[id]
		if !ok {
			r.logger.Warn().Str("provider", p.ID).Str("source", id).Msg("Unknown cdk source, skipping")
			continue
		}
		out = append(out, factory(deps))
	}
	return out
}
