package ports

import (
	"context"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// ConfigSnapshot is one immutable view of the externally supplied trading
// configuration. Readers always see a whole snapshot — never a partially
// refreshed mix of markets and profiles.
type ConfigSnapshot struct {
	Markets  []domain.Market
	Profiles map[string]domain.Profile
}

// ProfileFor resolves a market's parameter profile, falling back to the
// "default" profile when the named one is missing.
func (s ConfigSnapshot) ProfileFor(m domain.Market) (domain.Profile, bool) {
	if p, ok := s.Profiles[m.Profile]; ok {
		return p, true
	}
	p, ok := s.Profiles["default"]
	return p, ok
}

// ConfigSource supplies market selection and parameter profiles from an
// external store (a published spreadsheet in production). Fetch is called on
// a timer by the provider; staleness of up to one refresh interval is
// acceptable by contract.
type ConfigSource interface {
	Fetch(ctx context.Context) (ConfigSnapshot, error)
}
