// Package throttle protects the identity provider from storms of requests
// that are deterministically going to fail. Failures are recorded against
// a request thumbprint; repeats inside the backoff window are answered
// locally with the recorded error instead of a network call. Only the
// failure path is deduplicated; concurrent successes are never blocked.
package throttle

import (
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

const thumbprintDelimiter = "."

// Default backoff windows, used when the server supplied no Retry-After.
// UI-required failures get the shorter window: the user may complete an
// interactive flow and legitimately retry sooner.
const (
	DefaultThrottleWindow    = 120 * time.Second
	UIRequiredThrottleWindow = 60 * time.Second
	maxThrottleWindow        = 3600 * time.Second
)

// Thumbprint is the deterministic fingerprint of a request's
// identity-relevant parameters: ClientID, authority, normalized scopes and
// home account. Construction order of the body never affects the result.
func Thumbprint(bodyParams url.Values, authorityURL, homeAccountID string) string {
	var sb strings.Builder
	sb.WriteString(bodyParams.Get(oauth.ParamClientID))
	sb.WriteString(thumbprintDelimiter)
	sb.WriteString(authorityURL)
	sb.WriteString(thumbprintDelimiter)
	sb.WriteString(normalizeScopeParam(bodyParams.Get(oauth.ParamScope)))
	sb.WriteString(thumbprintDelimiter)
	sb.WriteString(homeAccountID)
	return sb.String()
}

func normalizeScopeParam(scope string) string {
	fields := strings.Fields(strings.ToLower(scope))
	slices.Sort(fields)
	return strings.Join(fields, " ")
}

type entry struct {
	err       error
	expiresAt time.Time
}

// Manager is the throttling cache: a TTL'd concurrent map from thumbprint
// to recorded failure. One instance is owned by the service bundle; there
// is no process-wide state. Expiry is enforced lazily at lookup, not by a
// sweeper.
type Manager struct {
	entries *otter.Cache[string, entry]
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates an empty throttling cache.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries: otter.Must(&otter.Options[string, entry]{
			MaximumSize: 1000,
		}),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Record stores a failure for the thumbprint. retryAfter, when the server
// sent one, takes precedence over the default window for the error class.
// Non-throttleable errors are ignored.
func (m *Manager) Record(thumbprint string, err error, retryAfter time.Duration) {
	window, ok := windowFor(err, retryAfter)
	if !ok {
		return
	}

	m.entries.Set(thumbprint, entry{
		err:       err,
		expiresAt: m.now().Add(window),
	})
}

// CheckAndRaise returns the recorded failure for the thumbprint, wrapped
// to mark it as served from the throttle cache, when a live entry exists.
// Expired entries are removed on lookup. A nil return means the caller may
// proceed to the network.
func (m *Manager) CheckAndRaise(thumbprint string) error {
	e, ok := m.entries.GetEntry(thumbprint)
	if !ok {
		return nil
	}

	if !m.now().Before(e.Value.expiresAt) {
		m.entries.Invalidate(thumbprint)
		return nil
	}

	return &identerr.ThrottledError{Err: e.Value.err}
}

// windowFor decides whether err is throttleable and for how long.
func windowFor(err error, retryAfter time.Duration) (time.Duration, bool) {
	var p *identerr.ProtocolError
	if !errors.As(err, &p) {
		return 0, false
	}

	if retryAfter > 0 {
		return min(retryAfter, maxThrottleWindow), true
	}

	switch {
	case p.InteractionRequired():
		return UIRequiredThrottleWindow, true
	case p.StatusCode == 429 || p.StatusCode >= 500:
		return DefaultThrottleWindow, true
	}

	return 0, false
}
