// Package broker defines the seam for delegating token acquisition to a
// platform authentication broker. No broker ships with the library; hosts
// on platforms with one plug in their own implementation.
package broker

import (
	"context"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// Request carries the parameters a broker needs to acquire a token on the
// application's behalf.
type Request struct {
	ClientID      string
	Authority     string
	Scopes        []string
	HomeAccountID string
	CorrelationID string
}

// Broker acquires tokens through a platform authentication component
// instead of the direct OAuth wire protocol.
type Broker interface {
	IsAvailable() bool
	AcquireSilent(ctx context.Context, req Request) (oauth.TokenResponse, error)
	AcquireInteractive(ctx context.Context, req Request) (oauth.TokenResponse, error)
	RemoveAccount(ctx context.Context, homeAccountID string) error
}

// Unavailable is the default Broker. Every operation fails loudly; broker
// use is always an explicit opt-in, never a silent fallback.
type Unavailable struct{}

func (Unavailable) IsAvailable() bool { return false }

func (Unavailable) AcquireSilent(ctx context.Context, req Request) (oauth.TokenResponse, error) {
	return oauth.TokenResponse{}, &identerr.BrokerUnavailableError{Operation: "AcquireSilent"}
}

func (Unavailable) AcquireInteractive(ctx context.Context, req Request) (oauth.TokenResponse, error) {
	return oauth.TokenResponse{}, &identerr.BrokerUnavailableError{Operation: "AcquireInteractive"}
}

func (Unavailable) RemoveAccount(ctx context.Context, homeAccountID string) error {
	return &identerr.BrokerUnavailableError{Operation: "RemoveAccount"}
}
