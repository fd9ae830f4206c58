// Package consent answers whether the user allows a service to check the
// device's offers.
package consent

import (
	"context"

	"github.com/rs/zerolog"
)

// Requester is the consent collaborator of an eligibility flow.
type Requester interface {
	RequestConsent(ctx context.Context, origin, serviceName, tabID string) (bool, error)
}

// Policy answers consent requests from configuration. When offer
// redemption is disabled the answer is always "not allowed".
type Policy struct {
	Enabled    bool
	AutoAccept bool
}

func (p Policy) RequestConsent(ctx context.Context, origin, serviceName, tabID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	allowed := p.Enabled && p.AutoAccept
	zerolog.Ctx(ctx).Debug().
		Str("origin", origin).
		Str("service_name", serviceName).
		Str("tab_id", tabID).
		Bool("redemption_enabled", p.Enabled).
		Bool("allowed", allowed).
		Msg("consent requested")
	return allowed, nil
}

// Func adapts a function to Requester.
type Func func(ctx context.Context, origin, serviceName, tabID string) (bool, error)

func (f Func) RequestConsent(ctx context.Context, origin, serviceName, tabID string) (bool, error) {
	return f(ctx, origin, serviceName, tabID)
}
