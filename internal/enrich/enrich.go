// Package enrich fills in the device attributes a NEED_MORE_INFO response
// asks for before the eligibility check is repeated.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"echo-client/internal/device"
	"echo-client/internal/observability"
	"echo-client/internal/rpc"

	"github.com/rs/zerolog"
)

// ErrAttributeUnavailable means a demanded attribute could not be read; the
// flow must end without another eligibility call.
var ErrAttributeUnavailable = errors.New("device attribute unavailable")

const (
	AttributeHWID            = "hwid"
	AttributeCustomizationID = "customizationId"
)

type Enricher struct {
	provider device.Provider
	sink     observability.Sink
}

func New(provider device.Provider, sink observability.Sink) *Enricher {
	return &Enricher{provider: provider, sink: sink}
}

// Supplement reads every attribute resp flags as needed and sets it on
// params. The first missing attribute stops the enrichment and is reported
// as a client side error.
func (e *Enricher) Supplement(ctx context.Context, params *rpc.Params, resp *rpc.EligibilityResponse) error {
	logger := zerolog.Ctx(ctx)

	if resp.NeedHWID {
		hwid, err := e.provider.HardwareID(ctx)
		if err != nil || hwid == "" {
			observability.Emit(ctx, e.sink, observability.CategoryClientError, observability.ActionNoHWID, "")
			logger.Warn().Err(err).Msg("hwid requested but unavailable")
			return fmt.Errorf("%s: %w", AttributeHWID, ErrAttributeUnavailable)
		}
		params.HWID = hwid
	}

	if resp.NeedCustomizationID {
		id, err := e.provider.CustomizationID(ctx)
		if err != nil || id == "" {
			observability.Emit(ctx, e.sink, observability.CategoryClientError, observability.ActionNoCustomizationID, "")
			logger.Warn().Err(err).Msg("customization id requested but unavailable")
			return fmt.Errorf("%s: %w", AttributeCustomizationID, ErrAttributeUnavailable)
		}
		params.CustomizationID = id
	}

	logger.Debug().Bool("hwid", params.HWID != "").Bool("customization_id", params.CustomizationID != "").
		Msg("attributes supplemented")
	return nil
}
