// Package refresher keeps the locally stored offer table in sync with the
// backend until the complete table for this device has been stored.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"echo-client/internal/device"
	"echo-client/internal/offerinfo"
	"echo-client/internal/rpc"
)

// ErrDeviceUnknown means the device family or activation week could not be
// read, so nothing can be stored.
var ErrDeviceUnknown = errors.New("refresher: device family or activation week unavailable")

type OfferSource interface {
	GetOfferInfoConfig(ctx context.Context) ([]rpc.DeviceOfferInfo, error)
}

type Refresher struct {
	source      OfferSource
	offers      *offerinfo.Adapter
	device      device.Provider
	interval    time.Duration
	baseBackoff time.Duration
	sleep       func(context.Context, time.Duration) error
}

func New(source OfferSource, offers *offerinfo.Adapter, dev device.Provider, interval, baseBackoff time.Duration) *Refresher {
	return &Refresher{
		source:      source,
		offers:      offers,
		device:      dev,
		interval:    interval,
		baseBackoff: baseBackoff,
		sleep:       sleepCtx,
	}
}

// RefreshOnce fetches the offer table and stores the entry for this
// device. It reports whether the device had an entry.
func (r *Refresher) RefreshOnce(ctx context.Context) (bool, error) {
	list, err := r.source.GetOfferInfoConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("get offer info: %w", err)
	}
	family := device.FamilyOr(ctx, r.device, "")
	week, werr := r.device.ActivationWeek(ctx)
	if family == "" || werr != nil || week == "" {
		return false, ErrDeviceUnknown
	}
	found, err := r.offers.MergeRemoteOfferInfoForDevice(ctx, family, week, list)
	if err != nil {
		return false, err
	}
	if !found {
		log.Info().Str("device_family", family).Int("families", len(list)).Msg("no offer info for device")
	}
	return found, nil
}

// Run refreshes until the stored offer info is complete or ctx ends.
func (r *Refresher) Run(ctx context.Context) {
	for {
		info, err := r.offers.Load(ctx)
		if err == nil && info.CompleteOfferInfoFromServer {
			log.Info().Msg("offer info complete; refresher stopped")
			return
		}

		wait := r.interval
		if err != nil {
			wait = jitter(r.baseBackoff)
			log.Error().Err(err).Dur("retry_in", wait).Msg("load offer info")
		} else if _, err := r.RefreshOnce(ctx); err != nil {
			wait = jitter(r.baseBackoff)
			log.Error().Err(err).Dur("retry_in", wait).Msg("refresh offer info error")
		}

		if err := r.sleep(ctx, wait); err != nil {
			log.Info().Msg("refresher stopped")
			return
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
