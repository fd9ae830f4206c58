// Package offerinfo keeps the locally cached offer state: per-service
// eligibility outcomes, server offer tables and the last error message.
package offerinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"echo-client/internal/device"
	"echo-client/internal/rpc"
	"echo-client/internal/storage"

	"github.com/rs/zerolog/log"
)

// Adapter merges partial updates into the stored OfferInfo. Every
// read-modify-write runs under one mutex, so concurrent flows in this
// process cannot lose each other's updates.
type Adapter struct {
	store storage.Store
	mu    sync.Mutex
	now   func() time.Time
}

func New(store storage.Store) *Adapter {
	return &Adapter{store: store, now: time.Now}
}

// Load returns the stored record; a missing record is an empty one that
// has not yet received the complete offer table.
func (a *Adapter) Load(ctx context.Context) (*OfferInfo, error) {
	raw, err := a.store.Get(ctx, KeyOfferInfo)
	if errors.Is(err, storage.ErrNotFound) {
		return &OfferInfo{Services: map[string]*ServiceRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load offer info: %w", err)
	}
	var info OfferInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode offer info: %w", err)
	}
	if info.Services == nil {
		info.Services = map[string]*ServiceRecord{}
	}
	return &info, nil
}

func (a *Adapter) save(ctx context.Context, info *OfferInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode offer info: %w", err)
	}
	if err := a.store.Set(ctx, KeyOfferInfo, raw); err != nil {
		return fmt.Errorf("save offer info: %w", err)
	}
	return nil
}

// update applies fn to the current record and writes it back when fn
// reports a change.
func (a *Adapter) update(ctx context.Context, fn func(*OfferInfo) bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, err := a.Load(ctx)
	if err != nil {
		return err
	}
	if !fn(info) {
		return nil
	}
	return a.save(ctx, info)
}

// MergeEligibilityOutcome records a server response for its service. Only
// non-empty incoming values are written.
func (a *Adapter) MergeEligibilityOutcome(ctx context.Context, resp rpc.EligibilityResponse, isOtc bool) error {
	now := a.now()
	return a.update(ctx, func(info *OfferInfo) bool {
		rec := info.Service(resp.ServiceID)
		info.LastServiceID = resp.ServiceID
		if !isOtc && resp.Result == rpc.ResultEligible {
			info.NonOTCEligibleRequest = true
		}
		setIfPresent(&rec.EligibilityCheckedDate, device.FormatDate(now))
		rec.EligibilityCheckedTime = now.UnixMilli()
		setIfPresent(&rec.PromoCode, resp.PromoCode)
		setIfPresent(&rec.PromoCodeExpirationDate, resp.PromoCodeExpirationDate)
		setIfPresent(&rec.RedirectURL, resp.RedirectURL)
		return true
	})
}

// MergeRemoteOfferInfoForDevice stores offer end dates from the server
// table entry for deviceFamily and marks the table as complete. Nothing is
// written when the family has no entry.
func (a *Adapter) MergeRemoteOfferInfoForDevice(ctx context.Context, deviceFamily, activationWeek string, remote []rpc.DeviceOfferInfo) (bool, error) {
	found := false
	err := a.update(ctx, func(info *OfferInfo) bool {
		for _, entry := range remote {
			if entry.DeviceFamily != deviceFamily {
				continue
			}
			log.Info().Str("device_family", deviceFamily).Str("activation_week", activationWeek).
				Int("services", len(entry.ServiceInfoList)).Msg("found offer info for device")
			found = true
			for _, svc := range entry.ServiceInfoList {
				rec := info.Service(svc.ServiceID)
				setIfPresent(&rec.OfferEndDate, svc.OfferEndDate)
			}
			break
		}
		if found {
			info.CompleteOfferInfoFromServer = true
		}
		return found
	})
	return found, err
}

// CacheLastServiceID records the service id of the latest request.
func (a *Adapter) CacheLastServiceID(ctx context.Context, serviceID string) error {
	return a.update(ctx, func(info *OfferInfo) bool {
		info.LastServiceID = serviceID
		return true
	})
}

// MarkNoRegCodeAfterEligible reports true exactly once after an eligible
// non-OTC request was seen, and remembers that it did.
func (a *Adapter) MarkNoRegCodeAfterEligible(ctx context.Context) (bool, error) {
	fire := false
	err := a.update(ctx, func(info *OfferInfo) bool {
		if !info.NonOTCEligibleRequest || info.FailureMetricSent {
			return false
		}
		info.FailureMetricSent = true
		fire = true
		return true
	})
	return fire, err
}

// RecordRegCodeRead stores whether the latest registration code read
// succeeded and reports true when it recovers from a failed one.
func (a *Adapter) RecordRegCodeRead(ctx context.Context, succeeded bool) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	recovered := false
	raw, err := a.store.Get(ctx, KeyLastGetRegCodeResult)
	switch {
	case err == nil:
		var prev regCodeResult
		if json.Unmarshal(raw, &prev) == nil && !prev.LastCallSucceeded && succeeded {
			recovered = true
		}
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("load reg code result: %w", err)
	}
	raw, _ = json.Marshal(regCodeResult{LastCallSucceeded: succeeded})
	if err := a.store.Set(ctx, KeyLastGetRegCodeResult, raw); err != nil {
		return recovered, fmt.Errorf("save reg code result: %w", err)
	}
	return recovered, nil
}

// SetErrorMessage replaces the user-visible error message; "" clears it.
func (a *Adapter) SetErrorMessage(ctx context.Context, msg string) error {
	raw, _ := json.Marshal(msg)
	if err := a.store.Set(ctx, KeyErrorMessage, raw); err != nil {
		return fmt.Errorf("save error message: %w", err)
	}
	return nil
}

func (a *Adapter) ErrorMessage(ctx context.Context) (string, error) {
	raw, err := a.store.Get(ctx, KeyErrorMessage)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load error message: %w", err)
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("decode error message: %w", err)
	}
	return msg, nil
}
