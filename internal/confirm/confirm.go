// Package confirm drives the enrollment-confirmation step: a bounded number
// of tries with a fixed pause between them.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echo-client/internal/observability"
	"echo-client/internal/rpc"

	"github.com/rs/zerolog"
)

var ErrConfirmationExhausted = errors.New("confirm: retries exhausted")

// Backend is the part of the RPC client the controller needs.
type Backend interface {
	ConfirmEnrollment(ctx context.Context, v rpc.Variant, serviceID, requestNonce, responseNonce string) error
}

type Controller struct {
	backend     Backend
	sink        observability.Sink
	maxAttempts int
	backoff     time.Duration
	sleep       func(context.Context, time.Duration) error
}

func New(backend Backend, sink observability.Sink, maxAttempts int, backoff time.Duration) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Controller{
		backend:     backend,
		sink:        sink,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepCtx,
	}
}

// Confirm acknowledges a promo code, starting on variant, the backend that
// issued it. A transport failure or timeout moves the next try to the other
// backend; a malformed answer retries the same one. It returns the number
// of tries made.
func (c *Controller) Confirm(ctx context.Context, variant rpc.Variant, serviceID, requestNonce, responseNonce string) (int, error) {
	logger := zerolog.Ctx(ctx)
	for retryNum := 0; retryNum < c.maxAttempts; retryNum++ {
		if retryNum > 0 {
			if err := c.sleep(ctx, c.backoff); err != nil {
				return retryNum, fmt.Errorf("confirm enrollment: %w", err)
			}
		}
		err := c.backend.ConfirmEnrollment(ctx, variant, serviceID, requestNonce, responseNonce)
		if err == nil {
			return retryNum + 1, nil
		}
		logger.Warn().Err(err).Int("retry_num", retryNum).Str("variant", variant.String()).Msg("confirmEnrollment failed")
		if rpc.Fallback(err) {
			variant = variant.Other()
		}
	}
	logger.Error().Int("attempts", c.maxAttempts).Msg("confirmEnrollment call failures exceed max retry")
	observability.Emit(ctx, c.sink, observability.CategoryClientError, observability.ActionConfirmExhausted, serviceID)
	return c.maxAttempts, ErrConfirmationExhausted
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
