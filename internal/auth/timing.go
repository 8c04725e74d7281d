package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelayMs    int  // Base delay in milliseconds
	RandomDelayMs  int  // Random delay range in milliseconds
	DelayOnSuccess bool // If true, delay even on successful login
}

// TimingDelay pads authentication failures so that an unknown email and a
// wrong password take about the same time
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelayMs))); err == nil {
			delay += time.Duration(n.Int64()) * time.Millisecond
		}
	}
	return delay
}

// Wait applies the full delay unless the operation succeeded and
// DelayOnSuccess is off
func (td *TimingDelay) Wait(ctx context.Context, success bool) {
	td.WaitFrom(ctx, time.Now(), success)
}

// WaitFrom sleeps until at least the target delay has passed since start.
// It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
