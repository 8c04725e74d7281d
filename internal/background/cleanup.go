package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohitmehta601/agricure/internal/metrics"
)

// Expiry is enforced by every read; the sweeper only reclaims space.

type PendingRegistrationSweeper interface {
	CleanupExpired(ctx context.Context, window time.Duration) (int64, error)
}

type VerificationCodeSweeper interface {
	CleanupExpired(ctx context.Context, window time.Duration) (int64, error)
}

type RevokedTokenSweeper interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupConfig holds the sweep interval and the windows after which rows
// are considered dead
type CleanupConfig struct {
	Interval   time.Duration
	OTPTTL     time.Duration
	PendingTTL time.Duration
}

// CleanupManager periodically removes expired staging rows, verification
// codes and revoked tokens
type CleanupManager struct {
	pending  PendingRegistrationSweeper
	codes    VerificationCodeSweeper
	revoked  RevokedTokenSweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      CleanupConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCleanupManager(
	pending PendingRegistrationSweeper,
	codes VerificationCodeSweeper,
	revoked RevokedTokenSweeper,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg CleanupConfig,
) *CleanupManager {
	return &CleanupManager{
		pending: pending,
		codes:   codes,
		revoked: revoked,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until ctx is done
// or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. A failing table does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cm.sweep("pending_registrations", func() (int64, error) {
		return cm.pending.CleanupExpired(ctx, cm.cfg.PendingTTL)
	})
	cm.sweep("verification_codes", func() (int64, error) {
		return cm.codes.CleanupExpired(ctx, cm.cfg.OTPTTL)
	})
	cm.sweep("revoked_tokens", func() (int64, error) {
		return cm.revoked.CleanupExpiredTokens(ctx)
	})
}

func (cm *CleanupManager) sweep(table string, fn func() (int64, error)) {
	rows, err := fn()
	if err != nil {
		cm.logger.Error("cleanup failed", slog.String("table", table), slog.Any("error", err))
		return
	}

	cm.metrics.RowsPurged(table, rows)
	if rows > 0 {
		cm.logger.Info("expired rows removed", slog.String("table", table), slog.Int64("rows_deleted", rows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
