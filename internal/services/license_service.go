package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mohitmehta601/agricure/internal/models"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	provisionConcurrency = 8
	defaultListLimit     = 50
	maxListLimit         = 500
)

// LicenseService handles administrative and public license key operations
type LicenseService struct {
	repo        LicenseKeyRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewLicenseService(repo LicenseKeyRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LicenseService {
	return &LicenseService{repo: repo, logger: logger, auditLogger: auditLogger}
}

type provisionResult int

const (
	provisionAdded provisionResult = iota
	provisionSkipped
	provisionFailed
)

// Provision adds keys to the pool. Existing keys are skipped, never
// overwritten. The product ID defaults to the key itself.
func (s *LicenseService) Provision(ctx context.Context, actorID string, entries []models.LicenseKeyProvision) (*models.ProvisionReport, error) {
	if len(entries) == 0 {
		return nil, models.NewError(models.KindMissingField, "At least one product key is required")
	}

	results := make([]provisionResult, len(entries))
	reasons := make([]string, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(provisionConcurrency)

	for i := range entries {
		e := &entries[i]
		e.Key = strings.TrimSpace(e.Key)
		e.ProductName = strings.TrimSpace(e.ProductName)
		e.ProductID = strings.TrimSpace(e.ProductID)

		if e.Key == "" || e.ProductName == "" {
			results[i], reasons[i] = provisionFailed, "Key and product name are required"
			continue
		}
		if e.ProductID == "" {
			e.ProductID = e.Key
		}

		g.Go(func() error {
			added, err := s.repo.Insert(gctx, *e)
			switch {
			case err != nil:
				s.logger.Error("failed to insert license key", slog.Any("error", err))
				results[i], reasons[i] = provisionFailed, models.ErrStoreUnavailable.Message
			case added:
				results[i] = provisionAdded
			default:
				results[i] = provisionSkipped
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &models.ProvisionReport{
		Added:   []string{},
		Skipped: []string{},
		Failed:  []models.ProvisionFailure{},
	}
	for i, r := range results {
		switch r {
		case provisionAdded:
			report.Added = append(report.Added, entries[i].Key)
		case provisionSkipped:
			report.Skipped = append(report.Skipped, entries[i].Key)
		default:
			report.Failed = append(report.Failed, models.ProvisionFailure{Key: entries[i].Key, Reason: reasons[i]})
		}
	}

	s.logger.Info("license keys provisioned",
		slog.Int("added", len(report.Added)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)))
	s.auditLogger.LogLicenseAction(ctx, pkglogger.AuditEvent{
		EventType: "license_provision",
		UserID:    actorID,
		Success:   len(report.Failed) == 0,
		Metadata:  map[string]string{"added": strconv.Itoa(len(report.Added))},
	})

	return report, nil
}

// Deactivate withdraws a key by ID. Returns models.ErrNotFound if absent.
func (s *LicenseService) Deactivate(ctx context.Context, actorID, id string) (*models.LicenseKey, error) {
	key, err := s.repo.Deactivate(ctx, id)
	return s.deactivated(ctx, actorID, key, err)
}

// DeactivateByKey withdraws a key addressed by its value
func (s *LicenseService) DeactivateByKey(ctx context.Context, actorID, key string) (*models.LicenseKey, error) {
	k, err := s.repo.DeactivateByKey(ctx, strings.TrimSpace(key))
	return s.deactivated(ctx, actorID, k, err)
}

func (s *LicenseService) deactivated(ctx context.Context, actorID string, key *models.LicenseKey, err error) (*models.LicenseKey, error) {
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to deactivate license key", slog.Any("error", err))
		return nil, models.StoreUnavailable(err)
	}

	s.auditLogger.LogLicenseAction(ctx, pkglogger.AuditEvent{
		EventType: "license_deactivate",
		UserID:    actorID,
		Success:   true,
		Metadata:  map[string]string{"license_key_id": key.ID},
	})
	return key, nil
}

func (s *LicenseService) Stats(ctx context.Context) (*models.LicenseStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to compute license stats", slog.Any("error", err))
		return nil, models.StoreUnavailable(err)
	}
	return stats, nil
}

func (s *LicenseService) List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	keys, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list license keys", slog.Any("error", err))
		return nil, models.StoreUnavailable(err)
	}
	return keys, nil
}

// KeyStatus reports a key's availability. Returns models.ErrNotFound if absent.
func (s *LicenseService) KeyStatus(ctx context.Context, key string) (*models.KeyStatus, error) {
	k, err := s.repo.GetByKey(ctx, strings.TrimSpace(key))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.StoreUnavailable(err)
	}

	return &models.KeyStatus{
		Key:         k.Key,
		ProductName: k.ProductName,
		IsActive:    k.IsActive,
		IsUsed:      k.IsUsed,
		Available:   k.IsAvailable(),
	}, nil
}

// ValidateKey checks that a key could be consumed right now without
// consuming it
func (s *LicenseService) ValidateKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, models.NewError(models.KindMissingField, "Product key is required")
	}

	k, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidLicense
		}
		return nil, models.StoreUnavailable(err)
	}

	switch {
	case !k.IsActive:
		return nil, models.ErrInvalidLicense
	case k.IsUsed:
		return nil, models.ErrAlreadyUsed
	}
	return k, nil
}
