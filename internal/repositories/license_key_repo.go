package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/models"
)

// LicenseKeyRepository is the registry of single-use product keys
type LicenseKeyRepository struct {
	db *database.DB
}

func NewLicenseKeyRepository(db *database.DB) *LicenseKeyRepository {
	return &LicenseKeyRepository{db: db}
}

const licenseKeyColumns = `id, key, product_id, product_name, is_active, is_used, used_by, used_at, created_at, updated_at`

func scanLicenseKeyRow(row rowScanner) (*models.LicenseKey, error) {
	var k models.LicenseKey
	var usedBy *string
	var usedAt *time.Time

	err := row.Scan(
		&k.ID, &k.Key, &k.ProductID, &k.ProductName, &k.IsActive, &k.IsUsed,
		&usedBy, &usedAt, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	k.UsedBy = usedBy
	k.UsedAt = usedAt
	return &k, nil
}

// GetByKey returns the key regardless of its state
func (r *LicenseKeyRepository) GetByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	query := `SELECT ` + licenseKeyColumns + ` FROM license_keys WHERE key = $1`
	return scanLicenseKeyRow(r.db.Conn(ctx).QueryRow(ctx, query, key))
}

// GetUnusedByKey is the read-only pre-check made while staging a signup.
// It does not look at is_active; deactivation is enforced by Consume.
func (r *LicenseKeyRepository) GetUnusedByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	query := `SELECT ` + licenseKeyColumns + ` FROM license_keys WHERE key = $1 AND NOT is_used`
	return scanLicenseKeyRow(r.db.Conn(ctx).QueryRow(ctx, query, key))
}

// Consume atomically marks an active, unused key as used by consumerID.
// The predicate is evaluated by the store, so of several concurrent callers
// at most one gets the row back. Returns ErrNotFound when nothing matched;
// callers classify the failure with GetByKey.
func (r *LicenseKeyRepository) Consume(ctx context.Context, key, consumerID string) (*models.LicenseKey, error) {
	query := `
		UPDATE license_keys
		SET is_used = TRUE, used_by = $2, used_at = NOW(), updated_at = NOW()
		WHERE key = $1 AND is_active AND NOT is_used
		RETURNING ` + licenseKeyColumns

	return scanLicenseKeyRow(r.db.Conn(ctx).QueryRow(ctx, query, key, consumerID))
}

// Insert adds a key. Returns false without error when the key already exists.
func (r *LicenseKeyRepository) Insert(ctx context.Context, p models.LicenseKeyProvision) (bool, error) {
	query := `
		INSERT INTO license_keys (key, product_id, product_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`

	result, err := r.db.Conn(ctx).Exec(ctx, query, p.Key, p.ProductID, p.ProductName)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// Deactivate withdraws a key by ID. A used key stays used.
func (r *LicenseKeyRepository) Deactivate(ctx context.Context, id string) (*models.LicenseKey, error) {
	query := `
		UPDATE license_keys
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + licenseKeyColumns

	return scanLicenseKeyRow(r.db.Conn(ctx).QueryRow(ctx, query, id))
}

// DeactivateByKey is Deactivate addressed by the key string
func (r *LicenseKeyRepository) DeactivateByKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	query := `
		UPDATE license_keys
		SET is_active = FALSE, updated_at = NOW()
		WHERE key = $1
		RETURNING ` + licenseKeyColumns

	return scanLicenseKeyRow(r.db.Conn(ctx).QueryRow(ctx, query, key))
}

// Stats counts the pool by state in a single pass
func (r *LicenseKeyRepository) Stats(ctx context.Context) (*models.LicenseStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_used),
			COUNT(*) FILTER (WHERE is_active AND NOT is_used),
			COUNT(*) FILTER (WHERE NOT is_active)
		FROM license_keys
	`

	var s models.LicenseStats
	err := r.db.Conn(ctx).QueryRow(ctx, query).Scan(&s.Total, &s.Active, &s.Used, &s.Available, &s.Inactive)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

// List returns keys newest first, each with the consuming user's email
func (r *LicenseKeyRepository) List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error) {
	query := `
		SELECT k.id, k.key, k.product_id, k.product_name, k.is_active, k.is_used,
			k.used_by, k.used_at, k.created_at, k.updated_at, u.email
		FROM license_keys k
		LEFT JOIN users u ON u.id = k.used_by
		ORDER BY k.created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query license keys: %w", err)
	}

	return scanLicenseKeyWithConsumerRows(rows)
}

func scanLicenseKeyWithConsumerRows(rows pgx.Rows) ([]*models.LicenseKeyWithConsumer, error) {
	defer rows.Close()

	keys := make([]*models.LicenseKeyWithConsumer, 0)

	for rows.Next() {
		var k models.LicenseKeyWithConsumer
		err := rows.Scan(
			&k.ID, &k.Key, &k.ProductID, &k.ProductName, &k.IsActive, &k.IsUsed,
			&k.UsedBy, &k.UsedAt, &k.CreatedAt, &k.UpdatedAt, &k.UsedByEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license key: %w", err)
		}
		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating license key rows: %w", err)
	}

	return keys, nil
}
