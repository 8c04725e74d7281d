package repositories

import (
	"context"
	"time"

	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/models"
)

// PendingRegistrationRepository holds signups awaiting email confirmation.
// Staging times and expiry cutoffs both come from the application clock.
type PendingRegistrationRepository struct {
	db  *database.DB
	now func() time.Time
}

func NewPendingRegistrationRepository(db *database.DB) *PendingRegistrationRepository {
	return &PendingRegistrationRepository{db: db, now: time.Now}
}

func scanPendingRow(row rowScanner) (*models.PendingRegistration, error) {
	var p models.PendingRegistration

	err := row.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.FullName, &p.PhoneNumber, &p.LicenseKey, &p.StagedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

// Create stages a registration. Returns ErrConflict if one already exists
// for the email.
func (r *PendingRegistrationRepository) Create(ctx context.Context, p *models.PendingRegistration) (*models.PendingRegistration, error) {
	query := `
		INSERT INTO pending_registrations (email, password_hash, full_name, phone_number, license_key, staged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, password_hash, full_name, phone_number, license_key, staged_at
	`

	return scanPendingRow(r.db.Conn(ctx).QueryRow(ctx, query,
		p.Email, p.PasswordHash, p.FullName, p.PhoneNumber, p.LicenseKey, r.now(),
	))
}

// GetByEmail returns the staged registration if it was staged within window
func (r *PendingRegistrationRepository) GetByEmail(ctx context.Context, email string, window time.Duration) (*models.PendingRegistration, error) {
	query := `
		SELECT id, email, password_hash, full_name, phone_number, license_key, staged_at
		FROM pending_registrations
		WHERE email = $1 AND staged_at > $2
	`

	return scanPendingRow(r.db.Conn(ctx).QueryRow(ctx, query, email, r.now().Add(-window)))
}

func (r *PendingRegistrationRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM pending_registrations WHERE email = $1`, email)
	return database.MapPostgresError(err)
}

// CleanupExpired removes registrations staged more than window ago
func (r *PendingRegistrationRepository) CleanupExpired(ctx context.Context, window time.Duration) (int64, error) {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`DELETE FROM pending_registrations WHERE staged_at <= $1`, r.now().Add(-window))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
