package repositories

import (
	"context"
	"time"

	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/models"
)

// VerificationCodeRepository handles one-time email verification codes.
// Issue times and expiry cutoffs both come from the application clock.
type VerificationCodeRepository struct {
	db  *database.DB
	now func() time.Time
}

func NewVerificationCodeRepository(db *database.DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{db: db, now: time.Now}
}

func scanCodeRow(row rowScanner) (*models.VerificationCode, error) {
	var c models.VerificationCode

	err := row.Scan(&c.ID, &c.Email, &c.CodeHash, &c.Consumed, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

func (r *VerificationCodeRepository) Create(ctx context.Context, email, codeHash string) (*models.VerificationCode, error) {
	query := `
		INSERT INTO verification_codes (email, code_hash, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, email, code_hash, consumed, created_at
	`

	return scanCodeRow(r.db.Conn(ctx).QueryRow(ctx, query, email, codeHash, r.now()))
}

// FindLatestUnconsumed returns the newest unconsumed code for the email
// matching codeHash and issued within window
func (r *VerificationCodeRepository) FindLatestUnconsumed(ctx context.Context, email, codeHash string, window time.Duration) (*models.VerificationCode, error) {
	query := `
		SELECT id, email, code_hash, consumed, created_at
		FROM verification_codes
		WHERE email = $1 AND code_hash = $2 AND NOT consumed AND created_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanCodeRow(r.db.Conn(ctx).QueryRow(ctx, query, email, codeHash, r.now().Add(-window)))
}

// MarkConsumed flips the consumed flag once. Returns ErrNotFound if the code
// was already consumed or no longer exists.
func (r *VerificationCodeRepository) MarkConsumed(ctx context.Context, id string) error {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE verification_codes SET consumed = TRUE WHERE id = $1 AND NOT consumed`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *VerificationCodeRepository) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM verification_codes WHERE email = $1`, email)
	return database.MapPostgresError(err)
}

// CleanupExpired removes codes issued more than window ago, and consumed ones
func (r *VerificationCodeRepository) CleanupExpired(ctx context.Context, window time.Duration) (int64, error) {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`DELETE FROM verification_codes WHERE consumed OR created_at <= $1`, r.now().Add(-window))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
