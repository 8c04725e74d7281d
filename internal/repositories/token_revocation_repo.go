package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitmehta601/agricure/internal/database"
)

type TokenRevocationRepository struct {
	db *database.DB
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{db: db}
}

// RevokeToken adds a token to the revocation blacklist until it expires
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_tokens (id, jti, user_id, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`

	_, err := r.db.Conn(ctx).Exec(ctx, query, uuid.New().String(), jti, userID, expiresAt, reason)
	return database.MapPostgresError(err)
}

// IsTokenRevoked checks if a token is in the revocation blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return exists, nil
}

// CleanupExpiredTokens removes revocations whose tokens have expired anyway
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	result, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
