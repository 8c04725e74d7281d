package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mohitmehta601/agricure/internal/database"
	"github.com/mohitmehta601/agricure/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, password_hash, full_name, phone_number, license_key_id,
	product_id, product_name, role, password_changed_at, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordChangedAt *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.PhoneNumber,
		&user.LicenseKeyID, &user.ProductID, &user.ProductName, &user.Role,
		&passwordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.PasswordChangedAt = passwordChangedAt
	return &user, nil
}

// scanUserRows iterates through rows and scans each into User models
func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

// Create inserts a user with a caller-assigned ID and an already computed
// password hash. The hash is stored as given.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	query := `
		INSERT INTO users (id, email, password_hash, full_name, phone_number, license_key_id, product_id, product_name, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Conn(ctx).QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.PhoneNumber,
		user.LicenseKeyID, user.ProductID, user.ProductName, user.Role,
	))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Conn(ctx).QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.db.Conn(ctx).QueryRow(ctx, query, email))
}

// ExistsByEmail reports whether a user already holds the email
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

// UpdatePassword replaces the hash and stamps password_changed_at with the
// application clock, the same clock that stamps token issue times
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Conn(ctx).Exec(ctx, query, id, passwordHash, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetRoleByEmail changes a user's role, used by the admin CLI
func (r *UserRepository) SetRoleByEmail(ctx context.Context, email, role string) error {
	result, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE email = $1`, email, role)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
