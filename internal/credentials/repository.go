package credentials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matcontrol/matcontrol/internal/shared"
)

// Repository defines persistence operations for user credentials.
type Repository interface {
	FindByLogin(ctx context.Context, login string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, login, name, adaptiveHash string) (*User, error)
	// UpgradeToAdaptive promotes a legacy credential in a single update
	// keyed by user id. It is a no-op when the row was already migrated.
	UpgradeToAdaptive(ctx context.Context, userID int64, adaptiveHash string) error
	// SetAdaptivePassword replaces the stored credential with an adaptive
	// hash and clears any residual legacy digest.
	SetAdaptivePassword(ctx context.Context, userID int64, adaptiveHash string) error
	Deactivate(ctx context.Context, userID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByLogin fetches a user by login.
func (r *PGRepository) FindByLogin(ctx context.Context, login string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT id, login, name, password_hash, password_bcrypt, password_format, is_active, created_at, updated_at
		FROM users WHERE login = $1`, login))
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT id, login, name, password_hash, password_bcrypt, password_format, is_active, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		user   User
		format string
	)
	err := row.Scan(&user.ID, &user.Login, &user.Name,
		&user.Credential.LegacyDigest, &user.Credential.AdaptiveHash, &format,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.Credential.Format = parseFormat(format)
	return &user, nil
}

// CreateUser inserts a new user with an adaptive-only credential.
func (r *PGRepository) CreateUser(ctx context.Context, login, name, adaptiveHash string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (login, name, password_hash, password_bcrypt, password_format, is_active)
		VALUES ($1, $2, '', $3, 'bcrypt', TRUE)
		RETURNING id, created_at, updated_at`, login, name, adaptiveHash)

	user := &User{
		Login:    login,
		Name:     name,
		IsActive: true,
		Credential: Credential{
			Format:       FormatAdaptive,
			AdaptiveHash: adaptiveHash,
		},
	}
	if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return user, nil
}

// UpgradeToAdaptive writes the adaptive hash and clears the legacy digest
// in one statement. Concurrent upgrades for the same user converge on the
// same terminal state.
func (r *PGRepository) UpgradeToAdaptive(ctx context.Context, userID int64, adaptiveHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_bcrypt = $2, password_hash = '', password_format = 'bcrypt', updated_at = NOW()
		WHERE id = $1`, userID, adaptiveHash)
	return err
}

// SetAdaptivePassword replaces the credential after a password change.
func (r *PGRepository) SetAdaptivePassword(ctx context.Context, userID int64, adaptiveHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_bcrypt = $2, password_hash = '', password_format = 'bcrypt', updated_at = NOW()
		WHERE id = $1`, userID, adaptiveHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a user. The row is retained while grants
// reference it.
func (r *PGRepository) Deactivate(ctx context.Context, userID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func parseFormat(s string) Format {
	switch s {
	case "bcrypt":
		return FormatAdaptive
	case "sha256":
		return FormatLegacy
	default:
		return FormatNone
	}
}

var _ Repository = (*PGRepository)(nil)
