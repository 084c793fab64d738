package grants

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for user-role grants.
type Repository interface {
	// Upsert creates the (user, role) grant or reactivates a previously
	// revoked one. The unique pair constraint guarantees no duplicate
	// rows.
	Upsert(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) error
	// Deactivate revokes a grant. The row is retained for audit history.
	Deactivate(ctx context.Context, userID, roleID int64) (bool, error)
	// ListActive returns grants that are active and unexpired at now.
	ListActive(ctx context.Context, userID int64, now time.Time) ([]Grant, error)
	// ListAll returns every grant row for a user including revoked and
	// expired ones.
	ListAll(ctx context.Context, userID int64) ([]Grant, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert inserts or reactivates a grant in a single statement keyed by
// the unique (user_id, role_id) pair, so concurrent assigners serialize
// on the row.
func (r *PGRepository) Upsert(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, NOW(), $4, TRUE)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_by = EXCLUDED.assigned_by,
		    assigned_at = EXCLUDED.assigned_at,
		    expires_at  = EXCLUDED.expires_at,
		    is_active   = TRUE`, userID, roleID, assignedBy, expiresAt)
	return err
}

// Deactivate sets is_active=false. Returns false when no active grant
// existed.
func (r *PGRepository) Deactivate(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_roles SET is_active = FALSE
		WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListActive returns active, unexpired grants using a single clock
// reading supplied by the caller.
func (r *PGRepository) ListActive(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	return r.queryGrants(ctx, `
		SELECT ur.user_id, ur.role_id, r.name, ur.assigned_by, ur.assigned_at, ur.expires_at, ur.is_active
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.name`, userID, now)
}

// ListAll returns the full grant history for a user.
func (r *PGRepository) ListAll(ctx context.Context, userID int64) ([]Grant, error) {
	return r.queryGrants(ctx, `
		SELECT ur.user_id, ur.role_id, r.name, ur.assigned_by, ur.assigned_at, ur.expires_at, ur.is_active
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
}

func (r *PGRepository) queryGrants(ctx context.Context, query string, args ...any) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserID, &g.RoleID, &g.RoleName, &g.AssignedBy, &g.AssignedAt, &g.ExpiresAt, &g.IsActive); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
