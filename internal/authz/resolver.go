package authz

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PermissionSet is a deduplicated set of permission names.
type PermissionSet map[string]struct{}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permissions as a slice. Order is unspecified.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// NewPermissionSet builds a set from names, collapsing duplicates.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Repository provides the read queries resolution depends on.
type Repository interface {
	// PermissionNames joins active, unexpired grants through the
	// role-permission association. now is the single clock reading for
	// the whole resolution.
	PermissionNames(ctx context.Context, userID int64, now time.Time) ([]string, error)
	// RoleNames returns the names of roles backing active, unexpired
	// grants.
	RoleNames(ctx context.Context, userID int64, now time.Time) ([]string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// PermissionNames resolves effective permission names in one query.
func (r *PGRepository) PermissionNames(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	return r.queryNames(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		  AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)`, userID, now)
}

// RoleNames returns active role names for the user.
func (r *PGRepository) RoleNames(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	return r.queryNames(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.name`, userID, now)
}

func (r *PGRepository) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

var _ Repository = (*PGRepository)(nil)

// Resolver computes effective permission sets from grant and role data.
// Resolution is read-only: expired grants are filtered, never mutated.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Resolve returns the effective permission set for a user. A user with
// zero active grants resolves to the empty set.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	names, err := r.repo.PermissionNames(ctx, userID, r.now().UTC())
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names...), nil
}

// ActiveRoles returns the names of the user's currently active roles.
func (r *Resolver) ActiveRoles(ctx context.Context, userID int64) ([]string, error) {
	return r.repo.RoleNames(ctx, userID, r.now().UTC())
}
