package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matcontrol/matcontrol/internal/shared"
)

// Repository defines persistence operations for the role and permission
// vocabulary.
type Repository interface {
	CreateRole(ctx context.Context, name, label, description string, isSystem bool) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, id int64) error

	CreatePermission(ctx context.Context, name, label, category string, isSystem bool) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListPermissionsByCategory(ctx context.Context, category string) ([]Permission, error)
	ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, label, description string, isSystem bool) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, label, description, is_system)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`, name, label, description, isSystem)
	role := Role{Name: name, Label: label, Description: description, IsSystem: isSystem}
	if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	return role, nil
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `
		SELECT id, name, label, description, is_system, created_at, updated_at
		FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by its unique name.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `
		SELECT id, name, label, description, is_system, created_at, updated_at
		FROM roles WHERE name = $1`, name))
}

func (r *PGRepository) scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, label, description, is_system, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DeleteRole removes a role. Association rows cascade via FK.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, name, label, category string, isSystem bool) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, label, category, is_system)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`, name, label, category, isSystem)
	perm := Permission{Name: name, Label: label, Category: category, IsSystem: isSystem}
	if err := row.Scan(&perm.ID, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx, `
		SELECT id, name, label, category, is_system, created_at, updated_at
		FROM permissions WHERE id = $1`, id))
}

// GetPermissionByName fetches a permission by its unique name.
func (r *PGRepository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx, `
		SELECT id, name, label, category, is_system, created_at, updated_at
		FROM permissions WHERE name = $1`, name))
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Label, &perm.Category, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx, `
		SELECT id, name, label, category, is_system, created_at, updated_at
		FROM permissions ORDER BY name`)
}

// ListPermissionsByCategory returns permissions within one category.
func (r *PGRepository) ListPermissionsByCategory(ctx context.Context, category string) ([]Permission, error) {
	return r.queryPermissions(ctx, `
		SELECT id, name, label, category, is_system, created_at, updated_at
		FROM permissions WHERE category = $1 ORDER BY name`, category)
}

// ListPermissionsForRole returns permissions attached to a role.
func (r *PGRepository) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return r.queryPermissions(ctx, `
		SELECT p.id, p.name, p.label, p.category, p.is_system, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
}

func (r *PGRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Label, &perm.Category, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// DeletePermission removes a permission. Association rows cascade via FK.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AttachPermission links a permission to a role. Duplicate pairs are
// ignored.
func (r *PGRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission unlinks a permission from a role.
func (r *PGRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

var _ Repository = (*PGRepository)(nil)
