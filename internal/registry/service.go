package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/matcontrol/matcontrol/internal/shared"
)

// Invalidator is notified whenever the role-permission association
// changes. Any cached permission resolution may be stale after such an
// edit, so invalidation is broad rather than per-user.
type Invalidator interface {
	InvalidateAll()
}

// Service orchestrates role and permission vocabulary management. Role
// and permission names are unique and immutable after creation; rename
// is deliberately unsupported so historical audit references stay
// stable.
type Service struct {
	repo        Repository
	invalidator Invalidator
}

// NewService constructs a Service. invalidator may be nil when no cache
// is attached (e.g. in the provisioning CLI).
func NewService(repo Repository, invalidator Invalidator) *Service {
	return &Service{repo: repo, invalidator: invalidator}
}

// CreateRole inserts a new named role.
func (s *Service) CreateRole(ctx context.Context, name, label, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("registry: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(label), strings.TrimSpace(description), false)
}

// GetRoleByName fetches a role by name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByName(ctx, strings.TrimSpace(name))
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// DeleteRole removes a role and its association rows. System roles are
// protected.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return &shared.PolicyError{Entity: "role", Name: role.Name}
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// CreatePermission inserts a new named permission.
func (s *Service) CreatePermission(ctx context.Context, name, label, category string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("registry: permission name required")
	}
	return s.repo.CreatePermission(ctx, name, strings.TrimSpace(label), strings.TrimSpace(category), false)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// ListPermissionsByCategory returns permissions within one category.
func (s *Service) ListPermissionsByCategory(ctx context.Context, category string) ([]Permission, error) {
	return s.repo.ListPermissionsByCategory(ctx, strings.TrimSpace(category))
}

// ListPermissionsForRole returns the permissions attached to a role.
func (s *Service) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.ListPermissionsForRole(ctx, roleID)
}

// DeletePermission removes a permission and its association rows. System
// permissions are protected.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return &shared.PolicyError{Entity: "permission", Name: perm.Name}
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// AssignPermissionToRole attaches a permission to a role. Attaching an
// already-attached pair is a no-op.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.repo.AttachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// RevokePermissionFromRole detaches a permission from a role.
func (s *Service) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	if err := s.repo.DetachPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) invalidate() {
	if s.invalidator != nil {
		s.invalidator.InvalidateAll()
	}
}
