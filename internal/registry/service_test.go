package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matcontrol/matcontrol/internal/shared"
)

type stubRegistryRepo struct {
	roles map[int64]Role
	perms map[int64]Permission
	pairs map[[2]int64]struct{}

	nextID int64
}

func newStubRegistryRepo() *stubRegistryRepo {
	return &stubRegistryRepo{
		roles:  make(map[int64]Role),
		perms:  make(map[int64]Permission),
		pairs:  make(map[[2]int64]struct{}),
		nextID: 1,
	}
}

func (s *stubRegistryRepo) CreateRole(ctx context.Context, name, label, description string, isSystem bool) (Role, error) {
	for _, r := range s.roles {
		if r.Name == name {
			return Role{}, errors.New("duplicate role name")
		}
	}
	role := Role{ID: s.nextID, Name: name, Label: label, Description: description, IsSystem: isSystem, CreatedAt: time.Now()}
	s.roles[role.ID] = role
	s.nextID++
	return role, nil
}

func (s *stubRegistryRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (s *stubRegistryRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (s *stubRegistryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	return roles, nil
}

func (s *stubRegistryRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := s.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.roles, id)
	for pair := range s.pairs {
		if pair[0] == id {
			delete(s.pairs, pair)
		}
	}
	return nil
}

func (s *stubRegistryRepo) CreatePermission(ctx context.Context, name, label, category string, isSystem bool) (Permission, error) {
	perm := Permission{ID: s.nextID, Name: name, Label: label, Category: category, IsSystem: isSystem}
	s.perms[perm.ID] = perm
	s.nextID++
	return perm, nil
}

func (s *stubRegistryRepo) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, ok := s.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return perm, nil
}

func (s *stubRegistryRepo) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, shared.ErrNotFound
}

func (s *stubRegistryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	for _, p := range s.perms {
		perms = append(perms, p)
	}
	return perms, nil
}

func (s *stubRegistryRepo) ListPermissionsByCategory(ctx context.Context, category string) ([]Permission, error) {
	var perms []Permission
	for _, p := range s.perms {
		if p.Category == category {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

func (s *stubRegistryRepo) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	var perms []Permission
	for pair := range s.pairs {
		if pair[0] == roleID {
			perms = append(perms, s.perms[pair[1]])
		}
	}
	return perms, nil
}

func (s *stubRegistryRepo) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := s.perms[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.perms, id)
	return nil
}

func (s *stubRegistryRepo) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	s.pairs[[2]int64{roleID, permissionID}] = struct{}{}
	return nil
}

func (s *stubRegistryRepo) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	delete(s.pairs, [2]int64{roleID, permissionID})
	return nil
}

var _ Repository = (*stubRegistryRepo)(nil)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateAll() { c.calls++ }

func TestDeleteSystemRoleRejected(t *testing.T) {
	repo := newStubRegistryRepo()
	role, _ := repo.CreateRole(context.Background(), "admin", "Administrator", "", true)
	svc := NewService(repo, nil)

	err := svc.DeleteRole(context.Background(), role.ID)
	var policyErr *shared.PolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
	if policyErr.Entity != "role" || policyErr.Name != "admin" {
		t.Fatalf("unexpected policy payload: %+v", policyErr)
	}
	if _, err := repo.GetRole(context.Background(), role.ID); err != nil {
		t.Fatalf("system role must survive delete attempt")
	}
}

func TestDeleteSystemPermissionRejected(t *testing.T) {
	repo := newStubRegistryRepo()
	perm, _ := repo.CreatePermission(context.Background(), "admin.users", "Manage users", "admin", true)
	svc := NewService(repo, nil)

	var policyErr *shared.PolicyError
	if err := svc.DeletePermission(context.Background(), perm.ID); !errors.As(err, &policyErr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
}

func TestDeleteRoleCascadesAssociations(t *testing.T) {
	repo := newStubRegistryRepo()
	inv := &countingInvalidator{}
	svc := NewService(repo, inv)

	role, err := svc.CreateRole(context.Background(), "lab_lead", "Lab Lead", "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	perm, err := svc.CreatePermission(context.Background(), "lab.approve", "Approve", "lab")
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := svc.AssignPermissionToRole(context.Background(), role.ID, perm.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.DeleteRole(context.Background(), role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if len(repo.pairs) != 0 {
		t.Fatalf("association rows must cascade with the role")
	}
	// Both the attach and the delete must have cleared the cache.
	if inv.calls != 2 {
		t.Fatalf("expected 2 broad invalidations, got %d", inv.calls)
	}
}

func TestVocabularyEditsInvalidateBroadly(t *testing.T) {
	repo := newStubRegistryRepo()
	inv := &countingInvalidator{}
	svc := NewService(repo, inv)

	role, _ := svc.CreateRole(context.Background(), "operator", "Operator", "")
	perm, _ := svc.CreatePermission(context.Background(), "materials.view", "View", "materials")

	if err := svc.AssignPermissionToRole(context.Background(), role.ID, perm.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.RevokePermissionFromRole(context.Background(), role.ID, perm.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if inv.calls != 2 {
		t.Fatalf("expected invalidation on each association edit, got %d", inv.calls)
	}
}

func TestCreateRoleRequiresName(t *testing.T) {
	svc := NewService(newStubRegistryRepo(), nil)
	if _, err := svc.CreateRole(context.Background(), "   ", "x", ""); err == nil {
		t.Fatalf("expected error for blank role name")
	}
}

func TestAssignPermissionToMissingRole(t *testing.T) {
	svc := NewService(newStubRegistryRepo(), nil)
	if err := svc.AssignPermissionToRole(context.Background(), 404, 1); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignMissingPermissionToRole(t *testing.T) {
	repo := newStubRegistryRepo()
	svc := NewService(repo, nil)

	role, _ := svc.CreateRole(context.Background(), "operator", "Operator", "")
	if err := svc.AssignPermissionToRole(context.Background(), role.ID, 404); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
	if len(repo.pairs) != 0 {
		t.Fatalf("no association row may be written for an unknown permission")
	}
}

func TestListPermissionsForRole(t *testing.T) {
	repo := newStubRegistryRepo()
	svc := NewService(repo, nil)

	role, _ := svc.CreateRole(context.Background(), "lab_technician", "Lab Technician", "")
	for _, name := range []string{"lab.view", "lab.create"} {
		perm, _ := svc.CreatePermission(context.Background(), name, name, "lab")
		if err := svc.AssignPermissionToRole(context.Background(), role.ID, perm.ID); err != nil {
			t.Fatalf("assign %s: %v", name, err)
		}
	}
	perms, err := svc.ListPermissionsForRole(context.Background(), role.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(perms))
	}
}
