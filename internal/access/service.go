// Package access is the caller-facing surface of the authorization
// kernel: authentication, authorization checks and the administrative
// operations that mutate grants and vocabulary. Front ends consume this
// package only; the inner packages stay unexported collaborators.
package access

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/matcontrol/matcontrol/internal/audit"
	"github.com/matcontrol/matcontrol/internal/authz"
	"github.com/matcontrol/matcontrol/internal/credentials"
	"github.com/matcontrol/matcontrol/internal/grants"
	"github.com/matcontrol/matcontrol/internal/registry"
	"github.com/matcontrol/matcontrol/internal/sessions"
	"github.com/matcontrol/matcontrol/internal/shared"
)

// Service wires the credential store, resolver, cache, guard, grant and
// registry services behind the two boundary contracts: authenticate and
// authorize.
type Service struct {
	logger   *slog.Logger
	creds    *credentials.Service
	registry *registry.Service
	grants   *grants.Service
	resolver *authz.Resolver
	cache    *authz.Cache
	guard    *authz.Guard
	sessions *sessions.Store
	recorder audit.Recorder
}

// Options collects the collaborators for NewService. Sessions and
// Recorder are optional.
type Options struct {
	Logger      *slog.Logger
	Credentials *credentials.Service
	Registry    *registry.Service
	Grants      *grants.Service
	Resolver    *authz.Resolver
	Cache       *authz.Cache
	Guard       *authz.Guard
	Sessions    *sessions.Store
	Recorder    audit.Recorder
}

// NewService constructs the facade.
func NewService(opts Options) *Service {
	return &Service{
		logger:   opts.Logger,
		creds:    opts.Credentials,
		registry: opts.Registry,
		grants:   opts.Grants,
		resolver: opts.Resolver,
		cache:    opts.Cache,
		guard:    opts.Guard,
		sessions: opts.Sessions,
		recorder: opts.Recorder,
	}
}

// Authenticate verifies credentials and produces an Identity with the
// user's active roles and resolved permission set. Every attempt is
// audited; failures are reported uniformly as invalid credentials.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Identity, error) {
	return s.authenticate(ctx, login, password, false)
}

// AuthenticateRemember behaves like Authenticate with an extended
// session lifetime.
func (s *Service) AuthenticateRemember(ctx context.Context, login, password string) (*Identity, error) {
	return s.authenticate(ctx, login, password, true)
}

func (s *Service) authenticate(ctx context.Context, login, password string, remember bool) (*Identity, error) {
	result, err := s.creds.Verify(ctx, login, password)
	if err != nil {
		s.audit(ctx, audit.Entry{
			Action:  "auth.login",
			Entity:  "user",
			Outcome: audit.OutcomeFailed,
			Meta:    map[string]any{"login": login},
		})
		if errors.Is(err, shared.ErrInvalidCredentials) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}

	identity, err := s.buildIdentity(ctx, result.User)
	if err != nil {
		return nil, err
	}

	if s.sessions != nil {
		sess, err := s.sessions.Create(ctx, identity.UserID, identity.Login, remember)
		if err != nil {
			return nil, err
		}
		identity.SessionToken = sess.Token
		identity.SessionExpiresAt = sess.ExpiresAt
	}

	s.audit(ctx, audit.Entry{
		ActorID:  identity.UserID,
		Action:   "auth.login",
		Entity:   "user",
		EntityID: strconv.FormatInt(identity.UserID, 10),
		Outcome:  audit.OutcomeAllowed,
		Meta:     map[string]any{"login": login, "format": result.Format.String()},
	})
	s.logger.Info("user authenticated", slog.String("login", login), slog.String("format", result.Format.String()))
	return identity, nil
}

// AuthenticateToken resolves an Identity from a session token.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*Identity, error) {
	if s.sessions == nil {
		return nil, errors.New("access: session store not configured")
	}
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	user, err := s.creds.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	identity, err := s.buildIdentity(ctx, user)
	if err != nil {
		return nil, err
	}
	identity.SessionToken = sess.Token
	identity.SessionExpiresAt = sess.ExpiresAt
	return identity, nil
}

func (s *Service) buildIdentity(ctx context.Context, user *credentials.User) (*Identity, error) {
	perms, err := s.cache.GetOrResolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	roles, err := s.resolver.ActiveRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:      user.ID,
		Login:       user.Login,
		Name:        user.Name,
		Roles:       roles,
		Permissions: perms,
		ResolvedAt:  time.Now().UTC(),
	}, nil
}

// Authorize reports whether the user currently holds the permission.
func (s *Service) Authorize(ctx context.Context, userID int64, permission string) (bool, error) {
	perms, err := s.cache.GetOrResolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms.Has(permission), nil
}

// Require enforces a single permission for the principal, returning an
// *authz.DenialError on failure.
func (s *Service) Require(ctx context.Context, principal authz.Principal, permission string) error {
	return s.guard.Require(ctx, principal, permission)
}

// RequireAny enforces at least one of the permissions.
func (s *Service) RequireAny(ctx context.Context, principal authz.Principal, permissions ...string) error {
	return s.guard.RequireAny(ctx, principal, permissions...)
}

// RequireAll enforces every permission.
func (s *Service) RequireAll(ctx context.Context, principal authz.Principal, permissions ...string) error {
	return s.guard.RequireAll(ctx, principal, permissions...)
}

// RequireRole enforces direct membership of a named role.
func (s *Service) RequireRole(ctx context.Context, principal authz.Principal, role string) error {
	return s.guard.RequireRole(ctx, principal, role)
}

// Logout invalidates the given session token, or every session of the
// user when token is empty.
func (s *Service) Logout(ctx context.Context, principal authz.Principal, token string) error {
	s.cache.Invalidate(principal.GetID())
	if s.sessions == nil {
		return nil
	}
	if token != "" {
		return s.sessions.Invalidate(ctx, token)
	}
	_, err := s.sessions.InvalidateAllForUser(ctx, principal.GetID())
	return err
}

// AssignRole grants a role to a user on behalf of the actor, who must
// hold admin.roles. The target user and role must exist.
func (s *Service) AssignRole(ctx context.Context, actor authz.Principal, userID int64, roleName string, expiresAt *time.Time) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return err
	}
	if _, err := s.creds.GetUser(ctx, userID); err != nil {
		return err
	}
	role, err := s.registry.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.grants.Assign(ctx, userID, role.ID, actor.GetID(), expiresAt); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.assign_role",
		Entity:   "user_role",
		EntityID: strconv.FormatInt(userID, 10) + ":" + roleName,
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// RevokeRole revokes a role from a user on behalf of the actor, who must
// hold admin.roles.
func (s *Service) RevokeRole(ctx context.Context, actor authz.Principal, userID int64, roleName string) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return err
	}
	role, err := s.registry.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.grants.Revoke(ctx, userID, role.ID); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.revoke_role",
		Entity:   "user_role",
		EntityID: strconv.FormatInt(userID, 10) + ":" + roleName,
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// CreateRole adds a role to the vocabulary on behalf of the actor, who
// must hold admin.roles.
func (s *Service) CreateRole(ctx context.Context, actor authz.Principal, name, label, description string) (registry.Role, error) {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return registry.Role{}, err
	}
	role, err := s.registry.CreateRole(ctx, name, label, description)
	if err != nil {
		return registry.Role{}, err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.create_role",
		Entity:   "role",
		EntityID: role.Name,
		Outcome:  audit.OutcomeAllowed,
	})
	return role, nil
}

// DeleteRole removes a role on behalf of the actor, who must hold
// admin.roles. System roles are refused with a PolicyError.
func (s *Service) DeleteRole(ctx context.Context, actor authz.Principal, roleID int64) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return err
	}
	if err := s.registry.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.delete_role",
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// CreatePermission adds a permission to the vocabulary on behalf of the
// actor, who must hold admin.permissions.
func (s *Service) CreatePermission(ctx context.Context, actor authz.Principal, name, label, category string) (registry.Permission, error) {
	if err := s.guard.Require(ctx, actor, shared.PermAdminPermissions); err != nil {
		return registry.Permission{}, err
	}
	perm, err := s.registry.CreatePermission(ctx, name, label, category)
	if err != nil {
		return registry.Permission{}, err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.create_permission",
		Entity:   "permission",
		EntityID: perm.Name,
		Outcome:  audit.OutcomeAllowed,
	})
	return perm, nil
}

// DeletePermission removes a permission on behalf of the actor, who must
// hold admin.permissions. System permissions are refused with a
// PolicyError.
func (s *Service) DeletePermission(ctx context.Context, actor authz.Principal, permissionID int64) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminPermissions); err != nil {
		return err
	}
	if err := s.registry.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.delete_permission",
		Entity:   "permission",
		EntityID: strconv.FormatInt(permissionID, 10),
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// AttachPermissionToRole edits a role's permission set on behalf of the
// actor, who must hold admin.roles. The edit invalidates the whole
// permission cache.
func (s *Service) AttachPermissionToRole(ctx context.Context, actor authz.Principal, roleID, permissionID int64) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return err
	}
	if err := s.registry.AssignPermissionToRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.attach_permission",
		Entity:   "role_permission",
		EntityID: strconv.FormatInt(roleID, 10) + ":" + strconv.FormatInt(permissionID, 10),
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// DetachPermissionFromRole removes a permission from a role on behalf of
// the actor, who must hold admin.roles.
func (s *Service) DetachPermissionFromRole(ctx context.Context, actor authz.Principal, roleID, permissionID int64) error {
	if err := s.guard.Require(ctx, actor, shared.PermAdminRoles); err != nil {
		return err
	}
	if err := s.registry.RevokePermissionFromRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "rbac.detach_permission",
		Entity:   "role_permission",
		EntityID: strconv.FormatInt(roleID, 10) + ":" + strconv.FormatInt(permissionID, 10),
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// CreateUser provisions an account on behalf of the actor, who must hold
// admin.users. When roleName is non-empty the new user is granted that
// role immediately.
func (s *Service) CreateUser(ctx context.Context, actor authz.Principal, input credentials.CreateUserInput, roleName string) (*credentials.User, error) {
	if err := s.guard.Require(ctx, actor, shared.PermAdminUsers); err != nil {
		return nil, err
	}
	user, err := s.creds.CreateUser(ctx, input)
	if err != nil {
		return nil, err
	}
	if roleName != "" {
		role, err := s.registry.GetRoleByName(ctx, roleName)
		if err != nil {
			return nil, err
		}
		if err := s.grants.Assign(ctx, user.ID, role.ID, actor.GetID(), nil); err != nil {
			return nil, err
		}
	}
	s.audit(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   "admin.create_user",
		Entity:   "user",
		EntityID: strconv.FormatInt(user.ID, 10),
		Outcome:  audit.OutcomeAllowed,
		Meta:     map[string]any{"login": user.Login},
	})
	return user, nil
}

// ChangePassword re-verifies the old password and writes the new one in
// adaptive format only.
func (s *Service) ChangePassword(ctx context.Context, login, oldPassword, newPassword string) error {
	if err := s.creds.ChangePassword(ctx, login, oldPassword, newPassword); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		Action:  "auth.change_password",
		Entity:  "user",
		Outcome: audit.OutcomeAllowed,
		Meta:    map[string]any{"login": login},
	})
	return nil
}

// audit records an entry fire-and-forget. Failures are logged, never
// surfaced.
func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if s.recorder == nil {
		return
	}
	if entry.EntityID == "" {
		entry.EntityID = "-"
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
