package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/matcontrol/matcontrol/internal/audit"
)

// Principal describes the authenticated actor a guard evaluates.
type Principal interface {
	GetID() int64
	GetLogin() string
}

// DenialError reports a failed permission check together with the
// permission(s) that were required but missing.
type DenialError struct {
	UserID  int64
	Missing []string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("authz: user %d missing permission(s): %s", e.UserID, strings.Join(e.Missing, ", "))
}

// PermissionSource yields effective permission sets, normally the Cache.
type PermissionSource interface {
	GetOrResolve(ctx context.Context, userID int64) (PermissionSet, error)
}

// RoleSource yields active role names.
type RoleSource interface {
	ActiveRoles(ctx context.Context, userID int64) ([]string, error)
}

// Guard is the enforcement point wrapping protected operations. Guards
// only read permissions; they never mutate grant state.
type Guard struct {
	logger   *slog.Logger
	perms    PermissionSource
	roles    RoleSource
	recorder audit.Recorder
}

// NewGuard constructs a Guard. recorder may be nil to disable audit
// records.
func NewGuard(logger *slog.Logger, perms PermissionSource, roles RoleSource, recorder audit.Recorder) *Guard {
	return &Guard{logger: logger, perms: perms, roles: roles, recorder: recorder}
}

// Require checks a single permission and returns a DenialError when it
// is missing.
func (g *Guard) Require(ctx context.Context, principal Principal, permission string) error {
	return g.RequireAll(ctx, principal, permission)
}

// RequireAny passes when the principal holds at least one of the
// permissions. On denial the error lists every permission that was
// acceptable.
func (g *Guard) RequireAny(ctx context.Context, principal Principal, permissions ...string) error {
	granted, err := g.perms.GetOrResolve(ctx, principal.GetID())
	if err != nil {
		return err
	}
	for _, p := range permissions {
		if granted.Has(p) {
			return nil
		}
	}
	return g.deny(ctx, principal, permissions)
}

// RequireAll passes only when the principal holds every permission. On
// denial the error lists the missing ones.
func (g *Guard) RequireAll(ctx context.Context, principal Principal, permissions ...string) error {
	granted, err := g.perms.GetOrResolve(ctx, principal.GetID())
	if err != nil {
		return err
	}
	var missing []string
	for _, p := range permissions {
		if !granted.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return g.deny(ctx, principal, missing)
}

// RequireRole passes when the principal holds the named role directly.
func (g *Guard) RequireRole(ctx context.Context, principal Principal, role string) error {
	roles, err := g.roles.ActiveRoles(ctx, principal.GetID())
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return g.deny(ctx, principal, []string{"role:" + role})
}

// Allowed reports whether the principal holds the permission without
// raising a denial.
func (g *Guard) Allowed(ctx context.Context, principal Principal, permission string) (bool, error) {
	granted, err := g.perms.GetOrResolve(ctx, principal.GetID())
	if err != nil {
		return false, err
	}
	return granted.Has(permission), nil
}

func (g *Guard) deny(ctx context.Context, principal Principal, missing []string) error {
	g.record(ctx, principal, missing)
	return &DenialError{UserID: principal.GetID(), Missing: missing}
}

// record emits an audit entry for the denial. Audit failures are logged
// and swallowed; they must not change the denial outcome.
func (g *Guard) record(ctx context.Context, principal Principal, missing []string) {
	if g.recorder == nil {
		return
	}
	entry := audit.Entry{
		ActorID:  principal.GetID(),
		Action:   "authz.deny",
		Entity:   "permission",
		EntityID: strings.Join(missing, ","),
		Outcome:  audit.OutcomeDenied,
		Meta: map[string]any{
			"login":   principal.GetLogin(),
			"user_id": strconv.FormatInt(principal.GetID(), 10),
		},
	}
	if err := g.recorder.Record(ctx, entry); err != nil && g.logger != nil {
		g.logger.Warn("audit denial", slog.Any("error", err))
	}
}
