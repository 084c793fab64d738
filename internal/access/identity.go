package access

import (
	"time"

	"github.com/matcontrol/matcontrol/internal/authz"
)

// Identity is the transient value produced by successful
// authentication. It is never persisted; the resolution timestamp marks
// when the permission set was computed.
type Identity struct {
	UserID      int64
	Login       string
	Name        string
	Roles       []string
	Permissions authz.PermissionSet
	ResolvedAt  time.Time

	// SessionToken is set when a session store is configured.
	SessionToken string
	// SessionExpiresAt is the token lifetime, zero without a session
	// store.
	SessionExpiresAt time.Time
}

// GetID implements authz.Principal.
func (i *Identity) GetID() int64 { return i.UserID }

// GetLogin implements authz.Principal.
func (i *Identity) GetLogin() string { return i.Login }

// HasPermission reports whether the identity's resolved set contains the
// permission.
func (i *Identity) HasPermission(name string) bool {
	return i.Permissions.Has(name)
}

var _ authz.Principal = (*Identity)(nil)
