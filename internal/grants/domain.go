package grants

import "time"

// Grant is a user-role assignment, possibly time-bounded. A grant
// contributes to a user's effective permissions iff IsActive is true and
// ExpiresAt is either nil or in the future. Expiry is evaluated lazily
// at resolution time; no stored state flips when a grant expires.
type Grant struct {
	UserID     int64
	RoleID     int64
	RoleName   string
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
	IsActive   bool
}

// ActiveAt reports whether the grant contributes to effective
// permissions at the given instant.
func (g Grant) ActiveAt(now time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
