package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. Unknown logins and
	// wrong passwords both map here so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// PolicyError reports a rejected mutation of a system-flagged role or
// permission.
type PolicyError struct {
	Entity string
	Name   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy: %s %q is system-flagged and cannot be modified", e.Entity, e.Name)
}
