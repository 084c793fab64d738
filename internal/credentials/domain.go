package credentials

import "time"

// Format identifies which password representation a credential carries.
type Format int

const (
	// FormatNone means no usable credential is stored.
	FormatNone Format = iota
	// FormatLegacy is the pre-migration hex SHA-256 digest.
	FormatLegacy
	// FormatAdaptive is the bcrypt hash used for all new and migrated
	// credentials.
	FormatAdaptive
)

// String returns the storage label for the format.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "sha256"
	case FormatAdaptive:
		return "bcrypt"
	default:
		return "none"
	}
}

// Credential is the tagged password representation of a user row. During
// the compatibility window both hashes may transiently coexist; Format
// names the effective one.
type Credential struct {
	Format       Format
	LegacyDigest string
	AdaptiveHash string
}

// User represents a user account row.
type User struct {
	ID         int64
	Login      string
	Name       string
	Credential Credential
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VerifyResult reports a successful password verification and which
// format matched.
type VerifyResult struct {
	User   *User
	Format Format
}
