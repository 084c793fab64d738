package registry

import "time"

// Role represents a named capability bundle.
type Role struct {
	ID          int64
	Name        string
	Label       string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability. Names use a dotted
// namespace, e.g. "materials.create".
type Permission struct {
	ID        int64
	Name      string
	Label     string
	Category  string
	IsSystem  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
