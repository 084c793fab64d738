// Command matcontrol is the administrative provisioning CLI for the
// access-control core: it applies the schema, seeds the system role and
// permission vocabulary, and manages users and grants.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matcontrol/matcontrol/internal/app"
	"github.com/matcontrol/matcontrol/internal/authz"
	"github.com/matcontrol/matcontrol/internal/credentials"
	"github.com/matcontrol/matcontrol/internal/grants"
	"github.com/matcontrol/matcontrol/internal/platform/db"
	"github.com/matcontrol/matcontrol/internal/registry"
	"github.com/matcontrol/matcontrol/migrations"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, pool)
	case "seed":
		err = runSeed(ctx, pool)
	case "create-user":
		err = runCreateUser(ctx, logger, cfg, pool, os.Args[2:])
	case "assign-role":
		err = runAssignRole(ctx, logger, pool, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(os.Args[1], slog.Any("error", err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: matcontrol <command> [flags]

commands:
  migrate       apply the database schema
  seed          seed system roles and permissions
  create-user   -login -name -password [-role]
  assign-role   -user -role [-assigned-by] [-expires]`)
}

// runMigrate applies every migration file inside one transaction, so a
// failing statement leaves the schema untouched.
func runMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return err
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, entry := range entries {
			sql, err := migrations.FS.ReadFile(entry.Name())
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("apply %s: %w", entry.Name(), err)
			}
			fmt.Printf("→ applied %s\n", entry.Name())
		}
		return nil
	})
}

// seedRoles mirrors the system vocabulary the application ships with.
var seedRoles = []struct {
	name, label, description string
}{
	{"admin", "Administrator", "Full system access"},
	{"otk_master", "QC Master", "Material quality control"},
	{"lab_technician", "Lab Technician", "Laboratory testing"},
	{"operator", "Operator", "Material handling"},
	{"viewer", "Viewer", "Read-only access"},
}

var seedPermissions = []struct {
	name, label, category string
}{
	{"materials.view", "View materials", "materials"},
	{"materials.create", "Create materials", "materials"},
	{"materials.edit", "Edit materials", "materials"},
	{"materials.delete", "Delete materials", "materials"},
	{"materials.import", "Import materials", "materials"},
	{"materials.export", "Export materials", "materials"},
	{"lab.view", "View lab data", "lab"},
	{"lab.create", "Create lab requests", "lab"},
	{"lab.edit", "Edit lab data", "lab"},
	{"lab.approve", "Approve lab results", "lab"},
	{"lab.archive", "Archive lab requests", "lab"},
	{"quality.view", "View QC data", "quality"},
	{"quality.create", "Create QC records", "quality"},
	{"quality.edit", "Edit QC data", "quality"},
	{"quality.approve", "Approve QC results", "quality"},
	{"documents.view", "View documents", "documents"},
	{"documents.upload", "Upload documents", "documents"},
	{"documents.delete", "Delete documents", "documents"},
	{"reports.view", "View reports", "reports"},
	{"reports.create", "Create reports", "reports"},
	{"reports.export", "Export reports", "reports"},
	{"admin.users", "Manage users", "admin"},
	{"admin.roles", "Manage roles", "admin"},
	{"admin.permissions", "Manage permissions", "admin"},
	{"admin.settings", "System settings", "admin"},
	{"admin.backup", "Backups", "admin"},
	{"admin.logs", "View logs", "admin"},
	{"suppliers.view", "View suppliers", "suppliers"},
	{"suppliers.create", "Create suppliers", "suppliers"},
	{"suppliers.edit", "Edit suppliers", "suppliers"},
	{"suppliers.delete", "Delete suppliers", "suppliers"},
}

var seedRolePermissions = map[string][]string{
	"admin": {
		"materials.view", "materials.create", "materials.edit", "materials.delete",
		"materials.import", "materials.export",
		"lab.view", "lab.create", "lab.edit", "lab.approve", "lab.archive",
		"quality.view", "quality.create", "quality.edit", "quality.approve",
		"documents.view", "documents.upload", "documents.delete",
		"reports.view", "reports.create", "reports.export",
		"admin.users", "admin.roles", "admin.permissions", "admin.settings",
		"admin.backup", "admin.logs",
		"suppliers.view", "suppliers.create", "suppliers.edit", "suppliers.delete",
	},
	"otk_master": {
		"materials.view", "materials.create", "materials.edit", "materials.export",
		"lab.view", "lab.create",
		"quality.view", "quality.create", "quality.edit", "quality.approve",
		"documents.view", "documents.upload",
		"reports.view", "reports.create", "reports.export",
		"suppliers.view",
	},
	"lab_technician": {
		"materials.view",
		"lab.view", "lab.create", "lab.edit", "lab.approve",
		"quality.view",
		"documents.view", "documents.upload",
		"reports.view", "reports.create",
		"suppliers.view",
	},
	"operator": {
		"materials.view", "materials.create", "materials.edit",
		"lab.view", "lab.create",
		"quality.view",
		"documents.view", "documents.upload",
		"reports.view",
		"suppliers.view",
	},
	"viewer": {
		"materials.view", "lab.view", "quality.view",
		"documents.view", "reports.view", "suppliers.view",
	},
}

// runSeed writes the whole vocabulary in one transaction: either the
// complete role/permission matrix lands or nothing does.
func runSeed(ctx context.Context, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		fmt.Println("→ Seeding roles...")
		for _, r := range seedRoles {
			if _, err := tx.Exec(ctx, `
				INSERT INTO roles (name, label, description, is_system)
				VALUES ($1, $2, $3, TRUE)
				ON CONFLICT (name) DO NOTHING`, r.name, r.label, r.description); err != nil {
				return err
			}
		}

		fmt.Println("→ Seeding permissions...")
		for _, p := range seedPermissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO permissions (name, label, category, is_system)
				VALUES ($1, $2, $3, TRUE)
				ON CONFLICT (name) DO NOTHING`, p.name, p.label, p.category); err != nil {
				return err
			}
		}

		fmt.Println("→ Attaching permissions to roles...")
		for role, perms := range seedRolePermissions {
			for _, perm := range perms {
				if _, err := tx.Exec(ctx, `
					INSERT INTO role_permissions (role_id, permission_id)
					SELECT r.id, p.id FROM roles r, permissions p
					WHERE r.name = $1 AND p.name = $2
					ON CONFLICT DO NOTHING`, role, perm); err != nil {
					return err
				}
			}
		}
		fmt.Println("✓ Seed complete")
		return nil
	})
}

func runCreateUser(ctx context.Context, logger *slog.Logger, cfg *app.Config, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	login := fs.String("login", "", "unique login")
	name := fs.String("name", "", "display name")
	password := fs.String("password", "", "initial password")
	role := fs.String("role", "", "role to grant (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	creds := credentials.NewService(logger, credentials.NewRepository(pool), cfg.BcryptCost)
	user, err := creds.CreateUser(ctx, credentials.CreateUserInput{
		Login:    *login,
		Name:     *name,
		Password: *password,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Created user %q (id %d)\n", user.Login, user.ID)

	if *role != "" {
		return grantRole(ctx, logger, pool, user.ID, *role, user.ID, nil)
	}
	return nil
}

func runAssignRole(ctx context.Context, logger *slog.Logger, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("assign-role", flag.ExitOnError)
	userID := fs.Int64("user", 0, "user id")
	role := fs.String("role", "", "role name")
	assignedBy := fs.Int64("assigned-by", 0, "assigning user id")
	expires := fs.String("expires", "", "expiry (RFC3339, optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var expiresAt *time.Time
	if *expires != "" {
		t, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			return fmt.Errorf("parse -expires: %w", err)
		}
		expiresAt = &t
	}
	return grantRole(ctx, logger, pool, *userID, *role, *assignedBy, expiresAt)
}

func grantRole(ctx context.Context, logger *slog.Logger, pool *pgxpool.Pool, userID int64, roleName string, assignedBy int64, expiresAt *time.Time) error {
	reg := registry.NewService(registry.NewRepository(pool), nil)
	role, err := reg.GetRoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("role %q: %w", roleName, err)
	}
	store := grants.NewService(logger, grants.NewRepository(pool), nil)
	if err := store.Assign(ctx, userID, role.ID, assignedBy, expiresAt); err != nil {
		return err
	}
	fmt.Printf("✓ Granted role %q to user %d\n", roleName, userID)

	// Sanity-check resolution so misconfigured seeds surface immediately.
	resolver := authz.NewResolver(authz.NewRepository(pool))
	perms, err := resolver.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("  effective permissions: %d\n", len(perms))
	return nil
}
