// Package migrations embeds the SQL schema files so the provisioning
// CLI can apply them without a working directory dependency.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
