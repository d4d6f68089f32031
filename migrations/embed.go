// Package migrations embeds the SQL migrations for the Postgres storage backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
