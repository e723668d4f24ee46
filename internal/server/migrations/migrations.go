// Package migrations embeds the goose SQL migrations for the PostgreSQL
// ledger and lock backends.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
