// Package migrations embeds the goose SQL migration files applied on store
// startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
