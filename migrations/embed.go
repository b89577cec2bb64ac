// Package migrations embeds the goose SQL migrations for the relational
// metadata store (spec §6).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
