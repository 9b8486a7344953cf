// Package migrations embeds the SQL schema so every binary and test applies
// the same files in the same order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
