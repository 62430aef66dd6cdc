// Package migrations embeds the versioned schema. batchd applies it with
// goose before anything touches the database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
