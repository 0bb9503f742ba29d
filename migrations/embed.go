// Package migrations provides the embedded SQL migrations applied at
// startup (order matters: 001, 002, ...).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
