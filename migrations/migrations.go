// Package migrations carries the schema so tools and tests apply exactly what ships.
package migrations

import "embed"

// Files holds the SQL migrations. They apply in file name order.
//
//go:embed *.sql
var Files embed.FS
