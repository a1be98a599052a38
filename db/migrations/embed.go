// Package migrations embeds the template store schema for each SQL driver.
package migrations

import "embed"

// FS holds one directory of golang-migrate files per driver.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
