// Package defaults carries the files seeded into a fresh runtime
// directory: the starter config, the built-in artifact definitions, and
// the default prompt modules. Paths inside the embedded filesystem mirror
// the runtime directory layout.
package defaults

import (
	"embed"
	"io/fs"
)

//go:embed config.yaml artifacts prompts
var defaultsFS embed.FS

// FS returns the embedded defaults filesystem.
func FS() fs.FS {
	return defaultsFS
}
