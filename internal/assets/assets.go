// Package assets holds the pages viewmill ships with: an embedded
// filesystem of default templates and the native components used for
// the welcome screen and for error reporting.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed embedded
var content embed.FS

// Embedded returns the packaged default pages. Projects override any of
// them by placing a file at the same virtual path in their source root.
func Embedded() fs.FS {
	sub, err := fs.Sub(content, "embedded")
	if err != nil {
		panic(err)
	}
	return sub
}
