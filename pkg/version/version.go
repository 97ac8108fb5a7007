// Package version reports the sqlbridge release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version is the embedded release number.
var Version = strings.TrimSpace(versionFile)

// String returns the version string.
func String() string {
	return Version
}

// Full returns the version prefixed with the program name.
func Full() string {
	return "sqlbridge version " + Version
}
