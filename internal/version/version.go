// Package version exposes the build version embedded from the VERSION
// file at compile time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the semantic version string.
func Get() string {
	return strings.TrimSpace(raw)
}

// UserAgent identifies this build on outbound HTTP requests.
func UserAgent() string {
	return "taskbeacon/" + Get()
}
