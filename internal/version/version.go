// Package version provides the daemon version string.
package version

import "fmt"

const (
	major = 0
	minor = 1
	patch = 0

	// preRelease is appended to the version string for non-final builds.
	preRelease = "pre"
)

// String returns the semantic version of the daemon.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if preRelease != "" {
		v += "-" + preRelease
	}
	return v
}
