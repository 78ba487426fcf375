// Package version holds the bridge release number.
package version

import "fmt"

const (
	Major = 0
	Minor = 3
	Patch = 0
)

// String returns the version as "major.minor.patch".
func String() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}
