// Package utils holds small helpers shared by the switchboard packages.
package utils

import "fmt"

// Set at link time with -ldflags "-X".
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies the gateway to upstream providers.
func UserAgent() string {
	return fmt.Sprintf("switchboard/%s (%s)", Version, Sha)
}
