// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

// Set via ldflags during build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent is the product token sent on outbound requests.
func UserAgent() string {
	return "garden/" + Version
}
