// Package version contains the build version of the program.
package version

// version is set at build time with
// -ldflags "-X github.com/ameshkov/connectgate/internal/version.version=v1.2.3".
var version = "dev"

// Version returns the build version.
func Version() (v string) {
	return version
}
