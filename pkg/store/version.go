package store

// version is set at build time with
// -ldflags "-X github.com/ssargent/skadidb/pkg/store.version=v1.2.3".
var version = "dev"

// Version returns the build version of the library.
func Version() string {
	return version
}
