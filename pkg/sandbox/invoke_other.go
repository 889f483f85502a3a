//go:build !unix && !windows

package sandbox

// No shell adapter exists for this platform; initialization fails instead
// of running commands without sandbox guarantees.
func newPlatformAdapter() (Adapter, error) {
	return nil, ErrUnsupportedPlatform
}
