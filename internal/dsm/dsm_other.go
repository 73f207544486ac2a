//go:build !windows

package dsm

// Open always fails outside Windows.
func Open(path string) (Library, error) {
	return nil, ErrUnsupported
}
