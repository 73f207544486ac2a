//go:build !windows

package winhost

import "context"

// Start reports ErrUnsupported: the TWAIN DSM and its message pump exist only
// on Windows.
func Start(ctx context.Context) (*Host, error) {
	return nil, ErrUnsupported
}
