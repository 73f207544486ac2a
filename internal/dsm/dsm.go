// Package dsm binds the twain engine to the native TWAIN Data Source Manager.
package dsm

import (
	"errors"

	"github.com/mzyy94/twainscan/internal/twain"
)

// DefaultLibrary is the TWAIN 2.x DSM shipped with Windows drivers.
const DefaultLibrary = "TWAINDSM.dll"

// ErrUnsupported is returned by Open on platforms without a TWAIN DSM.
var ErrUnsupported = errors.New("dsm: TWAIN DSM requires Windows")

// Library is a loaded DSM.
type Library interface {
	twain.Gateway
	Close() error
}
