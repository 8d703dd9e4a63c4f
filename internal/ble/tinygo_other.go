//go:build !linux && !windows

package ble

import "fmt"

// CoreBluetooth identifies peers by per-host UUIDs, not MAC addresses, so
// there is no stable 64-bit device id to build on.
func newTinyGoAdapter(string) (Adapter, error) {
	return nil, fmt.Errorf("%w: tinygo", ErrUnsupportedBackend)
}
