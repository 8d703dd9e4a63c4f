//go:build !linux

package ble

import "fmt"

func newHCIAdapter(string) (Adapter, error) {
	return nil, fmt.Errorf("%w: hci needs a Linux HCI socket", ErrUnsupportedBackend)
}
