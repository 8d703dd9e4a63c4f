package ble

import "fmt"

// Transport backends accepted by NewAdapter.
const (
	BackendTinyGo = "tinygo"
	BackendHCI    = "hci"
)

// NewAdapter returns the transport for backend. adapterID names the
// controller ("hci0"); empty selects the platform default.
func NewAdapter(backend, adapterID string) (Adapter, error) {
	switch backend {
	case "", BackendTinyGo:
		return newTinyGoAdapter(adapterID)
	case BackendHCI:
		return newHCIAdapter(adapterID)
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}
