// Package ble is the heart rate monitor client. It scans for wearables
// advertising the standard Heart Rate service, connects to one, subscribes
// to Heart Rate Measurement notifications and keeps the link alive with a
// background reconnect supervisor. The radio is reached through the Adapter
// interface so the state machine can be driven by mocks in tests.
package ble

import (
	"context"
	"errors"
	"slices"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

// Heart Rate profile UUIDs.
const (
	HeartRateServiceUUID     = "0000180d-0000-1000-8000-00805f9b34fb"
	HeartRateMeasurementUUID = "00002a37-0000-1000-8000-00805f9b34fb"
)

var (
	// ErrNoService is returned when the device does not expose the Heart Rate service.
	ErrNoService = errors.New("ble: heart rate service not found")
	// ErrNoCharacteristic is returned when the Heart Rate Measurement characteristic is missing.
	ErrNoCharacteristic = errors.New("ble: heart rate measurement characteristic not found")
	// ErrNotifyUnsupported is returned when the measurement characteristic cannot notify.
	ErrNotifyUnsupported = errors.New("ble: characteristic does not support notify")
	// ErrUnsupportedBackend is returned by NewAdapter for a backend this platform lacks.
	ErrUnsupportedBackend = errors.New("ble: backend not supported on this platform")
)

// Advertisement is one received advertising report, already translated
// out of the backend's types.
type Advertisement struct {
	Address      uint64
	ServiceUUIDs []string // normalised 128-bit form
	Sections     []protocol.ADStructure
	LocalName    string // the stack's own reading of the local name
	RSSI         int
}

// HasService reports whether uuid is in the advertised service list.
func (a Advertisement) HasService(uuid string) bool {
	return slices.Contains(a.ServiceUUIDs, protocol.NormalizeUUID(uuid))
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	// CanNotify reports whether the characteristic advertises the Notify property.
	CanNotify() bool
	// EnableNotifications writes the client characteristic configuration
	// descriptor and, only if that succeeds, routes notifications to handler.
	EnableNotifications(ctx context.Context, handler func(data []byte)) error
	// DisableNotifications clears the client characteristic configuration
	// descriptor and drops the handler.
	DisableNotifications(ctx context.Context) error
}

// Service is a discovered GATT primary service.
type Service interface {
	// DiscoverCharacteristics returns the characteristics matching uuid.
	DiscoverCharacteristics(ctx context.Context, uuid string) ([]Characteristic, error)
}

// Device is a connected peripheral.
type Device interface {
	// DiscoverServices returns the primary services matching uuid.
	DiscoverServices(ctx context.Context, uuid string) ([]Service, error)
	// Connected reports the link status as last seen by the stack.
	Connected() (bool, error)
	// Disconnect drops the link and releases the handle.
	Disconnect() error
}

// Adapter abstracts the BLE radio.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan delivers advertisements to handler until ctx is cancelled.
	// Cancellation is a clean stop and returns nil. handler may be called
	// from a stack-owned goroutine.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Connect resolves the device with the given 64-bit address and connects to it.
	Connect(ctx context.Context, address uint64) (Device, error)
}
