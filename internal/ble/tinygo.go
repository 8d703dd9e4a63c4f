//go:build linux || windows

package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ over D-Bus on Linux,
// WinRT on Windows). Both stacks expose the peer's MAC, which is packed
// into the 64-bit address used as the device id.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the devices map.
	mu      sync.Mutex
	devices map[uint64]*tinyGoDevice
}

func newTinyGoAdapter(adapterID string) (Adapter, error) {
	return &TinyGoAdapter{
		adapter: tinyGoRadio(adapterID),
		devices: make(map[uint64]*tinyGoDevice),
	}, nil
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// The stack reports link changes here, not on the device.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := AddressFromMAC(device.Address.MAC)
		a.mu.Lock()
		d, ok := a.devices[addr]
		a.mu.Unlock()
		if ok {
			d.setConnected(connected)
		}
	})
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, handler func(Advertisement)) error {
	err := scanRadio(ctx, a.adapter, func(result bluetooth.ScanResult) {
		handler(tinyGoAdvertisement(result))
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// radio is the scanning half of *bluetooth.Adapter.
type radio interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// stopScanRetry paces StopScan while the stack is still setting the scan up.
const stopScanRetry = 50 * time.Millisecond

// scanRadio runs r.Scan until ctx is cancelled. StopScan fails with a
// not-scanning error until the stack has registered the scan, so it is
// retried until it succeeds or Scan returns. Results that arrive after
// cancellation stop the scan from the callback instead of being delivered.
func scanRadio(ctx context.Context, r radio, onResult func(bluetooth.ScanResult)) error {
	var (
		mu      sync.Mutex
		stopped bool
	)
	stop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if !stopped && r.StopScan() == nil {
			stopped = true
		}
		return stopped
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		ticker := time.NewTicker(stopScanRetry)
		defer ticker.Stop()
		for !stop() {
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()

	return r.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			stop()
			return
		}
		onResult(result)
	})
}

func tinyGoAdvertisement(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address:   AddressFromMAC(result.Address.MAC),
		LocalName: result.LocalName(),
		RSSI:      int(result.RSSI),
	}

	// BlueZ hands over parsed fields only; WinRT keeps the raw payload.
	if raw := result.AdvertisementPayload.Bytes(); raw != nil {
		adv.Sections = protocol.ParseAdvertisingData(raw)
		adv.ServiceUUIDs = protocol.ServiceUUIDs(adv.Sections)
	} else if adv.LocalName != "" {
		adv.Sections = []protocol.ADStructure{{Type: protocol.ADCompleteLocalName, Data: []byte(adv.LocalName)}}
	}
	if !adv.HasService(HeartRateServiceUUID) && result.HasServiceUUID(bluetooth.ServiceUUIDHeartRate) {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, HeartRateServiceUUID)
	}
	return adv
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address uint64) (Device, error) {
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: MACFromAddress(address)}}

	// tinygo/bluetooth's Connect blocks with its own timeout. Wrap it so
	// ctx cancellation returns early.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// Release a connection that completes after we gave up on it.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		d := &tinyGoDevice{adapter: a, address: address, device: r.device, connected: true}
		a.mu.Lock()
		a.devices[address] = d
		a.mu.Unlock()
		return d, nil
	}
}

func (a *TinyGoAdapter) forget(d *tinyGoDevice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.devices[d.address] == d {
		delete(a.devices, d.address)
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoDevice struct {
	adapter *TinyGoAdapter
	address uint64
	device  bluetooth.Device

	mu        sync.Mutex
	connected bool
}

func (d *tinyGoDevice) setConnected(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = v
}

func (d *tinyGoDevice) DiscoverServices(ctx context.Context, uuid string) ([]Service, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svcs, err := d.device.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		return nil, err
	}
	out := make([]Service, len(svcs))
	for i := range svcs {
		out[i] = &tinyGoService{svc: svcs[i]}
	}
	return out, nil
}

func (d *tinyGoDevice) Connected() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected, nil
}

func (d *tinyGoDevice) Disconnect() error {
	d.setConnected(false)
	d.adapter.forget(d)
	return d.device.Disconnect()
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) DiscoverCharacteristics(ctx context.Context, uuid string) ([]Characteristic, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, len(chars))
	for i := range chars {
		out[i] = newTinyGoCharacteristic(chars[i])
	}
	return out, nil
}
