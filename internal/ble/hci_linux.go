package ble

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

// hciDeviceFactory opens the HCI controller (can be overridden in tests).
var hciDeviceFactory = func(id int) (ble.Device, error) {
	return linux.NewDevice(ble.OptDeviceID(id))
}

// HCIAdapter drives a controller directly over a raw HCI socket with
// go-ble/ble, bypassing BlueZ. It needs CAP_NET_ADMIN and the controller
// taken down in bluetoothd.
type HCIAdapter struct {
	id int

	mu  sync.Mutex
	dev ble.Device
}

func newHCIAdapter(adapterID string) (Adapter, error) {
	id, err := parseHCIIndex(adapterID)
	if err != nil {
		return nil, err
	}
	return &HCIAdapter{id: id}, nil
}

// parseHCIIndex turns "hci1" (or "1") into 1; empty means 0.
func parseHCIIndex(adapterID string) (int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(adapterID), "hci")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("ble: invalid HCI adapter %q", adapterID)
	}
	return n, nil
}

func (a *HCIAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}
	dev, err := hciDeviceFactory(a.id)
	if err != nil {
		return fmt.Errorf("ble: open hci%d: %w", a.id, err)
	}
	a.dev = dev
	return nil
}

func (a *HCIAdapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, errors.New("ble: adapter not enabled")
	}
	return a.dev, nil
}

func (a *HCIAdapter) Scan(ctx context.Context, handler func(Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(hciAdvertisement(adv))
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func hciAdvertisement(adv ble.Advertisement) Advertisement {
	out := Advertisement{
		LocalName: adv.LocalName(),
		RSSI:      adv.RSSI(),
	}
	if addr, err := ParseMAC(adv.Addr().String()); err == nil {
		out.Address = addr
	}
	for _, u := range adv.Services() {
		out.ServiceUUIDs = append(out.ServiceUUIDs, protocol.NormalizeUUID(u.String()))
	}
	// go-ble merges the name sections into LocalName.
	if out.LocalName != "" {
		out.Sections = []protocol.ADStructure{{Type: protocol.ADCompleteLocalName, Data: []byte(out.LocalName)}}
	}
	return out
}

func (a *HCIAdapter) Connect(ctx context.Context, address uint64) (Device, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}
	client, err := dev.Dial(ctx, ble.NewAddr(FormatMAC(address)))
	if err != nil {
		return nil, err
	}
	return &hciDevice{client: client}, nil
}

// Close releases the HCI socket.
func (a *HCIAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}
	err := a.dev.Stop()
	a.dev = nil
	return err
}

// Compile-time check that HCIAdapter implements Adapter.
var _ Adapter = (*HCIAdapter)(nil)

type hciDevice struct {
	client ble.Client
}

func (d *hciDevice) DiscoverServices(_ context.Context, uuid string) ([]Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	svcs, err := d.client.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, err
	}
	out := make([]Service, len(svcs))
	for i, s := range svcs {
		out[i] = &hciService{client: d.client, svc: s}
	}
	return out, nil
}

func (d *hciDevice) Connected() (bool, error) {
	select {
	case <-d.client.Disconnected():
		return false, nil
	default:
		return true, nil
	}
}

func (d *hciDevice) Disconnect() error {
	return d.client.CancelConnection()
}

type hciService struct {
	client ble.Client
	svc    *ble.Service
}

func (s *hciService) DiscoverCharacteristics(_ context.Context, uuid string) ([]Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	chars, err := s.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, len(chars))
	for i, c := range chars {
		out[i] = &hciCharacteristic{client: s.client, char: c}
	}
	return out, nil
}

type hciCharacteristic struct {
	client ble.Client
	char   *ble.Characteristic
}

func (c *hciCharacteristic) CanNotify() bool {
	return c.char.Property&ble.CharNotify != 0
}

func (c *hciCharacteristic) EnableNotifications(_ context.Context, handler func([]byte)) error {
	// Subscribe writes through the CCCD handle, which discovery fills in.
	if c.char.CCCD == nil {
		if _, err := c.client.DiscoverDescriptors([]ble.UUID{ble.ClientCharacteristicConfigUUID}, c.char); err != nil {
			return fmt.Errorf("ble: discover CCCD: %w", err)
		}
	}
	return c.client.Subscribe(c.char, false, handler)
}

func (c *hciCharacteristic) DisableNotifications(context.Context) error {
	return c.client.Unsubscribe(c.char, false)
}
