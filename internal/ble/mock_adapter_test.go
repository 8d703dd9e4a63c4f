package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

var errMock = errors.New("mock: injected failure")

// mockCharacteristic records subscription calls and lets tests push notifications.
type mockCharacteristic struct {
	mu          sync.Mutex
	notify      bool
	enableErr   error
	disableErr  error
	disableHang bool // DisableNotifications blocks until its ctx ends
	handler     func([]byte)
	lastHandler func([]byte) // survives DisableNotifications
	enables     int
	disables    int
}

func (c *mockCharacteristic) CanNotify() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}

func (c *mockCharacteristic) EnableNotifications(_ context.Context, h func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enables++
	if c.enableErr != nil {
		return c.enableErr
	}
	c.handler = h
	c.lastHandler = h
	return nil
}

func (c *mockCharacteristic) DisableNotifications(ctx context.Context) error {
	c.mu.Lock()
	c.disables++
	c.handler = nil
	hang, err := c.disableHang, c.disableErr
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// SimulateNotification sends a notification to the subscriber, if any.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// SimulateLateNotification delivers through the last registered handler
// even after unsubscribe, like a notification already queued in the stack.
func (c *mockCharacteristic) SimulateLateNotification(data []byte) {
	c.mu.Lock()
	h := c.lastHandler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *mockCharacteristic) counts() (enables, disables int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enables, c.disables
}

type mockService struct {
	chars []Characteristic
	err   error
}

func (s *mockService) DiscoverCharacteristics(_ context.Context, _ string) ([]Characteristic, error) {
	return s.chars, s.err
}

// mockDevice simulates a connected heart rate peripheral.
type mockDevice struct {
	address     uint64
	char        *mockCharacteristic
	services    []Service
	servicesErr error

	mu          sync.Mutex
	connected   bool
	statusErr   error
	disconnects int
}

func newMockDevice(address uint64) *mockDevice {
	char := &mockCharacteristic{notify: true}
	return &mockDevice{
		address:   address,
		char:      char,
		services:  []Service{&mockService{chars: []Characteristic{char}}},
		connected: true,
	}
}

func (d *mockDevice) DiscoverServices(_ context.Context, _ string) ([]Service, error) {
	return d.services, d.servicesErr
}

func (d *mockDevice) Connected() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected, d.statusErr
}

func (d *mockDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.disconnects++
	return nil
}

// SimulateDisconnect drops the link without the client asking.
func (d *mockDevice) SimulateDisconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// SimulateStatusError makes the connection status query fail.
func (d *mockDevice) SimulateStatusError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusErr = err
}

func (d *mockDevice) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// mockAdapter simulates the BLE radio.
type mockAdapter struct {
	mu          sync.Mutex
	ads         []Advertisement
	failConnect int           // number of Connect calls to fail before succeeding
	gate        chan struct{} // when non-nil, Connect waits for it to close
	setup       func(*mockDevice)
	scanSetup   time.Duration // Scan ignores ctx for this long before delivering ads
	scans       int
	connects    int
	device      *mockDevice // most recent device for test assertions
}

func newMockAdapter(ads ...Advertisement) *mockAdapter {
	return &mockAdapter{ads: ads}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, h func(Advertisement)) error {
	a.mu.Lock()
	a.scans++
	ads := a.ads
	setup := a.scanSetup
	a.mu.Unlock()

	time.Sleep(setup)
	for _, ad := range ads {
		h(ad)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Connect(ctx context.Context, addr uint64) (Device, error) {
	a.mu.Lock()
	a.connects++
	gate := a.gate
	fail := a.failConnect > 0
	if fail {
		a.failConnect--
	}
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errMock
	}

	dev := newMockDevice(addr)
	a.mu.Lock()
	if a.setup != nil {
		a.setup(dev)
	}
	a.device = dev
	a.mu.Unlock()
	return dev, nil
}

// latestDevice returns the most recently connected device (thread-safe).
func (a *mockAdapter) latestDevice() *mockDevice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// hrAdvertisement builds an advertisement carrying the Heart Rate service.
func hrAdvertisement(addr uint64, sections ...protocol.ADStructure) Advertisement {
	return Advertisement{
		Address:      addr,
		ServiceUUIDs: []string{HeartRateServiceUUID},
		Sections:     sections,
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockDeviceImplementsInterface(t *testing.T) {
	var _ Device = (*mockDevice)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}

func completeName(s string) protocol.ADStructure {
	return protocol.ADStructure{Type: protocol.ADCompleteLocalName, Data: []byte(s)}
}

func shortName(s string) protocol.ADStructure {
	return protocol.ADStructure{Type: protocol.ADShortenedLocalName, Data: []byte(s)}
}
