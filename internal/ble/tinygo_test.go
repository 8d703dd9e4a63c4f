//go:build linux || windows

package ble

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"
)

// stackCharacteristic behaves like the WinRT characteristic: every
// EnableNotifications call adds a handler, nil included, and notifications
// call every handler.
type stackCharacteristic struct {
	mu        sync.Mutex
	callbacks []func([]byte)
	nilCalls  int
	writeErr  error
}

func (s *stackCharacteristic) EnableNotifications(cb func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
	if cb == nil {
		s.nilCalls++
	}
	return s.writeErr
}

func (s *stackCharacteristic) notify(b []byte) {
	s.mu.Lock()
	cbs := slices.Clone(s.callbacks)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(b)
	}
}

type byteRecorder struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *byteRecorder) add(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, b)
}

func (r *byteRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestTinyGoCharacteristicDropsNotificationsAfterDisable(t *testing.T) {
	stack := &stackCharacteristic{}
	c := &tinyGoCharacteristic{notify: stack, nilStops: false}
	var rec byteRecorder

	if err := c.EnableNotifications(context.Background(), rec.add); err != nil {
		t.Fatalf("EnableNotifications() error = %v", err)
	}
	stack.notify([]byte{0x00, 75})
	if rec.count() != 1 {
		t.Fatalf("delivered %d notifications, want 1", rec.count())
	}

	if err := c.DisableNotifications(context.Background()); err != nil {
		t.Fatalf("DisableNotifications() error = %v", err)
	}
	stack.notify([]byte{0x00, 76})

	if rec.count() != 1 {
		t.Errorf("delivered %d notifications after disable, want 1", rec.count())
	}
	if stack.nilCalls != 0 {
		t.Errorf("stack got %d nil callbacks, want 0", stack.nilCalls)
	}
	if len(stack.callbacks) != 1 {
		t.Errorf("stack has %d callbacks, want 1", len(stack.callbacks))
	}
}

func TestTinyGoCharacteristicDisableWithNilStop(t *testing.T) {
	stack := &stackCharacteristic{}
	c := &tinyGoCharacteristic{notify: stack, nilStops: true}
	var rec byteRecorder

	if err := c.EnableNotifications(context.Background(), rec.add); err != nil {
		t.Fatal(err)
	}
	if err := c.DisableNotifications(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stack.nilCalls != 1 {
		t.Errorf("stack got %d nil callbacks, want 1", stack.nilCalls)
	}
	c.relay([]byte{0x00, 80})
	if rec.count() != 0 {
		t.Errorf("delivered %d notifications after disable, want 0", rec.count())
	}
}

func TestTinyGoCharacteristicFailedEnableDropsNotifications(t *testing.T) {
	stack := &stackCharacteristic{writeErr: errors.New("cccd write failed")}
	c := &tinyGoCharacteristic{notify: stack}
	var rec byteRecorder

	if err := c.EnableNotifications(context.Background(), rec.add); err == nil {
		t.Fatal("EnableNotifications() error = nil, want error")
	}
	stack.notify([]byte{0x00, 75})
	if rec.count() != 0 {
		t.Errorf("delivered %d notifications after failed enable, want 0", rec.count())
	}
}

var errNotScanning = errors.New("not scanning")

// fakeRadio needs setup time before a scan can be stopped, like BlueZ
// registering its D-Bus matches.
type fakeRadio struct {
	setup   time.Duration
	results int

	mu       sync.Mutex
	cancelCh chan struct{}
}

func (r *fakeRadio) Scan(cb func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	time.Sleep(r.setup)
	ch := make(chan struct{})
	r.mu.Lock()
	r.cancelCh = ch
	r.mu.Unlock()

	for i := 0; i < r.results; i++ {
		cb(nil, bluetooth.ScanResult{})
	}
	<-ch
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelCh == nil {
		return errNotScanning
	}
	close(r.cancelCh)
	r.cancelCh = nil
	return nil
}

func runScanRadio(t *testing.T, ctx context.Context, r radio, onResult func(bluetooth.ScanResult)) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- scanRadio(ctx, r, onResult) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("scanRadio() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scanRadio() did not return after cancel")
	}
}

func TestScanRadioCancelledDuringSetup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRadio{setup: 100 * time.Millisecond}
	runScanRadio(t, ctx, r, func(bluetooth.ScanResult) {
		t.Error("result delivered after cancel")
	})
}

func TestScanRadioStopsFromCallbackAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRadio{results: 3}
	runScanRadio(t, ctx, r, func(bluetooth.ScanResult) {
		t.Error("result delivered after cancel")
	})
}

func TestScanRadioDeliversUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	n := 0
	r := &fakeRadio{results: 2}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	runScanRadio(t, ctx, r, func(bluetooth.ScanResult) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if n != 2 {
		t.Errorf("delivered %d results, want 2", n)
	}
}
