package ble

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

// DiscoveredDevice is a heart rate wearable seen during a scan.
type DiscoveredDevice struct {
	ID      string `json:"id"` // decimal address, see FormatDeviceID
	Name    string `json:"name"`
	Address uint64 `json:"-"`
}

// Scanner listens for advertisements and reports the ones carrying the
// Heart Rate service. It does not de-duplicate; see DeviceSet.
type Scanner struct {
	adapter Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	onFound func(DiscoveredDevice)
	cancel  context.CancelFunc // non-nil while scanning
	done    chan struct{}      // closed when the most recent scan goroutine exits
}

// NewScanner creates a Scanner on the given adapter. A nil logger uses slog.Default().
func NewScanner(adapter Adapter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{adapter: adapter, logger: logger}
}

// Start begins scanning. Calling Start while already scanning only
// replaces the callback.
func (s *Scanner) Start(onFound func(DiscoveredDevice)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onFound = onFound
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := s.done
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, prev, done)
}

// Stop halts scanning and waits for the backend to let go of the radio.
// Safe to call when not scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("[BLE] scan stopped")
}

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scanner) run(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	// A scan that was just stopped may still be unwinding in the backend.
	if prev != nil {
		<-prev
	}

	s.logger.Info("[BLE] scan started")
	err := s.adapter.Scan(ctx, func(adv Advertisement) {
		// Backends may still deliver while they wind down.
		if ctx.Err() == nil {
			s.handleAdvertisement(adv)
		}
	})
	if err != nil {
		s.logger.Error("[BLE] scan failed", "error", err)
	}

	// The backend may have given up on its own; don't report a scan that
	// is no longer running.
	s.mu.Lock()
	if s.done == done && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Scanner) handleAdvertisement(adv Advertisement) {
	if !adv.HasService(HeartRateServiceUUID) {
		return
	}

	dev := DiscoveredDevice{
		ID:      FormatDeviceID(adv.Address),
		Address: adv.Address,
	}
	if name, ok := protocol.ResolveLocalName(adv.Sections); ok {
		dev.Name = name
	} else {
		dev.Name = adv.LocalName
	}
	if dev.Name == "" {
		dev.Name = "Unknown Device (" + dev.ID + ")"
	}

	s.mu.Lock()
	onFound := s.onFound
	s.mu.Unlock()

	if onFound != nil {
		onFound(dev)
	}
}
