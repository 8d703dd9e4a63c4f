package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the state of a connection session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseDiscoveringService
	PhaseDiscoveringCharacteristic
	PhaseSubscribing
	PhaseActive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseDiscoveringService:
		return "discovering_service"
	case PhaseDiscoveringCharacteristic:
		return "discovering_characteristic"
	case PhaseSubscribing:
		return "subscribing"
	case PhaseActive:
		return "active"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// session is one connection to one device. It owns the device handle and
// the measurement subscription. A session is built by establish and never
// reused once torn down.
type session struct {
	address uint64
	logger  *slog.Logger
	phase   atomic.Int32

	// Written only by establish, before the session is shared.
	device     Device
	char       Characteristic
	subscribed bool

	teardownOnce sync.Once
}

func newSession(address uint64, logger *slog.Logger) *session {
	return &session{address: address, logger: logger}
}

func (s *session) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *session) setPhase(p Phase) {
	s.phase.Store(int32(p))
	s.logger.Debug("[BLE] session phase", "device", FormatDeviceID(s.address), "phase", p)
}

// establish walks the session from Connecting to Active, one step at a
// time. On any failure the session is marked Failed and torn down before
// the error is returned. A panic in the transport is treated as a failure.
func (s *session) establish(ctx context.Context, adapter Adapter, onValue func([]byte), unsubscribeTimeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ble: panic during connect: %v", r)
		}
		if err != nil {
			s.setPhase(PhaseFailed)
			s.teardown(unsubscribeTimeout)
		}
	}()

	s.setPhase(PhaseConnecting)
	dev, err := adapter.Connect(ctx, s.address)
	if err != nil {
		return fmt.Errorf("ble: connect %s: %w", FormatMAC(s.address), err)
	}
	s.device = dev

	s.setPhase(PhaseDiscoveringService)
	services, err := dev.DiscoverServices(ctx, HeartRateServiceUUID)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}
	if len(services) == 0 {
		return ErrNoService
	}

	s.setPhase(PhaseDiscoveringCharacteristic)
	chars, err := services[0].DiscoverCharacteristics(ctx, HeartRateMeasurementUUID)
	if err != nil {
		return fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return ErrNoCharacteristic
	}

	s.setPhase(PhaseSubscribing)
	char := chars[0]
	if !char.CanNotify() {
		return ErrNotifyUnsupported
	}
	if err := char.EnableNotifications(ctx, onValue); err != nil {
		return fmt.Errorf("ble: enable notifications: %w", err)
	}
	s.char = char
	s.subscribed = true

	s.setPhase(PhaseActive)
	return nil
}

// connected reports the live link status. Transport errors count as not connected.
func (s *session) connected() bool {
	if s.Phase() != PhaseActive || s.device == nil {
		return false
	}
	ok, err := s.device.Connected()
	if err != nil {
		s.logger.Debug("[BLE] connection status query failed", "error", err)
		return false
	}
	return ok
}

// teardown unsubscribes, waiting at most timeout for the descriptor write,
// then releases the device. Only the first call does anything.
func (s *session) teardown(timeout time.Duration) {
	s.teardownOnce.Do(func() {
		if s.subscribed && s.char != nil {
			s.unsubscribe(timeout)
		}
		if s.device != nil {
			if err := s.device.Disconnect(); err != nil {
				s.logger.Debug("[BLE] disconnect failed", "device", FormatDeviceID(s.address), "error", err)
			}
		}
		if s.Phase() != PhaseFailed {
			s.setPhase(PhaseIdle)
		}
	})
}

func (s *session) unsubscribe(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.char.DisableNotifications(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("[BLE] unsubscribe failed", "device", FormatDeviceID(s.address), "error", err)
		}
	case <-ctx.Done():
		s.logger.Warn("[BLE] unsubscribe timed out, abandoning", "device", FormatDeviceID(s.address), "timeout", timeout)
	}
}
