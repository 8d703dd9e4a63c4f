package ble

import (
	"context"
	"time"
)

// ensureSupervisor starts the reconnect loop if it is not already running.
func (m *Manager) ensureSupervisor() {
	if !m.supervisorActive.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.supervisorActive.Store(false)
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.supCancel = cancel
	m.supDone = done
	m.mu.Unlock()

	m.logger.Debug("[BLE] reconnect supervisor started", "interval", m.opts.PollInterval)
	go m.supervise(ctx, done)
}

// stopSupervisor cancels the reconnect loop and waits for it to exit.
func (m *Manager) stopSupervisor() {
	m.mu.Lock()
	cancel, done := m.supCancel, m.supDone
	m.supCancel, m.supDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Debug("[BLE] reconnect supervisor stopped")
}

func (m *Manager) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.supervisorActive.Store(false)

	t := time.NewTimer(m.opts.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.checkConnection()
		t.Reset(m.opts.PollInterval)
	}
}

// checkConnection starts an attempt if the user wants a connection, none
// is in flight and the session is not connected to the target.
func (m *Manager) checkConnection() {
	m.mu.Lock()
	want, target, gen, s := m.autoReconnect, m.target, m.generation, m.session
	m.mu.Unlock()

	if !want || target == 0 || m.connecting.Load() {
		return
	}
	if s != nil && s.address == target && s.connected() {
		return
	}

	m.logger.Info("[BLE] not connected, reconnecting", "device", FormatDeviceID(target))
	m.startAttempt(target, gen)
}
