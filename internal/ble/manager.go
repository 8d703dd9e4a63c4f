package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hrbridge/internal/ble/protocol"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("ble: manager closed")

// Options configures the Manager.
type Options struct {
	PollInterval       time.Duration // reconnect supervisor period
	UnsubscribeTimeout time.Duration // bound on the unsubscribe write during teardown
	ConnectTimeout     time.Duration // bound on one whole connection attempt
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:       5 * time.Second,
		UnsubscribeTimeout: time.Second,
		ConnectTimeout:     30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.UnsubscribeTimeout <= 0 {
		o.UnsubscribeTimeout = def.UnsubscribeTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	return o
}

// Status is a snapshot of the manager's connection state.
type Status struct {
	Connected     bool   `json:"connected"`
	Connecting    bool   `json:"connecting"`
	Phase         string `json:"phase"`
	TargetID      string `json:"target_id,omitempty"`
	AutoReconnect bool   `json:"auto_reconnect"`
}

// Manager coordinates scanning, the single connection session and the
// reconnect supervisor. All methods are safe for concurrent use.
//
// Callbacks run on transport goroutines. The heart rate callback must not
// call Disconnect or Close synchronously.
type Manager struct {
	adapter Adapter
	opts    Options
	logger  *slog.Logger
	scanner *Scanner

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	onHeartRate   func(bpm int)
	session       *session // installed, Active session
	pending       *session // session being established
	target        uint64
	autoReconnect bool
	generation    uint64 // bumped by Disconnect; stale attempts don't install
	attemptCancel context.CancelFunc
	supCancel     context.CancelFunc
	supDone       chan struct{}
	closed        bool

	// Held shared while a heart rate callback runs so Disconnect can wait
	// out deliveries from the session it just removed.
	deliverMu sync.RWMutex

	connecting       atomic.Bool
	supervisorActive atomic.Bool

	attempts  sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a Manager on an already enabled adapter. A nil
// logger uses slog.Default().
func NewManager(adapter Adapter, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		adapter: adapter,
		opts:    opts.withDefaults(),
		logger:  logger,
		scanner: NewScanner(adapter, logger),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartScan begins scanning for heart rate devices. While scanning,
// calling it again only replaces the callback.
func (m *Manager) StartScan(onDiscovered func(DiscoveredDevice)) {
	m.scanner.Start(onDiscovered)
}

// StopScan halts scanning. Safe to call when not scanning.
func (m *Manager) StopScan() {
	m.scanner.Stop()
}

// Scanning reports whether a scan is running.
func (m *Manager) Scanning() bool {
	return m.scanner.Scanning()
}

// SetHeartRateCallback replaces the function receiving decoded BPM values.
func (m *Manager) SetHeartRateCallback(cb func(bpm int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHeartRate = cb
}

// Connect records id as the device to stay connected to and starts a
// connection attempt. If an attempt is already in flight the new one is
// dropped; the reconnect supervisor picks up the new target later.
// Connection failures are not returned; only a malformed id is.
func (m *Manager) Connect(id string) error {
	addr, err := ParseDeviceID(id)
	if err != nil {
		m.logger.Warn("[BLE] ignoring connect request", "id", id, "error", err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.target = addr
	m.autoReconnect = true
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("[BLE] connect requested", "device", id, "mac", FormatMAC(addr))
	m.startAttempt(addr, gen)
	m.ensureSupervisor()
	return nil
}

// Disconnect clears the reconnect intent and tears down the session. Once
// it returns no further heart rate callbacks fire until a new Connect
// succeeds. An attempt in flight is cancelled and its result discarded.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.autoReconnect = false
	m.generation++
	s := m.session
	m.session = nil
	cancel := m.attemptCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.waitDeliveries()

	if s != nil {
		s.teardown(m.opts.UnsubscribeTimeout)
		m.logger.Info("[BLE] disconnected", "device", FormatDeviceID(s.address))
	}
}

// IsConnected reports whether the current session's device is connected.
// A failing status query reads as false.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	return s != nil && s.connected()
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s, pending := m.session, m.pending
	st := Status{
		AutoReconnect: m.autoReconnect,
	}
	if m.target != 0 {
		st.TargetID = FormatDeviceID(m.target)
	}
	m.mu.Unlock()

	st.Connecting = m.connecting.Load()
	st.Connected = s != nil && s.connected()
	switch {
	case pending != nil:
		st.Phase = pending.Phase().String()
	case s != nil && !st.Connected:
		// Link lost; the supervisor replaces the session on its next poll.
		st.Phase = PhaseFailed.String()
	case s != nil:
		st.Phase = s.Phase().String()
	default:
		st.Phase = PhaseIdle.String()
	}
	return st
}

// Close stops scanning, disconnects, stops the reconnect supervisor and
// waits for any attempt in flight. The manager cannot be reused.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.scanner.Stop()
		m.Disconnect()
		m.stopSupervisor()
		m.cancel()
		m.attempts.Wait()
		m.logger.Info("[BLE] manager closed")
	})
}

// startAttempt claims the in-flight flag and runs one connection attempt
// in the background. It is a no-op if an attempt is already running or if
// a Disconnect happened after gen was read.
func (m *Manager) startAttempt(addr uint64, gen uint64) {
	if !m.connecting.CompareAndSwap(false, true) {
		m.logger.Debug("[BLE] connection attempt already in flight, dropping request", "device", FormatDeviceID(addr))
		return
	}

	m.mu.Lock()
	if m.closed || m.generation != gen {
		m.mu.Unlock()
		m.connecting.Store(false)
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ConnectTimeout)
	m.attemptCancel = cancel
	m.attempts.Add(1)
	m.mu.Unlock()

	go m.attempt(ctx, cancel, addr, gen)
}

func (m *Manager) attempt(ctx context.Context, cancel context.CancelFunc, addr uint64, gen uint64) {
	defer m.attempts.Done()
	defer cancel()

	m.mu.Lock()
	old := m.session
	m.mu.Unlock()

	if old != nil {
		if old.address == addr && old.connected() {
			m.logger.Debug("[BLE] already connected", "device", FormatDeviceID(addr))
			m.finishAttempt()
			return
		}
		// The old session goes before a new one is built.
		m.mu.Lock()
		if m.session == old {
			m.session = nil
		}
		m.mu.Unlock()
		m.waitDeliveries()
		old.teardown(m.opts.UnsubscribeTimeout)
	}

	s := newSession(addr, m.logger)
	m.mu.Lock()
	m.pending = s
	m.mu.Unlock()

	err := s.establish(ctx, m.adapter, func(b []byte) { m.deliver(s, b) }, m.opts.UnsubscribeTimeout)

	m.mu.Lock()
	m.pending = nil
	install := err == nil && !m.closed && m.generation == gen && m.target == addr
	if install {
		m.session = s
	}
	m.mu.Unlock()

	switch {
	case err != nil:
		m.logger.Warn("[BLE] connection attempt failed", "device", FormatDeviceID(addr), "error", err)
	case !install:
		m.logger.Info("[BLE] discarding stale connection", "device", FormatDeviceID(addr))
		s.teardown(m.opts.UnsubscribeTimeout)
	default:
		m.logger.Info("[BLE] connected, receiving heart rate", "device", FormatDeviceID(addr))
	}
	m.finishAttempt()
}

func (m *Manager) finishAttempt() {
	m.mu.Lock()
	m.attemptCancel = nil
	m.mu.Unlock()
	m.connecting.Store(false)
}

// deliver decodes one notification from s and forwards the BPM if s is
// still the installed session.
func (m *Manager) deliver(s *session, b []byte) {
	meas, err := protocol.ParseMeasurement(b)
	if err != nil {
		m.logger.Debug("[BLE] dropping notification", "error", err, "len", len(b))
		return
	}

	m.deliverMu.RLock()
	defer m.deliverMu.RUnlock()

	m.mu.Lock()
	owned := m.session == s
	cb := m.onHeartRate
	m.mu.Unlock()

	if !owned || cb == nil {
		return
	}
	cb(int(meas.BPM))
}

// waitDeliveries blocks until no heart rate callback is running.
func (m *Manager) waitDeliveries() {
	m.deliverMu.Lock()
	m.deliverMu.Unlock()
}
