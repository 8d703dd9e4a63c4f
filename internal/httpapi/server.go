// Package httpapi serves the local control surface: a small JSON API to
// scan, connect and read the current heart rate, plus a websocket that
// streams live values to overlay pages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/hrbridge/internal/ble"
)

// Controller is the part of the BLE manager the API drives.
type Controller interface {
	StartScan(onDiscovered func(ble.DiscoveredDevice))
	StopScan()
	Scanning() bool
	Connect(id string) error
	Disconnect()
	IsConnected() bool
	Status() ble.Status
}

// PrefsStore persists the theme and the last connected device.
type PrefsStore interface {
	Theme() string
	SetTheme(theme string) error
	LastDeviceID() string
	SetLastDeviceID(id string) error
}

// Options configures a Server.
type Options struct {
	ScanDuration time.Duration // scans started over HTTP stop on their own after this
}

// noHeartRate is reported when there is no current reading.
const noHeartRate = -1

// HREvent is the websocket message for one heart rate sample.
type HREvent struct {
	Type string `json:"type"` // "hr"
	BPM  int    `json:"bpm"`
}

// StatusEvent is the websocket message for a connection state change.
type StatusEvent struct {
	Type string `json:"type"` // "status"
	statusResponse
}

type statusResponse struct {
	ble.Status
	Scanning bool `json:"scanning"`
}

// Server is the HTTP control surface.
type Server struct {
	ctrl    Controller
	prefs   PrefsStore
	devices *ble.DeviceSet
	hub     *Hub
	logger  *slog.Logger
	opts    Options

	latest atomic.Int64

	scanMu    sync.Mutex
	scanTimer *time.Timer
	scanGen   uint64

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a Server. A nil logger uses slog.Default().
func New(ctrl Controller, prefs PrefsStore, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = 10 * time.Second
	}
	s := &Server{
		ctrl:    ctrl,
		prefs:   prefs,
		devices: ble.NewDeviceSet(),
		hub:     NewHub(logger),
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.latest.Store(noHeartRate)
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed, logged and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/hr", s.handleHeartRate)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("POST /api/scan/stop", s.handleScanStop)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/theme", s.handleGetTheme)
	mux.HandleFunc("POST /api/theme", s.handleSetTheme)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return requestLogger(s.logger, cors(mux))
}

// PublishHeartRate records bpm as the current reading and streams it.
func (s *Server) PublishHeartRate(bpm int) {
	s.latest.Store(int64(bpm))
	s.hub.Broadcast(HREvent{Type: "hr", BPM: bpm})
}

// PublishStatus streams a connection state change.
func (s *Server) PublishStatus(st ble.Status) {
	if !st.Connected {
		s.latest.Store(noHeartRate)
	}
	s.hub.Broadcast(s.statusEvent(st))
}

// HeartRate returns the current reading, or -1 when not connected.
func (s *Server) HeartRate() int {
	if !s.ctrl.IsConnected() {
		return noHeartRate
	}
	return int(s.latest.Load())
}

func (s *Server) statusEvent(st ble.Status) StatusEvent {
	return StatusEvent{
		Type:           "status",
		statusResponse: statusResponse{Status: st, Scanning: s.ctrl.Scanning()},
	}
}

func (s *Server) handleHeartRate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"hr": s.HeartRate()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: s.ctrl.Status(), Scanning: s.ctrl.Scanning()})
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.ctrl.Scanning() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "scanning"})
		return
	}

	s.devices.Reset()
	s.ctrl.StartScan(func(d ble.DiscoveredDevice) {
		if s.devices.Add(d) {
			s.logger.Info("[HTTP] device discovered", "id", d.ID, "name", d.Name)
		}
	})
	if s.scanTimer != nil {
		s.scanTimer.Stop()
	}
	s.scanGen++
	gen := s.scanGen
	s.scanTimer = time.AfterFunc(s.opts.ScanDuration, func() { s.finishScan(gen) })

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleScanStop(w http.ResponseWriter, _ *http.Request) {
	s.stopScan()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) stopScan() {
	s.scanMu.Lock()
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
	s.scanGen++
	s.scanMu.Unlock()
	s.ctrl.StopScan()
}

// finishScan ends the timed scan gen unless it was already replaced or stopped.
func (s *Server) finishScan(gen uint64) {
	s.scanMu.Lock()
	if s.scanGen != gen {
		s.scanMu.Unlock()
		return
	}
	s.scanTimer = nil
	s.scanMu.Unlock()

	s.ctrl.StopScan()
	s.logger.Info("[HTTP] scan finished", "devices", s.devices.Len())
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.List())
}

type connectRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing device id")
		return
	}

	s.stopScan()
	if err := s.ctrl.Connect(req.ID); err != nil {
		if errors.Is(err, ble.ErrInvalidDeviceID) {
			writeError(w, http.StatusBadRequest, "invalid device id")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.latest.Store(noHeartRate)

	if err := s.prefs.SetLastDeviceID(req.ID); err != nil {
		s.logger.Warn("[HTTP] failed to save last device", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "connecting"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Disconnect()
	s.latest.Store(noHeartRate)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Disconnect()
	s.latest.Store(noHeartRate)
	if err := s.prefs.SetLastDeviceID(""); err != nil {
		s.logger.Warn("[HTTP] failed to clear last device", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear saved device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *Server) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, themeRequest{Theme: s.prefs.Theme()})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Theme) == "" {
		writeError(w, http.StatusBadRequest, "missing theme")
		return
	}
	if err := s.prefs.SetTheme(req.Theme); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "theme": s.prefs.Theme()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("[HTTP] websocket upgrade failed", "error", err)
		return
	}

	s.hub.Add(conn,
		s.statusEvent(s.ctrl.Status()),
		HREvent{Type: "hr", BPM: s.HeartRate()},
	)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Remove(conn)
			return
		}
	}
}

// Listen binds the first free TCP port in [port, port+search).
func Listen(host string, port, search int) (net.Listener, error) {
	if search < 1 {
		search = 1
	}
	var lastErr error
	for p := port; p < port+search && p <= 65535; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("httpapi: no free port in %d-%d: %w", port, port+search-1, lastErr)
}

// Serve serves the API on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("[HTTP] listening", "addr", ln.Addr().String())
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Shutdown stops scanning, closes websocket clients and drains in-flight
// requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopScan()
	s.hub.Close()
	return s.httpSrv.Shutdown(ctx)
}
