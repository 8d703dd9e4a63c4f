// Package mqttsink publishes live heart rate samples and connection
// status to an MQTT broker. Samples published while the broker is
// unreachable are dropped.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/hrbridge/internal/ble"
	"github.com/chaz8081/hrbridge/internal/config"
)

// ErrStopped is returned by Connect after Close.
var ErrStopped = errors.New("mqttsink: stopped")

// publisher is the subset of mqtt.Client the sink publishes through.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// HeartRateMessage is the payload on <topic>/heart_rate.
type HeartRateMessage struct {
	BPM       int       `json:"bpm"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the retained payload on <topic>/status.
type StatusMessage struct {
	Online    bool   `json:"online"` // bridge process is up
	Connected bool   `json:"connected"`
	DeviceID  string `json:"device_id,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// Sink publishes to one broker under one topic prefix.
type Sink struct {
	client publisher
	raw    mqtt.Client // nil in tests
	topic  string
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastStatus *StatusMessage

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Sink for cfg. It does not connect; see Connect.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		topic:  cfg.Topic,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker marks the bridge offline if we vanish.
	will, _ := json.Marshal(StatusMessage{Online: false})
	opts.SetBinaryWill(s.statusTopic(), will, 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("[MQTT] connected", "broker", cfg.Broker, "port", cfg.Port)
		go s.republishStatus()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("[MQTT] connection lost", "error", err)
	})

	s.raw = mqtt.NewClient(opts)
	s.client = s.raw
	return s
}

func newWithPublisher(p publisher, topic string, logger *slog.Logger) *Sink {
	return &Sink{
		client: p,
		topic:  topic,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

func (s *Sink) heartRateTopic() string { return s.topic + "/heart_rate" }
func (s *Sink) statusTopic() string    { return s.topic + "/status" }

// Connect starts connecting to the broker. With connect-retry enabled
// paho keeps trying in the background, so Connect only waits until ctx
// is done or the first attempt resolves.
func (s *Sink) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	if s.raw == nil || s.raw.IsConnected() {
		return nil
	}

	token := s.raw.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			// paho keeps retrying; samples are dropped until it succeeds.
			return nil
		case <-s.stopCh:
			return ErrStopped
		default:
		}
	}
}

// PublishHeartRate sends one sample (QoS 0, not retained).
func (s *Sink) PublishHeartRate(bpm int) {
	if !s.client.IsConnected() {
		s.logger.Debug("[MQTT] not connected, dropping sample", "bpm", bpm)
		return
	}
	payload, err := json.Marshal(HeartRateMessage{BPM: bpm, Timestamp: s.now().UTC()})
	if err != nil {
		s.logger.Error("[MQTT] marshal heart rate", "error", err)
		return
	}
	s.client.Publish(s.heartRateTopic(), 0, false, payload)
}

// PublishStatus sends the connection status (QoS 1, retained).
func (s *Sink) PublishStatus(st ble.Status) {
	msg := StatusMessage{
		Online:    true,
		Connected: st.Connected,
		DeviceID:  st.TargetID,
		Phase:     st.Phase,
	}
	s.mu.Lock()
	s.lastStatus = &msg
	s.mu.Unlock()
	s.publishStatus(msg)
}

// republishStatus restores the retained status after a (re)connect.
func (s *Sink) republishStatus() {
	s.mu.Lock()
	last := s.lastStatus
	s.mu.Unlock()
	if last != nil {
		s.publishStatus(*last)
	}
}

func (s *Sink) publishStatus(msg StatusMessage) {
	if !s.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("[MQTT] marshal status", "error", err)
		return
	}
	token := s.client.Publish(s.statusTopic(), 1, true, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			s.logger.Warn("[MQTT] status publish failed", "error", token.Error())
		}
	}()
}

// Close marks the bridge offline and disconnects. Idempotent.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.client.IsConnected() {
			payload, _ := json.Marshal(StatusMessage{Online: false})
			s.client.Publish(s.statusTopic(), 1, true, payload).WaitTimeout(2 * time.Second)
		}
		s.client.Disconnect(250)
		s.logger.Info("[MQTT] disconnected")
	})
}
