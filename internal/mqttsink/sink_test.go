package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/hrbridge/internal/ble"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

var _ mqtt.Token = doneToken{}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu          sync.Mutex
	connected   bool
	msgs        []published
	disconnects int
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestPublishHeartRate(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newWithPublisher(pub, "gym", slog.Default())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.PublishHeartRate(75)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "gym/heart_rate", msgs[0].topic)
	assert.Equal(t, byte(0), msgs[0].qos)
	assert.False(t, msgs[0].retained)

	var got HeartRateMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, 75, got.BPM)
	assert.True(t, got.Timestamp.Equal(fixed))
}

func TestPublishDropsWhileDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	s := newWithPublisher(pub, "gym", slog.Default())

	s.PublishHeartRate(75)
	s.PublishStatus(ble.Status{Connected: true})

	assert.Empty(t, pub.messages())
}

func TestPublishStatusIsRetained(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newWithPublisher(pub, "gym", slog.Default())

	s.PublishStatus(ble.Status{Connected: true, TargetID: "123456789", Phase: "active"})

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "gym/status", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.True(t, msgs[0].retained)

	var got StatusMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, StatusMessage{Online: true, Connected: true, DeviceID: "123456789", Phase: "active"}, got)
}

func TestCloseMarksOffline(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newWithPublisher(pub, "gym", slog.Default())

	s.Close()
	s.Close()

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	var got StatusMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.False(t, got.Online)
	assert.Equal(t, 1, pub.disconnects)

	err := s.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestRepublishStatusAfterReconnect(t *testing.T) {
	pub := &fakePublisher{}
	s := newWithPublisher(pub, "gym", slog.Default())

	s.republishStatus()
	s.PublishStatus(ble.Status{Connected: true, TargetID: "42", Phase: "active"})
	assert.Empty(t, pub.messages(), "nothing published while the broker is down")

	pub.mu.Lock()
	pub.connected = true
	pub.mu.Unlock()
	s.republishStatus()

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	var got StatusMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "42", got.DeviceID)
	assert.True(t, got.Online)
}
