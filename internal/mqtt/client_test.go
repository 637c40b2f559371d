package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingHandler struct {
	mu    sync.Mutex
	calls [][]byte
	srcs  []domain.ControlSource
	done  chan struct{}
}

func (h *recordingHandler) HandleControl(_ context.Context, src domain.ControlSource, payload []byte) error {
	h.mu.Lock()
	h.calls = append(h.calls, payload)
	h.srcs = append(h.srcs, src)
	h.mu.Unlock()
	h.done <- struct{}{}
	return nil
}

func newTestClient(h ControlHandler, queueLen int) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Deps{Handler: h, Logger: logger}, Config{
		Broker:   "tcp://127.0.0.1:1",
		ClientID: "test",
		DeviceID: "device-001",
		Workers:  1,
		QueueLen: queueLen,
	})
}

func TestWorkerDispatchesControl(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}, 4)}
	c := newTestClient(h, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.start(ctx)

	c.onMessage(nil, fakeMessage{topic: "device/device-002/power/control", payload: []byte(`{"ping":true}`)})
	c.onMessage(nil, fakeMessage{topic: "device/device-001/power/control", payload: []byte(`{"set_mode":"critical"}`)})

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.calls, 1)
	assert.JSONEq(t, `{"set_mode":"critical"}`, string(h.calls[0]))
	assert.Equal(t, domain.SourceMQTT, h.srcs[0])
}

func TestOnMessageDropsWhenQueueFull(t *testing.T) {
	c := newTestClient(&recordingHandler{done: make(chan struct{}, 4)}, 1)

	c.onMessage(nil, fakeMessage{topic: "device/device-001/power/control", payload: []byte(`{}`)})
	c.onMessage(nil, fakeMessage{topic: "device/device-001/power/control", payload: []byte(`{}`)})

	assert.Equal(t, uint64(2), c.received)
	assert.Equal(t, uint64(1), c.dropped)
	assert.Len(t, c.queue, 1)
}

func TestPublishNotConnected(t *testing.T) {
	c := newTestClient(nil, 1)
	err := c.Publish(context.Background(), "device/device-001/power/telemetry", 0, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("x", 0, func(string, []byte) {}), ErrNotConnected)
}

func TestConnectGivesUp(t *testing.T) {
	c := newTestClient(nil, 1)
	c.cfg.MaxElapsed = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt connect tcp://127.0.0.1:1")
	c.Close()
}

func TestCloseWithoutConnection(t *testing.T) {
	c := newTestClient(&recordingHandler{done: make(chan struct{}, 1)}, 1)
	c.cfg.MaxElapsed = 100 * time.Millisecond
	require.Error(t, c.Connect(context.Background()))
	require.NotNil(t, c.c)
	assert.False(t, c.c.IsConnected())

	closed := make(chan struct{})
	go func() {
		c.Close()
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close hung on a client that never connected")
	}
	assert.False(t, c.c.IsConnectionOpen())
}
