package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"power-agent/internal/domain"
	"power-agent/internal/telemetry"
)

var (
	ErrNotConnected = errors.New("mqtt not connected")
	ErrTimeout      = errors.New("mqtt operation timed out")
)

type ControlHandler interface {
	HandleControl(ctx context.Context, src domain.ControlSource, payload []byte) error
}

// ControlHandlerFunc adapts a function to ControlHandler.
type ControlHandlerFunc func(ctx context.Context, src domain.ControlSource, payload []byte) error

func (f ControlHandlerFunc) HandleControl(ctx context.Context, src domain.ControlSource, payload []byte) error {
	return f(ctx, src, payload)
}

type Deps struct {
	// Handler receives control messages; nil disables the control subscription.
	Handler ControlHandler
	Logger  *slog.Logger
}

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	DeviceID string
	QoS      byte
	Workers  int
	QueueLen int
	// MaxElapsed bounds the initial connect retries; 0 retries until ctx is done.
	MaxElapsed time.Duration
}

type inbound struct {
	topic   string
	payload []byte
}

type Client struct {
	deps   Deps
	cfg    Config
	c      paho.Client
	queue  chan inbound
	wg     sync.WaitGroup
	cancel context.CancelFunc

	published  uint64
	pubErrs    uint64
	received   uint64
	dropped    uint64
	badControl uint64
}

func NewClient(d Deps, cfg Config) *Client {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 16
	}
	return &Client{
		deps:  d,
		cfg:   cfg,
		queue: make(chan inbound, cfg.QueueLen),
	}
}

// Connect dials the broker, retrying with exponential backoff, and starts the
// control workers and the stats ticker. They stop when ctx is done or on Close.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(c.connected).
		SetConnectionLostHandler(c.disconnected)

	c.c = paho.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsed
	notify := func(err error, next time.Duration) {
		c.deps.Logger.Warn("mqtt connect failed, retrying", "broker", c.cfg.Broker, "err", err, "next", next)
	}
	connect := func() error {
		tok := c.c.Connect()
		tok.Wait()
		return tok.Error()
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		c.cancel()
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}

	c.start(ctx)
	return nil
}

func (c *Client) start(ctx context.Context) {
	if c.deps.Handler != nil {
		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go func(id int) {
				defer c.wg.Done()
				c.worker(ctx, id)
			}(i)
		}
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.stats(ctx)
	}()
}

func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	// also stops paho's reconnect loop when the link is down
	if c.c != nil {
		c.c.Disconnect(250)
	}
	c.wg.Wait()
}

func (c *Client) connected(cl paho.Client) {
	c.deps.Logger.Info("mqtt connected", "broker", c.cfg.Broker)
	if c.deps.Handler == nil {
		return
	}
	topic := telemetry.ControlTopic(c.cfg.DeviceID)
	// the control QoS follows the publisher, which uses 1
	tok := cl.Subscribe(topic, 1, c.onMessage)
	if !tok.WaitTimeout(5 * time.Second) {
		c.deps.Logger.Error("control subscribe timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		c.deps.Logger.Error("control subscribe failed", "topic", topic, "err", err)
		return
	}
	c.deps.Logger.Info("subscribed", "topic", topic)
}

func (c *Client) disconnected(_ paho.Client, err error) {
	c.deps.Logger.Warn("mqtt connection lost", "err", err)
}

// Publish sends payload and waits for the broker acknowledgement or ctx.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if c.c == nil || !c.c.IsConnectionOpen() {
		atomic.AddUint64(&c.pubErrs, 1)
		return ErrNotConnected
	}
	tok := c.c.Publish(topic, qos, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		atomic.AddUint64(&c.pubErrs, 1)
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		atomic.AddUint64(&c.pubErrs, 1)
		return err
	}
	atomic.AddUint64(&c.published, 1)
	return nil
}

// Subscribe delivers messages on topic to fn from paho's callback goroutine.
func (c *Client) Subscribe(topic string, qos byte, fn func(topic string, payload []byte)) error {
	if c.c == nil {
		return ErrNotConnected
	}
	tok := c.c.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		fn(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(5 * time.Second) {
		return ErrTimeout
	}
	return tok.Error()
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	atomic.AddUint64(&c.received, 1)
	select {
	case c.queue <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		atomic.AddUint64(&c.dropped, 1)
		c.deps.Logger.Warn("control queue full, drop", "topic", msg.Topic())
	}
}

func (c *Client) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.queue:
			dev, err := telemetry.DeviceFromTopic(m.topic)
			if err != nil || dev != c.cfg.DeviceID {
				atomic.AddUint64(&c.badControl, 1)
				c.deps.Logger.Warn("control for another device", "worker", id, "topic", m.topic)
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = c.deps.Handler.HandleControl(hctx, domain.SourceMQTT, m.payload)
			cancel()
			if err != nil {
				atomic.AddUint64(&c.badControl, 1)
			}
		}
	}
}

func (c *Client) stats(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p := atomic.SwapUint64(&c.published, 0)
			pe := atomic.SwapUint64(&c.pubErrs, 0)
			r := atomic.SwapUint64(&c.received, 0)
			d := atomic.SwapUint64(&c.dropped, 0)
			bc := atomic.SwapUint64(&c.badControl, 0)

			c.deps.Logger.Debug("mqtt stats",
				"published_5s", p,
				"publish_err_5s", pe,
				"control_received_5s", r,
				"control_dropped_5s", d,
				"bad_control_5s", bc,
			)
		}
	}
}
