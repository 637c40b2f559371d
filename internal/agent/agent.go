// Package agent runs the read, decide, publish loop for one device and
// applies control messages to it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"power-agent/internal/control"
	"power-agent/internal/domain"
	"power-agent/internal/metrics"
	"power-agent/internal/notify"
	"power-agent/internal/power"
	"power-agent/internal/queue"
	"power-agent/internal/sensor"
	"power-agent/internal/telemetry"
)

var ErrUnsupported = errors.New("control not supported by sensor source")

const DefaultInterval = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

type Sink interface {
	Name() string
	SaveTelemetry(ctx context.Context, t domain.Telemetry) error
}

type ControlLog interface {
	SaveControl(ctx context.Context, r domain.ControlRecord) error
}

type Notifier interface {
	Notify(ctx context.Context, a notify.Alert) error
}

type Broadcaster interface {
	Broadcast(b []byte)
}

type Deps struct {
	Sensor      sensor.Reader
	Controller  *power.Controller
	Queue       *queue.Queue
	Encoder     telemetry.Encoder
	Publisher   Publisher
	Sinks       []Sink
	ControlLogs []ControlLog
	Notifier    Notifier
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Config struct {
	DeviceID       string
	Interval       time.Duration
	QoS            byte
	PublishTimeout time.Duration
	SinkTimeout    time.Duration
	// Events enables the simulated alert/info/signal generator.
	Events bool
	Seed   int64
}

type Snapshot struct {
	DeviceID   string            `json:"device_id"`
	Mode       domain.Mode       `json:"mode"`
	Thresholds power.Thresholds  `json:"thresholds"`
	IntervalS  float64           `json:"interval_s"`
	TxPowerDB  *int              `json:"tx_power_db,omitempty"`
	Latest     *domain.Telemetry `json:"latest,omitempty"`
}

type Agent struct {
	deps Deps
	cfg  Config
	l    *slog.Logger

	started time.Time
	now     func() time.Time
	rnd     *rand.Rand

	mu        sync.Mutex
	interval  time.Duration
	txPowerDB *int
	latest    *domain.Telemetry
	lastTS    int64
	stats     domain.Stats

	resetCh   chan struct{}
	pingCh    chan struct{}
	forceSend atomic.Bool
}

func New(d Deps, cfg Config) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Agent{
		deps:     d,
		cfg:      cfg,
		l:        d.Logger.With("device", cfg.DeviceID),
		started:  time.Now(),
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(seed)),
		interval: cfg.Interval,
		resetCh:  make(chan struct{}, 1),
		pingCh:   make(chan struct{}, 1),
	}
}

// Run ticks until ctx is done. Tick failures are logged and never stop the loop.
func (a *Agent) Run(ctx context.Context) error {
	t := time.NewTicker(a.Interval())
	defer t.Stop()

	a.l.Info("agent started", "interval", a.Interval())
	for {
		select {
		case <-ctx.Done():
			a.l.Info("agent stopped")
			return nil
		case <-a.resetCh:
			t.Reset(a.Interval())
		case <-a.pingCh:
			a.forceSend.Store(true)
			_, _ = a.Step(ctx)
		case <-t.C:
			_, _ = a.Step(ctx)
		}
	}
}

// Step performs one read, decide, publish cycle. The current reading is
// published every tick; events wait in the queue for transmit budget.
func (a *Agent) Step(ctx context.Context) (domain.Telemetry, error) {
	m := a.deps.Metrics

	r, err := a.deps.Sensor.Read(ctx)
	if err != nil {
		m.ReadErrors.Inc()
		a.l.Warn("sensor read failed", "err", err)
		return domain.Telemetry{}, fmt.Errorf("read sensors: %w", err)
	}

	mode, changed := a.deps.Controller.Evaluate(r.BatteryPercent)
	if changed {
		a.l.Info("mode changed", "mode", mode, "battery", r.BatteryPercent)
	}

	t := a.build(r, mode)
	events := a.events(mode, changed)
	a.enqueue(t, events)

	sent := a.drain(ctx, mode, r.BatteryPercent, a.forceSend.Swap(false))

	a.mu.Lock()
	a.stats.Dropped = a.deps.Queue.Dropped()
	t.SentCount = sent
	t.Queued = a.deps.Queue.Len()
	t.Stats = a.stats
	latest := t
	a.latest = &latest
	a.mu.Unlock()

	if err := a.publish(ctx, t); err != nil {
		a.l.Warn("telemetry publish failed", "err", err)
	}

	if ld, ok := a.deps.Sensor.(sensor.Loader); ok {
		ld.Draw(power.BaselineLoad(mode))
	}

	a.save(ctx, t)
	a.alert(ctx, t, events)

	m.Battery.Set(float64(t.BatteryPercent))
	m.Harvest.Set(float64(t.HarvestMilliW))
	m.QueueLen.Set(float64(t.Queued))
	m.SetMode(mode)

	if a.deps.Broadcaster != nil {
		if b, err := json.Marshal(telemetry.Envelope{Device: t.DeviceID, Telemetry: t, Events: events}); err == nil {
			a.deps.Broadcaster.Broadcast(b)
		}
	}
	return t, nil
}

func (a *Agent) build(r domain.Reading, mode domain.Mode) domain.Telemetry {
	ts := r.TakenAt.Unix()
	if r.TakenAt.IsZero() {
		ts = a.now().Unix()
	}
	a.mu.Lock()
	if ts < a.lastTS {
		ts = a.lastTS
	}
	a.lastTS = ts
	a.mu.Unlock()

	return domain.Telemetry{
		DeviceID:       a.cfg.DeviceID,
		Timestamp:      ts,
		HarvestMilliW:  r.HarvestMilliW,
		BatteryPercent: r.BatteryPercent,
		PackMilliV:     r.PackMilliV,
		IBatMilliA:     r.IBatMilliA,
		TempMilliC:     r.TempMilliC,
		Mode:           mode,
		Queued:         a.deps.Queue.Len(),
		UptimeSec:      int64(a.now().Sub(a.started) / time.Second),
	}
}

func (a *Agent) events(mode domain.Mode, changed bool) []domain.Event {
	var out []domain.Event
	if changed && mode == domain.ModeCritical {
		out = append(out, domain.Event{Type: domain.EventAlert, Level: "critical", Text: "battery critical", Priority: "urgent"})
	}
	if !a.cfg.Events {
		return out
	}
	switch p := a.rnd.Float64(); {
	case p < 0.02:
		out = append(out, domain.Event{Type: domain.EventAlert, Level: "warning", Text: "High temperature"})
	case p < 0.05:
		out = append(out, domain.Event{Type: domain.EventInfo, Text: "Scheduled maintenance window"})
	case p < 0.10:
		out = append(out, domain.Event{Type: domain.EventSignal, Text: "Incoming control signal", Priority: "urgent"})
	}
	return out
}

// enqueue stores one message per event, each carrying the reading it was
// raised with.
func (a *Agent) enqueue(t domain.Telemetry, events []domain.Event) {
	for _, ev := range events {
		payload, err := a.deps.Encoder.Encode(t, []domain.Event{ev})
		if err != nil {
			a.l.Warn("encode event failed", "type", ev.Type, "err", err)
			continue
		}
		it := queue.Item{Payload: payload, Urgent: ev.Urgent(), QueuedAt: a.now()}
		if err := a.deps.Queue.Push(it); err != nil {
			a.l.Warn("event not queued", "type", ev.Type, "err", err)
			continue
		}
		a.mu.Lock()
		a.stats.Queued++
		a.mu.Unlock()
	}
}

// drain transmits queued events up to the mode's send capacity. Items that
// cannot be sent go back to the front of the queue.
func (a *Agent) drain(ctx context.Context, mode domain.Mode, battery int, force bool) int {
	n := power.SendCapacity(mode)
	if force && n == 0 {
		n = 1
	}
	items := a.deps.Queue.Pop(n)
	ld, _ := a.deps.Sensor.(sensor.Loader)
	topic := telemetry.TelemetryTopic(a.cfg.DeviceID)

	sent := 0
	for i, it := range items {
		if battery <= power.MinTxPercent {
			a.deps.Queue.Requeue(items[i:])
			a.l.Debug("transmit deferred, battery too low", "battery", battery)
			break
		}
		pctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
		err := a.deps.Publisher.Publish(pctx, topic, a.cfg.QoS, it.Payload)
		cancel()
		if err != nil {
			a.deps.Queue.Requeue(items[i:])
			a.l.Warn("publish failed", "topic", topic, "err", err)
			break
		}
		if ld != nil {
			ld.Draw(power.TxCost(it.Urgent))
		}
		sent++
		a.deps.Metrics.Published.Inc()
	}

	a.mu.Lock()
	a.stats.Sent += uint64(sent)
	a.mu.Unlock()
	return sent
}

// publish sends the current reading. A failed or skipped reading is not
// kept; the next tick carries a newer one.
func (a *Agent) publish(ctx context.Context, t domain.Telemetry) error {
	if t.BatteryPercent <= power.MinTxPercent {
		a.l.Debug("telemetry skipped, battery too low", "battery", t.BatteryPercent)
		return nil
	}
	payload, err := a.deps.Encoder.Encode(t, nil)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
	defer cancel()
	if err := a.deps.Publisher.Publish(pctx, telemetry.TelemetryTopic(a.cfg.DeviceID), a.cfg.QoS, payload); err != nil {
		return err
	}
	if ld, ok := a.deps.Sensor.(sensor.Loader); ok {
		ld.Draw(power.TxCost(false))
	}
	a.deps.Metrics.Published.Inc()
	return nil
}

func (a *Agent) save(ctx context.Context, t domain.Telemetry) {
	for _, s := range a.deps.Sinks {
		sctx, cancel := context.WithTimeout(ctx, a.cfg.SinkTimeout)
		err := s.SaveTelemetry(sctx, t)
		cancel()
		if err != nil {
			a.deps.Metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			a.l.Warn("sink write failed", "sink", s.Name(), "err", err)
		}
	}
}

func (a *Agent) alert(ctx context.Context, t domain.Telemetry, events []domain.Event) {
	for _, ev := range events {
		if ev.Type != domain.EventAlert || !ev.Urgent() {
			continue
		}
		if b, err := json.Marshal(ev); err == nil {
			pctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
			if err := a.deps.Publisher.Publish(pctx, telemetry.AlertTopic(t.DeviceID), 1, b); err != nil {
				a.l.Warn("alert publish failed", "err", err)
			}
			cancel()
		}
		if a.deps.Notifier != nil {
			err := a.deps.Notifier.Notify(ctx, notify.Alert{
				Device: t.DeviceID, Mode: t.Mode, Battery: t.BatteryPercent, Text: ev.Text, TS: t.Timestamp,
			})
			if err != nil {
				a.l.Warn("notify failed", "err", err)
			}
		}
	}
}

// HandleControl parses and applies a control payload. The outcome is
// recorded in every control log, successful or not.
func (a *Agent) HandleControl(ctx context.Context, src domain.ControlSource, payload []byte) error {
	err := a.applyControl(payload)

	rec := domain.ControlRecord{DeviceID: a.cfg.DeviceID, Source: src, Payload: string(payload), ReceivedAt: a.now()}
	result := "ok"
	if err != nil {
		rec.Error = err.Error()
		result = "error"
	}
	a.deps.Metrics.Controls.WithLabelValues(result).Inc()

	for _, cl := range a.deps.ControlLogs {
		sctx, cancel := context.WithTimeout(ctx, a.cfg.SinkTimeout)
		if lerr := cl.SaveControl(sctx, rec); lerr != nil {
			a.l.Warn("control log write failed", "err", lerr)
		}
		cancel()
	}

	if err != nil {
		a.l.Warn("control rejected", "source", src, "err", err)
		return err
	}
	a.l.Info("control applied", "source", src, "payload", string(payload))
	return nil
}

func (a *Agent) applyControl(payload []byte) error {
	cmd, err := control.Parse(payload)
	if err != nil {
		return err
	}
	ctl := a.deps.Controller

	if cmd.Battery != nil {
		ch, ok := a.deps.Sensor.(sensor.Charger)
		if !ok {
			return fmt.Errorf("%w: battery", ErrUnsupported)
		}
		ch.SetPercent(*cmd.Battery)
	}
	if cmd.Thresholds != nil {
		if err := ctl.SetThresholds(*cmd.Thresholds); err != nil {
			return err
		}
	}
	if cmd.LowThreshold != nil {
		if err := ctl.SetThresholds(control.WithLow(ctl.Thresholds(), *cmd.LowThreshold)); err != nil {
			return err
		}
	}
	if cmd.Mode != nil {
		if err := ctl.Override(*cmd.Mode, cmd.Hold); err != nil {
			return err
		}
	}
	if cmd.Interval != nil {
		a.mu.Lock()
		a.interval = *cmd.Interval
		a.mu.Unlock()
		if st, ok := a.deps.Sensor.(sensor.Stepper); ok {
			st.SetStep(*cmd.Interval)
		}
		// Run rereads the interval, a pending signal is enough
		select {
		case a.resetCh <- struct{}{}:
		default:
		}
	}
	if cmd.TxPowerDB != nil {
		v := *cmd.TxPowerDB
		a.mu.Lock()
		a.txPowerDB = &v
		a.mu.Unlock()
	}
	if cmd.Ping {
		select {
		case a.pingCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (a *Agent) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

func (a *Agent) DeviceID() string { return a.cfg.DeviceID }

func (a *Agent) Latest() (domain.Telemetry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return domain.Telemetry{}, false
	}
	return *a.latest, true
}

func (a *Agent) Snapshot() Snapshot {
	ctl := a.deps.Controller
	s := Snapshot{
		DeviceID:   a.cfg.DeviceID,
		Mode:       ctl.Mode(),
		Thresholds: ctl.Thresholds(),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s.IntervalS = a.interval.Seconds()
	if a.txPowerDB != nil {
		v := *a.txPowerDB
		s.TxPowerDB = &v
	}
	if a.latest != nil {
		t := *a.latest
		s.Latest = &t
	}
	return s
}
