package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"power-agent/internal/agent"
	"power-agent/internal/config"
	"power-agent/internal/domain"
	"power-agent/internal/httpapi"
	"power-agent/internal/metrics"
	"power-agent/internal/mqtt"
	"power-agent/internal/notify"
	"power-agent/internal/power"
	"power-agent/internal/queue"
	"power-agent/internal/sensor"
	influxstore "power-agent/internal/store/influx"
	mysqlstore "power-agent/internal/store/mysql"
	redisstore "power-agent/internal/store/redis"
	"power-agent/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sinks    []agent.Sink
		ctlLogs  []agent.ControlLog
		latest   []httpapi.LatestStore
		controls httpapi.ControlHistory
		online   httpapi.OnlineIndex
	)

	// Redis goes first so /telemetry/latest hits the cache before MySQL.
	if cfg.Redis.Enabled {
		rd, err := redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			DB:        cfg.Redis.DB,
			LatestTTL: cfg.Redis.LatestTTL,
		}, logger)
		if err != nil {
			slog.Error("init redis failed", "err", err)
			os.Exit(1)
		}
		defer rd.Close()
		sinks = append(sinks, rd)
		latest = append(latest, rd)
		online = rd
	}

	if cfg.MySQL.Enabled {
		my, err := mysqlstore.New(mysqlstore.Config{
			Host:    cfg.MySQL.Host,
			Port:    cfg.MySQL.Port,
			User:    cfg.MySQL.User,
			Pass:    cfg.MySQL.Pass,
			DB:      cfg.MySQL.DB,
			MaxOpen: cfg.MySQL.MaxOpen,
			MaxIdle: cfg.MySQL.MaxIdle,
		}, logger)
		if err != nil {
			slog.Error("init mysql failed", "err", err)
			os.Exit(1)
		}
		defer my.Close()
		sinks = append(sinks, my)
		ctlLogs = append(ctlLogs, my)
		latest = append(latest, my)
		controls = my
	}

	if cfg.Influx.Enabled {
		ix, err := influxstore.New(ctx, influxstore.Config{
			URL:     cfg.Influx.URL,
			Token:   cfg.Influx.Token,
			Org:     cfg.Influx.Org,
			Bucket:  cfg.Influx.Bucket,
			Timeout: cfg.Influx.Timeout,
		}, logger)
		if err != nil {
			slog.Error("init influx failed", "err", err)
			os.Exit(1)
		}
		defer ix.Close()
		sinks = append(sinks, ix)
	}

	var reader sensor.Reader
	switch cfg.Sensor.Source {
	case "sysfs":
		reader = sensor.NewSysfs(cfg.Sensor.SysfsRoot, cfg.Sensor.SysfsSupply)
	default:
		reader = sensor.NewSimulator(sensor.SimConfig{
			CapacityMWh: cfg.Sensor.SimCapacityMWh,
			Seed:        cfg.Sensor.SimSeed,
			Step:        cfg.Agent.Interval,
		})
	}

	ctl, err := power.NewController(cfg.Power.Thresholds())
	if err != nil {
		slog.Error("init power controller failed", "err", err)
		os.Exit(1)
	}

	enc, err := telemetry.NewEncoder(cfg.MQTT.Format)
	if err != nil {
		slog.Error("init encoder failed", "err", err)
		os.Exit(1)
	}

	var notifier agent.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.New(notify.Config{
			URL:           cfg.Notify.URL,
			Timeout:       cfg.Notify.Timeout,
			FailThreshold: cfg.Notify.FailThreshold,
			OpenDuration:  cfg.Notify.OpenDuration,
		}, logger)
	}

	m := metrics.New(cfg.DeviceID)
	hub := httpapi.NewHub(cfg.HTTP.WSToken, logger)

	// the client is built before the agent it delivers controls to
	var ag *agent.Agent
	client := mqtt.NewClient(mqtt.Deps{
		Handler: mqtt.ControlHandlerFunc(func(ctx context.Context, src domain.ControlSource, payload []byte) error {
			return ag.HandleControl(ctx, src, payload)
		}),
		Logger: logger,
	}, mqtt.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		DeviceID: cfg.DeviceID,
		QoS:      cfg.MQTT.QoS,
		Workers:  cfg.MQTT.Workers,
		QueueLen: cfg.MQTT.QueueLen,
	})

	ag = agent.New(agent.Deps{
		Sensor:      reader,
		Controller:  ctl,
		Queue:       queue.New(cfg.Agent.QueueLen),
		Encoder:     enc,
		Publisher:   client,
		Sinks:       sinks,
		ControlLogs: ctlLogs,
		Notifier:    notifier,
		Broadcaster: hub,
		Metrics:     m,
		Logger:      logger,
	}, agent.Config{
		DeviceID:       cfg.DeviceID,
		Interval:       cfg.Agent.Interval,
		QoS:            cfg.MQTT.QoS,
		PublishTimeout: cfg.Agent.PublishTimeout,
		Events:         cfg.Sensor.SimEvents,
		Seed:           cfg.Sensor.SimSeed,
	})

	if err := client.Connect(ctx); err != nil {
		slog.Error("mqtt connect failed", "err", err)
		os.Exit(1)
	}

	// HTTP API
	httpSrv := httpapi.New(httpapi.Deps{
		Agent:     ag,
		Latest:    latest,
		Controls:  controls,
		Online:    online,
		OnlineTTL: 3 * cfg.Agent.Interval,
		Hub:       hub,
		Metrics:   m.Handler(),
		Logger:    logger,
	}, cfg.HTTP.Addr)

	go func() {
		if err := httpSrv.Start(); err != nil {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ag.Run(ctx)
	}()

	slog.Info("power agent running", "device", cfg.DeviceID, "broker", cfg.MQTT.Broker, "http", cfg.HTTP.Addr)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	<-done
	client.Close()

	slog.Info("bye")
}
