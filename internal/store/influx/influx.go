// Package influx writes telemetry as InfluxDB points.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"power-agent/internal/domain"
)

const measurement = "power"

var errConnect = errors.New("failed to reach InfluxDB")

type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	l      *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if _, err := client.Ready(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", errConnect, err)
	}
	return &Store{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket), l: logger}, nil
}

func (s *Store) Name() string { return "influx" }

func (s *Store) Close() { s.client.Close() }

func (s *Store) SaveTelemetry(ctx context.Context, t domain.Telemetry) error {
	return s.write.WritePoint(ctx, Point(t))
}

func Point(t domain.Telemetry) *write.Point {
	tags := map[string]string{
		"device": t.DeviceID,
		"mode":   string(t.Mode),
	}
	fields := map[string]interface{}{
		"battery_percent": t.BatteryPercent,
		"pack_mv":         t.PackMilliV,
		"ibat_ma":         t.IBatMilliA,
		"temp_mc":         t.TempMilliC,
		"harvest_mw":      t.HarvestMilliW,
		"queued":          t.Queued,
		"uptime_s":        t.UptimeSec,
	}
	return influxdb2.NewPoint(measurement, tags, fields, time.Unix(t.Timestamp, 0))
}
