package mysql

import (
	"context"
	"strings"
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/domain"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "3307", User: "agent", Pass: "pw", DB: "power"}

	parsed, err := gomysql.ParseDSN(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db:3307", parsed.Addr)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "agent", parsed.User)
	assert.Equal(t, "pw", parsed.Passwd)
	assert.Equal(t, "power", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 255))
	assert.Len(t, truncate(strings.Repeat("x", 300), 255), 255)
}

func TestSaveAndLatest(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "device-latest-none")
	assert.ErrorIs(t, err, ErrNotFound)

	first := domain.Telemetry{DeviceID: "device-latest", Timestamp: 100, BatteryPercent: 40, Mode: domain.ModeNormal}
	second := domain.Telemetry{
		DeviceID:       "device-latest",
		Timestamp:      105,
		HarvestMilliW:  120,
		BatteryPercent: 28,
		PackMilliV:     3710,
		IBatMilliA:     -45,
		TempMilliC:     24500,
		Mode:           domain.ModeLowPower,
		Queued:         4,
		UptimeSec:      3600,
	}
	require.NoError(t, s.SaveTelemetry(ctx, first))
	require.NoError(t, s.SaveTelemetry(ctx, second))

	got, err := s.Latest(ctx, "device-latest")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestRecentControls(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

	records := []domain.ControlRecord{
		{DeviceID: "device-ctl", Source: domain.SourceMQTT, Payload: `{"ping":true}`, ReceivedAt: base},
		{DeviceID: "device-ctl", Source: domain.SourceHTTP, Payload: `{"set_mode":"bogus"}`, ReceivedAt: base.Add(time.Second),
			Error: strings.Repeat("e", 300)},
		{DeviceID: "device-ctl", Source: domain.SourceWS, Payload: `{"battery":80}`, ReceivedAt: base.Add(2 * time.Second)},
		{DeviceID: "device-other", Source: domain.SourceMQTT, Payload: `{}`, ReceivedAt: base},
	}
	for _, r := range records {
		require.NoError(t, s.SaveControl(ctx, r))
	}

	cases := []struct {
		desc     string
		device   string
		limit    int
		payloads []string
	}{
		{desc: "newest first", device: "device-ctl", limit: 10, payloads: []string{`{"battery":80}`, `{"set_mode":"bogus"}`, `{"ping":true}`}},
		{desc: "limit applied", device: "device-ctl", limit: 2, payloads: []string{`{"battery":80}`, `{"set_mode":"bogus"}`}},
		{desc: "unknown device", device: "device-none", limit: 10},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := s.RecentControls(ctx, tc.device, tc.limit)
			require.NoError(t, err)
			require.Len(t, got, len(tc.payloads))
			for i, p := range tc.payloads {
				assert.Equal(t, p, got[i].Payload)
				assert.Equal(t, tc.device, got[i].DeviceID)
			}
		})
	}

	got, err := s.RecentControls(ctx, "device-ctl", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.SourceWS, got[0].Source)
	assert.True(t, base.Add(2*time.Second).Equal(got[0].ReceivedAt), "millisecond precision survives")
	assert.Len(t, got[1].Error, 255)
	assert.Empty(t, got[2].Error)
}
