package sensor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/sensor"
)

func TestSimulatorDeterministic(t *testing.T) {
	ctx := context.Background()
	a := sensor.NewSimulator(sensor.SimConfig{Seed: 42})
	b := sensor.NewSimulator(sensor.SimConfig{Seed: 42})

	for i := 0; i < 20; i++ {
		ra, err := a.Read(ctx)
		require.NoError(t, err)
		rb, err := b.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, ra.HarvestMilliW, rb.HarvestMilliW)
		assert.Equal(t, ra.BatteryPercent, rb.BatteryPercent)
	}
}

func TestSimulatorBounds(t *testing.T) {
	ctx := context.Background()
	s := sensor.NewSimulator(sensor.SimConfig{Seed: 7, CapacityMWh: 10, Step: time.Hour})

	for i := 0; i < 200; i++ {
		r, err := s.Read(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.BatteryPercent, 0)
		assert.LessOrEqual(t, r.BatteryPercent, 100)
		assert.GreaterOrEqual(t, r.HarvestMilliW, 0)
		assert.LessOrEqual(t, r.HarvestMilliW, 650)
	}
}

func TestSimulatorDrawAndSetPercent(t *testing.T) {
	ctx := context.Background()
	s := sensor.NewSimulator(sensor.SimConfig{Seed: 1, CapacityMWh: 1000, Step: time.Hour})

	s.SetPercent(50)
	s.Draw(100_000)
	r, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, r.BatteryPercent, "large draw empties the battery")
	assert.Negative(t, r.IBatMilliA)

	s.SetPercent(250)
	r, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, r.BatteryPercent, "override is clamped and harvest cannot overfill")
}

func TestSimulatorSetStep(t *testing.T) {
	ctx := context.Background()
	short := sensor.NewSimulator(sensor.SimConfig{Seed: 3, CapacityMWh: 1000, Step: time.Second})
	long := sensor.NewSimulator(sensor.SimConfig{Seed: 3, CapacityMWh: 1000, Step: time.Second})
	long.SetStep(time.Hour)
	long.SetStep(0)

	for _, s := range []*sensor.Simulator{short, long} {
		s.SetPercent(50)
		s.Draw(1000)
	}
	rs, err := short.Read(ctx)
	require.NoError(t, err)
	rl, err := long.Read(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, rs.BatteryPercent, 49)
	assert.LessOrEqual(t, rl.BatteryPercent, 15, "an hour at net discharge drains far more than a second")
}

func TestSimulatorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sensor.NewSimulator(sensor.SimConfig{Seed: 1}).Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644))
	}
}

func TestSysfsRead(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		desc    string
		attrs   map[string]string
		percent int
		milliV  int32
		milliA  int32
		tempMC  int32
		harvest int
	}{
		{
			desc: "discharging",
			attrs: map[string]string{
				"capacity": "64", "status": "Discharging", "voltage_now": "3912000",
				"current_now": "420000", "temp": "251", "power_now": "1500000",
			},
			percent: 64, milliV: 3912, milliA: -420, tempMC: 25100,
		},
		{
			desc: "charging",
			attrs: map[string]string{
				"capacity": "80", "status": "Charging", "voltage_now": "4100000",
				"current_now": "-300000", "power_now": "1230000",
			},
			percent: 80, milliV: 4100, milliA: 300, harvest: 1230,
		},
		{
			desc:    "capacity only",
			attrs:   map[string]string{"capacity": "101"},
			percent: 100,
		},
	}

	for i, tc := range cases {
		name := "BAT" + string(rune('0'+i))
		writeAttrs(t, filepath.Join(root, name), tc.attrs)

		r, err := sensor.NewSysfs(root, name).Read(context.Background())
		require.NoError(t, err, tc.desc)
		assert.Equal(t, tc.percent, r.BatteryPercent, tc.desc)
		assert.Equal(t, tc.milliV, r.PackMilliV, tc.desc)
		assert.Equal(t, tc.milliA, r.IBatMilliA, tc.desc)
		assert.Equal(t, tc.tempMC, r.TempMilliC, tc.desc)
		assert.Equal(t, tc.harvest, r.HarvestMilliW, tc.desc)
	}
}

func TestSysfsErrors(t *testing.T) {
	root := t.TempDir()

	_, err := sensor.NewSysfs(root, "missing").Read(context.Background())
	assert.ErrorIs(t, err, sensor.ErrNoBattery)

	writeAttrs(t, filepath.Join(root, "BAD"), map[string]string{"capacity": "lots"})
	_, err = sensor.NewSysfs(root, "BAD").Read(context.Background())
	assert.ErrorIs(t, err, sensor.ErrRead)
}
