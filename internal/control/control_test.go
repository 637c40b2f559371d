package control_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/control"
	"power-agent/internal/domain"
	"power-agent/internal/power"
)

func TestParse(t *testing.T) {
	cases := []struct {
		desc    string
		payload string
		err     error
		check   func(t *testing.T, c control.Command)
	}{
		{
			desc:    "set mode with hold",
			payload: `{"set_mode":"low_power","hold_s":600}`,
			check: func(t *testing.T, c control.Command) {
				require.NotNil(t, c.Mode)
				assert.Equal(t, domain.ModeLowPower, *c.Mode)
				assert.Equal(t, 10*time.Minute, c.Hold)
			},
		},
		{
			desc:    "set threshold",
			payload: `{"set_threshold":25}`,
			check: func(t *testing.T, c control.Command) {
				require.NotNil(t, c.LowThreshold)
				assert.Equal(t, 25, *c.LowThreshold)
			},
		},
		{
			desc:    "full thresholds",
			payload: `{"thresholds":{"critical":10,"low":25,"recover":40}}`,
			check: func(t *testing.T, c control.Command) {
				require.NotNil(t, c.Thresholds)
				assert.Equal(t, power.Thresholds{Critical: 10, Low: 25, Recover: 40}, *c.Thresholds)
			},
		},
		{
			desc:    "interval, tx power and battery together",
			payload: `{"set_interval_s":30,"set_tx_power_db":-6,"battery":80,"note":"ignored"}`,
			check: func(t *testing.T, c control.Command) {
				require.NotNil(t, c.Interval)
				assert.Equal(t, 30*time.Second, *c.Interval)
				assert.Equal(t, -6, *c.TxPowerDB)
				assert.Equal(t, 80, *c.Battery)
				assert.Nil(t, c.Mode)
			},
		},
		{
			desc:    "ping",
			payload: `{"ping":true}`,
			check: func(t *testing.T, c control.Command) {
				assert.True(t, c.Ping)
			},
		},
		{desc: "not json", payload: `set_mode=low`, err: control.ErrMalformed},
		{desc: "json string", payload: `"low_power"`, err: control.ErrMalformed},
		{desc: "empty object", payload: `{}`, err: control.ErrEmpty},
		{desc: "only unknown keys", payload: `{"reboot":true}`, err: control.ErrEmpty},
		{desc: "ping false only", payload: `{"ping":false}`, err: control.ErrEmpty},
		{desc: "hold alone", payload: `{"hold_s":5}`, err: control.ErrInvalidValue},
		{desc: "hold without mode", payload: `{"hold_s":60,"set_threshold":20}`, err: control.ErrInvalidValue},
		{desc: "unknown mode", payload: `{"set_mode":"turbo"}`, err: control.ErrInvalidValue},
		{desc: "negative hold", payload: `{"set_mode":"normal","hold_s":-1}`, err: control.ErrInvalidValue},
		{desc: "threshold out of range", payload: `{"set_threshold":100}`, err: control.ErrInvalidValue},
		{desc: "bad thresholds", payload: `{"thresholds":{"critical":30,"low":20,"recover":40}}`, err: control.ErrInvalidValue},
		{desc: "interval too long", payload: `{"set_interval_s":7200}`, err: control.ErrInvalidValue},
		{desc: "tx power too high", payload: `{"set_tx_power_db":31}`, err: control.ErrInvalidValue},
		{desc: "battery over 100", payload: `{"battery":101}`, err: control.ErrInvalidValue},
	}

	for _, tc := range cases {
		cmd, err := control.Parse([]byte(tc.payload))
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.desc)
			continue
		}
		require.NoError(t, err, tc.desc)
		tc.check(t, cmd)
	}
}

func TestWithLow(t *testing.T) {
	cases := []struct {
		desc string
		low  int
		want power.Thresholds
	}{
		{desc: "inside defaults", low: 25, want: power.Thresholds{Critical: 15, Low: 25, Recover: 45}},
		{desc: "below critical", low: 10, want: power.Thresholds{Critical: 5, Low: 10, Recover: 45}},
		{desc: "above recover", low: 50, want: power.Thresholds{Critical: 15, Low: 50, Recover: 65}},
		{desc: "near the top", low: 99, want: power.Thresholds{Critical: 15, Low: 99, Recover: 100}},
	}

	for _, tc := range cases {
		got := control.WithLow(power.DefaultThresholds, tc.low)
		assert.Equal(t, tc.want, got, tc.desc)
		assert.NoError(t, got.Validate(), tc.desc)
	}
}
