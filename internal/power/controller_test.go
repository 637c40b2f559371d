package power

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-agent/internal/domain"
)

func TestThresholdsValidate(t *testing.T) {
	cases := []struct {
		desc string
		th   Thresholds
		ok   bool
	}{
		{desc: "defaults", th: DefaultThresholds, ok: true},
		{desc: "zero critical", th: Thresholds{0, 10, 20}, ok: true},
		{desc: "recover at 100", th: Thresholds{10, 20, 100}, ok: true},
		{desc: "negative critical", th: Thresholds{-1, 10, 20}},
		{desc: "critical equals low", th: Thresholds{20, 20, 40}},
		{desc: "low above recover", th: Thresholds{10, 50, 40}},
		{desc: "recover above 100", th: Thresholds{10, 20, 101}},
	}

	for _, tc := range cases {
		err := tc.th.Validate()
		if tc.ok {
			assert.NoError(t, err, tc.desc)
			continue
		}
		assert.ErrorIs(t, err, ErrThresholds, tc.desc)
	}
}

func TestEvaluateHysteresis(t *testing.T) {
	c, err := NewController(DefaultThresholds)
	require.NoError(t, err)

	steps := []struct {
		desc    string
		percent int
		mode    domain.Mode
		changed bool
	}{
		{desc: "start full", percent: 80, mode: domain.ModeNormal},
		{desc: "inside band stays normal", percent: 35, mode: domain.ModeNormal},
		{desc: "below low", percent: 29, mode: domain.ModeLowPower, changed: true},
		{desc: "back into band stays low power", percent: 40, mode: domain.ModeLowPower},
		{desc: "at recover stays low power", percent: 45, mode: domain.ModeLowPower},
		{desc: "below critical", percent: 14, mode: domain.ModeCritical, changed: true},
		{desc: "at critical boundary goes low power", percent: 15, mode: domain.ModeLowPower, changed: true},
		{desc: "above recover", percent: 46, mode: domain.ModeNormal, changed: true},
		{desc: "empty battery", percent: 0, mode: domain.ModeCritical, changed: true},
	}

	for _, s := range steps {
		mode, changed := c.Evaluate(s.percent)
		assert.Equal(t, s.mode, mode, s.desc)
		assert.Equal(t, s.changed, changed, s.desc)
	}
}

func TestOverride(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c, err := NewController(DefaultThresholds)
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Override(domain.ModeLowPower, time.Minute))
	assert.Equal(t, domain.ModeLowPower, c.Mode())

	mode, changed := c.Evaluate(90)
	assert.Equal(t, domain.ModeLowPower, mode, "override holds while active")
	assert.False(t, changed)

	now = now.Add(2 * time.Minute)
	mode, changed = c.Evaluate(90)
	assert.Equal(t, domain.ModeNormal, mode, "override expires")
	assert.True(t, changed)

	require.NoError(t, c.Override(domain.ModeNormal, 0))
	mode, _ = c.Evaluate(20)
	assert.Equal(t, domain.ModeNormal, mode, "indefinite override ignores low power")

	mode, changed = c.Evaluate(3)
	assert.Equal(t, domain.ModeCritical, mode, "critical beats override")
	assert.True(t, changed)

	mode, _ = c.Evaluate(20)
	assert.Equal(t, domain.ModeLowPower, mode, "override cleared after critical")

	assert.ErrorIs(t, c.Override("turbo", 0), domain.ErrInvalidMode)
}

func TestSetThresholds(t *testing.T) {
	c, err := NewController(DefaultThresholds)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetThresholds(Thresholds{50, 40, 60}), ErrThresholds)
	assert.Equal(t, DefaultThresholds, c.Thresholds())

	require.NoError(t, c.SetThresholds(Thresholds{10, 50, 60}))
	mode, _ := c.Evaluate(45)
	assert.Equal(t, domain.ModeLowPower, mode)
}

func TestPolicy(t *testing.T) {
	assert.Equal(t, 3, SendCapacity(domain.ModeNormal))
	assert.Equal(t, 1, SendCapacity(domain.ModeLowPower))
	assert.Equal(t, 0, SendCapacity(domain.ModeCritical))
	assert.Equal(t, 80, BaselineLoad(domain.ModeNormal))
	assert.Equal(t, 20, BaselineLoad(domain.ModeCritical))
	assert.Equal(t, 200, TxCost(true))
	assert.Equal(t, 100, TxCost(false))
}
