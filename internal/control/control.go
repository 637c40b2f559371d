// Package control parses control messages sent to device/{id}/power/control.
//
// A control payload is a JSON object; every recognised key is optional but at
// least one must be present:
//
//	{"set_mode":"low_power","hold_s":600}
//	{"set_threshold":25}
//	{"thresholds":{"critical":10,"low":25,"recover":40}}
//	{"set_interval_s":30}
//	{"set_tx_power_db":-6}
//	{"battery":80}
//	{"ping":true}
//
// Unknown keys are ignored.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"power-agent/internal/domain"
	"power-agent/internal/power"
)

var (
	ErrMalformed    = errors.New("malformed control payload")
	ErrEmpty        = errors.New("control payload has no recognised keys")
	ErrInvalidValue = errors.New("invalid control value")
)

type payload struct {
	SetMode      *string           `json:"set_mode"`
	HoldSec      *int              `json:"hold_s"`
	SetThreshold *int              `json:"set_threshold"`
	Thresholds   *power.Thresholds `json:"thresholds"`
	SetIntervalS *int              `json:"set_interval_s"`
	SetTxPowerDB *int              `json:"set_tx_power_db"`
	Battery      *int              `json:"battery"`
	Ping         *bool             `json:"ping"`
}

// Command is a validated control message. Nil fields are left unchanged.
type Command struct {
	Mode         *domain.Mode
	Hold         time.Duration
	LowThreshold *int
	Thresholds   *power.Thresholds
	Interval     *time.Duration
	TxPowerDB    *int
	Battery      *int
	Ping         bool
}

func Parse(b []byte) (Command, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var cmd Command
	n := 0

	if p.SetMode != nil {
		m, err := domain.ParseMode(*p.SetMode)
		if err != nil {
			return Command{}, fmt.Errorf("%w: set_mode %q", ErrInvalidValue, *p.SetMode)
		}
		cmd.Mode = &m
		n++
	}
	if p.HoldSec != nil {
		if p.SetMode == nil {
			return Command{}, fmt.Errorf("%w: hold_s without set_mode", ErrInvalidValue)
		}
		if *p.HoldSec < 0 || *p.HoldSec > 86400 {
			return Command{}, fmt.Errorf("%w: hold_s %d", ErrInvalidValue, *p.HoldSec)
		}
		cmd.Hold = time.Duration(*p.HoldSec) * time.Second
	}
	if p.SetThreshold != nil {
		if *p.SetThreshold < 1 || *p.SetThreshold > 99 {
			return Command{}, fmt.Errorf("%w: set_threshold %d", ErrInvalidValue, *p.SetThreshold)
		}
		cmd.LowThreshold = p.SetThreshold
		n++
	}
	if p.Thresholds != nil {
		if err := p.Thresholds.Validate(); err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		cmd.Thresholds = p.Thresholds
		n++
	}
	if p.SetIntervalS != nil {
		if *p.SetIntervalS < 1 || *p.SetIntervalS > 3600 {
			return Command{}, fmt.Errorf("%w: set_interval_s %d", ErrInvalidValue, *p.SetIntervalS)
		}
		d := time.Duration(*p.SetIntervalS) * time.Second
		cmd.Interval = &d
		n++
	}
	if p.SetTxPowerDB != nil {
		if *p.SetTxPowerDB < -40 || *p.SetTxPowerDB > 30 {
			return Command{}, fmt.Errorf("%w: set_tx_power_db %d", ErrInvalidValue, *p.SetTxPowerDB)
		}
		cmd.TxPowerDB = p.SetTxPowerDB
		n++
	}
	if p.Battery != nil {
		if *p.Battery < 0 || *p.Battery > 100 {
			return Command{}, fmt.Errorf("%w: battery %d", ErrInvalidValue, *p.Battery)
		}
		cmd.Battery = p.Battery
		n++
	}
	if p.Ping != nil && *p.Ping {
		cmd.Ping = true
		n++
	}

	if n == 0 {
		return Command{}, ErrEmpty
	}
	return cmd, nil
}

// WithLow returns th with Low replaced, moving Recover up if needed to keep
// the hysteresis band non-empty.
func WithLow(th power.Thresholds, low int) power.Thresholds {
	th.Low = low
	if th.Critical >= low {
		th.Critical = low / 2
	}
	if th.Recover <= low {
		th.Recover = min(100, low+15)
	}
	return th
}
