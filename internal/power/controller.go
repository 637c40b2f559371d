// Package power decides the operating mode from the battery state of charge.
package power

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"power-agent/internal/domain"
)

var ErrThresholds = errors.New("invalid thresholds")

// Thresholds are battery percentages. Below Critical the device is critical,
// below Low it is low_power, above Recover it returns to normal. Between Low
// and Recover the current mode is kept.
type Thresholds struct {
	Critical int `json:"critical"`
	Low      int `json:"low"`
	Recover  int `json:"recover"`
}

var DefaultThresholds = Thresholds{Critical: 15, Low: 30, Recover: 45}

func (t Thresholds) Validate() error {
	if 0 <= t.Critical && t.Critical < t.Low && t.Low < t.Recover && t.Recover <= 100 {
		return nil
	}
	return fmt.Errorf("%w: %d/%d/%d", ErrThresholds, t.Critical, t.Low, t.Recover)
}

type Controller struct {
	mu            sync.Mutex
	th            Thresholds
	mode          domain.Mode
	override      domain.Mode
	overrideUntil time.Time
	now           func() time.Time
}

func NewController(th Thresholds) (*Controller, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Controller{th: th, mode: domain.ModeNormal, now: time.Now}, nil
}

// Evaluate applies the thresholds to percent and reports whether the mode changed.
func (c *Controller) Evaluate(percent int) (domain.Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.mode
	next := c.automatic(percent)

	if c.override != "" {
		active := c.overrideUntil.IsZero() || c.now().Before(c.overrideUntil)
		switch {
		case next == domain.ModeCritical:
			// critical always wins
			c.override = ""
		case active:
			next = c.override
		default:
			c.override = ""
		}
	}

	c.mode = next
	return next, next != prev
}

func (c *Controller) automatic(percent int) domain.Mode {
	switch {
	case percent < c.th.Critical:
		return domain.ModeCritical
	case percent < c.th.Low:
		return domain.ModeLowPower
	case percent > c.th.Recover:
		return domain.ModeNormal
	}
	return c.mode
}

// Override forces mode until hold elapses. A zero hold keeps the override
// until the battery drops into critical.
func (c *Controller) Override(mode domain.Mode, hold time.Duration) error {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.override = mode
	c.overrideUntil = time.Time{}
	if hold > 0 {
		c.overrideUntil = c.now().Add(hold)
	}
	c.mode = mode
	return nil
}

func (c *Controller) SetThresholds(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.th = th
	c.mu.Unlock()
	return nil
}

func (c *Controller) Thresholds() Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.th
}

func (c *Controller) Mode() domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SendCapacity is how many queued messages may be transmitted per tick.
func SendCapacity(m domain.Mode) int {
	switch m {
	case domain.ModeNormal:
		return 3
	case domain.ModeLowPower:
		return 1
	}
	return 0
}

// BaselineLoad is the device draw in mW for a mode.
func BaselineLoad(m domain.Mode) int {
	if m == domain.ModeNormal {
		return 80
	}
	return 20
}

// TxCost is the transmit draw in mW for one message.
func TxCost(urgent bool) int {
	if urgent {
		return 200
	}
	return 100
}

// MinTxPercent is the battery level at or below which nothing is transmitted.
const MinTxPercent = 5
