// Package sensor samples battery and energy-harvesting sensors.
package sensor

import (
	"context"
	"errors"
	"time"

	"power-agent/internal/domain"
)

var (
	ErrNoBattery = errors.New("no battery capacity reading")
	ErrRead      = errors.New("sensor read failed")
)

type Reader interface {
	Read(ctx context.Context) (domain.Reading, error)
}

// Loader is implemented by readers that model their own energy balance and
// need to know what the device drew since the last read.
type Loader interface {
	Draw(milliW int)
}

// Charger is implemented by readers whose charge level can be set remotely.
type Charger interface {
	SetPercent(p int)
}

// Stepper is implemented by readers that advance a model by a fixed time
// step per read.
type Stepper interface {
	SetStep(d time.Duration)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
