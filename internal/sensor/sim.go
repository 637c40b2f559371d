package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"power-agent/internal/domain"
)

const (
	solarPeakMilliW   = 500
	thermalPeakMilliW = 150
	nominalPackMilliV = 3700
)

type SimConfig struct {
	CapacityMWh float64
	Seed        int64
	// Step is the simulated time between reads.
	Step time.Duration
}

// Simulator models a solar and thermal harvester charging a single battery.
type Simulator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	step       time.Duration
	capacity   float64
	energy     float64
	irradiance float64
	thermal    float64
	load       int
	now        func() time.Time
}

func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.CapacityMWh <= 0 {
		cfg.CapacityMWh = 2000
	}
	if cfg.Step <= 0 {
		cfg.Step = 5 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rnd:        rand.New(rand.NewSource(seed)),
		step:       cfg.Step,
		capacity:   cfg.CapacityMWh,
		energy:     cfg.CapacityMWh * 0.5,
		irradiance: 0.5,
		thermal:    0.2,
		now:        time.Now,
	}
}

// Read advances the model by one step and samples it.
func (s *Simulator) Read(ctx context.Context) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	harvest := s.harvest()
	net := harvest - s.load
	s.load = 0
	s.apply(net)

	pct := s.percent()
	return domain.Reading{
		BatteryPercent: pct,
		PackMilliV:     int32(nominalPackMilliV - 500 + pct*7),
		IBatMilliA:     int32(net * 1000 / nominalPackMilliV),
		HarvestMilliW:  harvest,
		TempMilliC:     int32(20000 + s.thermal*15000),
		TakenAt:        s.now(),
	}, nil
}

// Draw accumulates device consumption for the next step.
func (s *Simulator) Draw(milliW int) {
	s.mu.Lock()
	s.load += milliW
	s.mu.Unlock()
}

// SetStep changes the simulated time between reads. Non-positive values are ignored.
func (s *Simulator) SetStep(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.step = d
	s.mu.Unlock()
}

func (s *Simulator) SetPercent(p int) {
	s.mu.Lock()
	s.energy = s.capacity * float64(clampPercent(p)) / 100
	s.mu.Unlock()
}

func (s *Simulator) harvest() int {
	s.irradiance = clamp01(s.irradiance + s.uniform(-0.07, 0.07))
	s.thermal = clamp01(s.thermal + s.uniform(-0.04, 0.04))
	solar := s.irradiance * solarPeakMilliW
	thermal := s.thermal * thermalPeakMilliW
	// occasional transient drop, e.g. cloud cover
	if s.rnd.Float64() < 0.01 {
		solar *= s.uniform(0.1, 0.5)
	}
	return int(solar + thermal)
}

func (s *Simulator) apply(netMilliW int) {
	s.energy += float64(netMilliW) * s.step.Hours()
	switch {
	case s.energy > s.capacity:
		s.energy = s.capacity
	case s.energy < 0:
		s.energy = 0
	}
}

func (s *Simulator) percent() int {
	return clampPercent(int(s.energy / s.capacity * 100))
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rnd.Float64()*(hi-lo)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
