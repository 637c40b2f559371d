package sensor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"power-agent/internal/domain"
)

// Sysfs reads a Linux power_supply class device, e.g. /sys/class/power_supply/BAT0.
type Sysfs struct {
	dir string
	now func() time.Time
}

func NewSysfs(root, supply string) *Sysfs {
	return &Sysfs{dir: filepath.Join(root, supply), now: time.Now}
}

func (s *Sysfs) Read(ctx context.Context) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}

	capacity, ok, err := s.readInt("capacity")
	if err != nil {
		return domain.Reading{}, err
	}
	if !ok {
		return domain.Reading{}, fmt.Errorf("%w: %s", ErrNoBattery, s.dir)
	}

	r := domain.Reading{BatteryPercent: clampPercent(int(capacity)), TakenAt: s.now()}

	// kernel units: µV, µA, µW, tenths of °C
	if v, ok, err := s.readInt("voltage_now"); err != nil {
		return domain.Reading{}, err
	} else if ok {
		r.PackMilliV = int32(v / 1000)
	}
	charging := s.readString("status") == "Charging"
	if v, ok, err := s.readInt("current_now"); err != nil {
		return domain.Reading{}, err
	} else if ok {
		ma := v / 1000
		if ma < 0 {
			ma = -ma
		}
		if !charging {
			ma = -ma
		}
		r.IBatMilliA = int32(ma)
	}
	if v, ok, err := s.readInt("temp"); err != nil {
		return domain.Reading{}, err
	} else if ok {
		r.TempMilliC = int32(v * 100)
	}
	if charging {
		if v, ok, err := s.readInt("power_now"); err != nil {
			return domain.Reading{}, err
		} else if ok {
			r.HarvestMilliW = int(v / 1000)
		}
	}
	return r, nil
}

func (s *Sysfs) readString(name string) string {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// readInt reports ok=false when the attribute does not exist.
func (s *Sysfs) readInt(name string) (int64, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %w", ErrRead, name, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %w", ErrRead, name, err)
	}
	return v, true, nil
}
