package domain

import (
	"errors"
	"time"
)

type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeLowPower Mode = "low_power"
	ModeCritical Mode = "critical"
)

var ErrInvalidMode = errors.New("invalid mode")

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNormal, ModeLowPower, ModeCritical:
		return m, nil
	}
	return "", ErrInvalidMode
}

// Reading is one sample of the battery and harvesting sensors.
// Units follow the charger's native milli-units.
type Reading struct {
	BatteryPercent int
	PackMilliV     int32
	IBatMilliA     int32 // positive while charging
	HarvestMilliW  int
	TempMilliC     int32
	TakenAt        time.Time
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Queued  uint64 `json:"queued"`
	Dropped uint64 `json:"dropped"`
}

// Telemetry is the record published to device/{id}/power/telemetry.
type Telemetry struct {
	DeviceID       string `json:"id"`
	Timestamp      int64  `json:"ts"`
	HarvestMilliW  int    `json:"harvest_mw"`
	BatteryPercent int    `json:"batteryPercent"`
	PackMilliV     int32  `json:"pack_mV"`
	IBatMilliA     int32  `json:"ibat_mA"`
	TempMilliC     int32  `json:"temp_mC"`
	Mode           Mode   `json:"mode"`
	Queued         int    `json:"queued"`
	UptimeSec      int64  `json:"uptime_s"`
	SentCount      int    `json:"sent_count"`
	Stats          Stats  `json:"stats"`
}

type EventType string

const (
	EventAlert  EventType = "alert"
	EventInfo   EventType = "info"
	EventSignal EventType = "signal"
)

type Event struct {
	Type     EventType `json:"type"`
	Level    string    `json:"level,omitempty"`
	Text     string    `json:"text"`
	Priority string    `json:"priority,omitempty"`
}

func (e Event) Urgent() bool { return e.Priority == "urgent" }

type ControlSource string

const (
	SourceMQTT ControlSource = "mqtt"
	SourceHTTP ControlSource = "http"
	SourceWS   ControlSource = "ws"
)

type ControlRecord struct {
	DeviceID   string        `json:"device_id"`
	Source     ControlSource `json:"source"`
	Payload    string        `json:"payload"`
	ReceivedAt time.Time     `json:"received_at"`
	Error      string        `json:"error,omitempty"`
}
