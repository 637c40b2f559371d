package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mainflux/senml"

	"power-agent/internal/domain"
)

var (
	ErrFormat = errors.New("unknown payload format")
	ErrDecode = errors.New("failed to decode telemetry")
)

const (
	FormatJSON  = "json"
	FormatSenML = "senml"
)

// Envelope is the JSON payload published on the telemetry topic.
type Envelope struct {
	Device    string           `json:"device"`
	Telemetry domain.Telemetry `json:"telemetry"`
	Events    []domain.Event   `json:"events,omitempty"`
}

type Encoder interface {
	Encode(t domain.Telemetry, events []domain.Event) ([]byte, error)
	ContentType() string
}

func NewEncoder(format string) (Encoder, error) {
	switch format {
	case FormatJSON, "":
		return jsonEncoder{}, nil
	case FormatSenML:
		return senmlEncoder{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrFormat, format)
}

type jsonEncoder struct{}

func (jsonEncoder) Encode(t domain.Telemetry, events []domain.Event) ([]byte, error) {
	return json.Marshal(Envelope{Device: t.DeviceID, Telemetry: t, Events: events})
}

func (jsonEncoder) ContentType() string { return "application/json" }

func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if e.Device == "" {
		e.Device = e.Telemetry.DeviceID
	}
	return e, nil
}

// senmlEncoder emits a SenML JSON pack. Events are carried as string records.
type senmlEncoder struct{}

func (senmlEncoder) ContentType() string { return "application/senml+json" }

func (senmlEncoder) Encode(t domain.Telemetry, events []domain.Event) ([]byte, error) {
	mode := string(t.Mode)
	recs := []senml.Record{
		{BaseName: BaseName(t.DeviceID), BaseTime: float64(t.Timestamp), Name: "battery", Unit: "%EL", Value: fptr(float64(t.BatteryPercent))},
		{Name: "pack_voltage", Unit: "V", Value: fptr(float64(t.PackMilliV) / 1000)},
		{Name: "battery_current", Unit: "A", Value: fptr(float64(t.IBatMilliA) / 1000)},
		{Name: "harvest_power", Unit: "W", Value: fptr(float64(t.HarvestMilliW) / 1000)},
		{Name: "temperature", Unit: "Cel", Value: fptr(float64(t.TempMilliC) / 1000)},
		{Name: "queued", Value: fptr(float64(t.Queued))},
		{Name: "uptime", Unit: "s", Value: fptr(float64(t.UptimeSec))},
		{Name: "mode", StringValue: &mode},
	}
	for _, ev := range events {
		text := ev.Text
		recs = append(recs, senml.Record{Name: "event/" + string(ev.Type), StringValue: &text})
	}
	return senml.Encode(senml.Pack{Records: recs}, senml.JSON)
}

func BaseName(id string) string { return "urn:dev:id:" + id + ":" }

func fptr(v float64) *float64 { return &v }
