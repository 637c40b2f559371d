// Package telemetry names the per-device topics and encodes payloads for them.
package telemetry

import (
	"errors"
	"strings"
)

var ErrInvalidTopic = errors.New("invalid topic")

const (
	ControlWildcard   = "device/+/power/control"
	TelemetryWildcard = "device/+/power/telemetry"
)

func TelemetryTopic(id string) string { return topic(id, "telemetry") }
func ControlTopic(id string) string   { return topic(id, "control") }
func AlertTopic(id string) string     { return topic(id, "alert") }

func topic(id, kind string) string {
	return "device/" + id + "/power/" + kind
}

// DeviceFromTopic returns {id} from device/{id}/power/{kind}.
func DeviceFromTopic(t string) (string, error) {
	parts := strings.Split(t, "/")
	if len(parts) != 4 || parts[0] != "device" || parts[1] == "" || parts[2] != "power" || parts[3] == "" {
		return "", ErrInvalidTopic
	}
	return parts[1], nil
}
