// Package types holds the wire-level data model shared by the producer,
// the cloud service, and the verifier (§3): sensors, measurements, batch
// metadata, and the payload they compose into.
package types

import (
	"regexp"
	"strings"
)

// sensorIDPattern is the format validated and enforced at registration
// (§3): one of four prefixes followed by exactly three digits.
var sensorIDPattern = regexp.MustCompile(`^(JOY|TEMP|HUM|PRESS)\d{3}$`)

// sensorKinds maps a sensor-id prefix to its human kind, mirroring the
// original producer's prefix→tipo table exactly (§9 supplemented feature).
var sensorKinds = map[string]string{
	"JOY":   "joystick",
	"TEMP":  "temperature",
	"HUM":   "humidity",
	"PRESS": "pressure",
}

// Sensor is a registered IoT sensor (§3).
type Sensor struct {
	ID          string `json:"sensor_id" validate:"required"`
	Description string `json:"description"`
	Ack         bool   `json:"ack"`
}

// ValidateSensorID reports whether id matches the required sensor-id
// format. Callers should uppercase id before validating, matching the
// registration contract in §3/§6.
func ValidateSensorID(id string) bool {
	return sensorIDPattern.MatchString(id)
}

// NormalizeSensorID uppercases a sensor id the way ingress does before
// validation and storage.
func NormalizeSensorID(id string) string {
	return strings.ToUpper(id)
}

// Kind derives the sensor's kind from its id prefix: the alphabetic run
// at the start of the id, stripped of digits, looked up in the fixed
// prefix table; unknown prefixes fall back to "generic".
func (s Sensor) Kind() string {
	prefix := strings.TrimRight(s.ID, "0123456789")
	if kind, ok := sensorKinds[prefix]; ok {
		return kind
	}
	return "generic"
}
