package types

// Measurement is a single reading bound to a sensor and a batch (§3).
// MeasurementID is reserved at 0 for the batch leaf (§4.2); real
// measurements start at 1.
type Measurement struct {
	MeasurementID int64                  `json:"measurement_id"`
	SensorID      string                 `json:"sensor_id"`
	Timestamp     string                 `json:"timestamp"`
	Data          map[string]interface{} `json:"data"`
}

// BatchLeafID is the reserved leaf id representing the batch metadata
// leaf everywhere: id→hash maps, path maps, endpoint responses (§6).
const BatchLeafID int64 = 0

// BatchMeta is the batch-level metadata hashed as the distinguished leaf
// at id 0 (§4.2). The Merkle root is deliberately not a field here: it
// must be computable before the tree exists (§9).
type BatchMeta struct {
	BatchID           int64  `json:"batch_id"`
	CreatedAt         string `json:"created_at"`
	MeasurementCount  int    `json:"measurement_count"`
}

// Payload is the full unit shipped to the cloud: one batch's metadata
// plus its measurements, in ascending measurement_id order (§4.2, §4.5).
type Payload struct {
	Batch        BatchMeta     `json:"batch"`
	Measurements []Measurement `json:"measurements"`
}

// IngressMeasurement is the discriminated-variant wire shape accepted by
// POST /misurazioni (§6). Dynamic dispatch on Tipo at the ingress boundary
// reduces, once normalized, to a plain Data map (§9); Joystick/Temperature
// fields are optional carriers depending on Tipo.
type IngressMeasurement struct {
	SensorID string `json:"id_sensore" validate:"required"`
	Tipo     string `json:"tipo" validate:"required"`

	// joystick
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	Pressed *bool    `json:"pressed,omitempty"`

	// temperature
	Valore *float64 `json:"valore,omitempty"`
}

// ToData collapses the discriminated ingress variant into the flat
// key→scalar map stored as Measurement.Data, the only thing that is
// actually hashed (§9).
func (m IngressMeasurement) ToData() map[string]interface{} {
	data := make(map[string]interface{})
	switch m.Tipo {
	case "joystick":
		if m.X != nil {
			data["x"] = *m.X
		}
		if m.Y != nil {
			data["y"] = *m.Y
		}
		if m.Pressed != nil {
			data["pressed"] = *m.Pressed
		}
	case "temperatura", "temperature":
		if m.Valore != nil {
			data["valore"] = *m.Valore
		}
	default:
		if m.Valore != nil {
			data["valore"] = *m.Valore
		}
	}
	return data
}
