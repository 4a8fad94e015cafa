package payload

import (
	"encoding/binary"
	"errors"
)

// Size is the length of a tide gauge uplink payload in bytes
const Size = 6

// ErrShortPayload is returned when fewer than Size bytes are supplied.
// The message is reported verbatim to the network server.
var ErrShortPayload = errors.New("Need 6-byte payload")

// Reading is one decoded tide gauge measurement
type Reading struct {
	TideHeightMM  int16   `json:"tide_height_mm"`
	TideHeightM   float64 `json:"tide_height_m"`
	RawDistanceMM uint16  `json:"raw_distance_mm"`
	RawDistanceM  float64 `json:"raw_distance_m"`
	BatteryMV     uint16  `json:"battery_mv"`
	BatteryV      float64 `json:"battery_v"`
}

// FromMillimeters creates a reading from its integer fields and fills in the derived metric fields
func FromMillimeters(tideMM int16, distanceMM, batteryMV uint16) Reading {
	return Reading{
		TideHeightMM:  tideMM,
		TideHeightM:   float64(tideMM) / 1000,
		RawDistanceMM: distanceMM,
		RawDistanceM:  float64(distanceMM) / 1000,
		BatteryMV:     batteryMV,
		BatteryV:      float64(batteryMV) / 1000,
	}
}

// Decode decodes the first Size bytes of b. Any further bytes are ignored.
func Decode(b []byte) (Reading, error) {
	if len(b) < Size {
		return Reading{}, ErrShortPayload
	}
	// two's complement conversion sign-extends the tide height
	tide := int16(binary.BigEndian.Uint16(b[0:2]))
	distance := binary.BigEndian.Uint16(b[2:4])
	battery := binary.BigEndian.Uint16(b[4:6])
	return FromMillimeters(tide, distance, battery), nil
}

// Bytes returns the payload encoding of the integer fields of r
func (r Reading) Bytes() []byte {
	b := make([]byte, 0, Size)
	b = binary.BigEndian.AppendUint16(b, uint16(r.TideHeightMM))
	b = binary.BigEndian.AppendUint16(b, r.RawDistanceMM)
	b = binary.BigEndian.AppendUint16(b, r.BatteryMV)
	return b
}
