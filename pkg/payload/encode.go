package payload

import (
	"errors"
	"fmt"
	"math"
)

var ErrOutOfRange = errors.New("value out of encodable range")

// Encode converts metric values to a payload. Values are rounded to the nearest
// millimeter or millivolt.
func Encode(tideHeightM, distanceM, batteryV float64) ([]byte, error) {
	tide := math.Round(tideHeightM * 1000)
	if tide < math.MinInt16 || tide > math.MaxInt16 || math.IsNaN(tide) {
		return nil, fmt.Errorf("%w: tide height %v m", ErrOutOfRange, tideHeightM)
	}
	distance, err := unsignedMilli(distanceM)
	if err != nil {
		return nil, fmt.Errorf("%w: distance %v m", err, distanceM)
	}
	battery, err := unsignedMilli(batteryV)
	if err != nil {
		return nil, fmt.Errorf("%w: battery %v V", err, batteryV)
	}
	return FromMillimeters(int16(tide), distance, battery).Bytes(), nil
}

func unsignedMilli(v float64) (uint16, error) {
	if v < 0 || math.IsNaN(v) {
		return 0, ErrOutOfRange
	}
	m := math.Round(v * 1000)
	if m > math.MaxUint16 {
		return 0, ErrOutOfRange
	}
	return uint16(m), nil
}
