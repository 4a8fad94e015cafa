// Package tide converts ultrasonic distance readings to tide heights.
package tide

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrNegativeDistance = errors.New("measured distance must not be negative")

// Calibration describes the mounting geometry of a tide gauge site.
//
// GeometryReferenceM is the distance from the sensor to the site's reference
// level and DatumOffsetM shifts the result to the chart datum.
type Calibration struct {
	GeometryReferenceM float64 `mapstructure:"geometry_reference_m" json:"geometry_reference_m"`
	DatumOffsetM       float64 `mapstructure:"datum_offset_m" json:"datum_offset_m"`
}

// Height returns the tide height in meters for a measured sensor-to-surface distance
func (c Calibration) Height(measuredDistanceM float64) (float64, error) {
	if measuredDistanceM < 0 {
		return 0, fmt.Errorf("%w: %v m", ErrNegativeDistance, measuredDistanceM)
	}
	return c.GeometryReferenceM - measuredDistanceM - c.DatumOffsetM, nil
}

// FromReference calibrates a site from a distance measured while the tide
// height is known, e.g. read from a tide staff.
func FromReference(geometryReferenceM, measuredDistanceM, knownTideHeightM float64) (Calibration, error) {
	if measuredDistanceM < 0 {
		return Calibration{}, fmt.Errorf("%w: %v m", ErrNegativeDistance, measuredDistanceM)
	}
	return Calibration{
		GeometryReferenceM: geometryReferenceM,
		DatumOffsetM:       geometryReferenceM - measuredDistanceM - knownTideHeightM,
	}, nil
}

// Load reads a calibration file. A missing file yields the zero calibration.
func Load(path string) (Calibration, error) {
	var c Calibration
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("invalid calibration file %s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c Calibration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
