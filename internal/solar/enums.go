package solar

import (
	"database/sql/driver"
	"fmt"
)

// ExclusionReason records why a building was not modelled. The zero value
// means the building was modelled.
type ExclusionReason int

const (
	ExclusionNone ExclusionReason = iota
	NoLidarCoverage
	OutdatedLidarCoverage
	NoRoofPlanesDetected
	AllRoofPlanesUnusable
)

var exclusionNames = map[ExclusionReason]string{
	NoLidarCoverage:       "NO_LIDAR_COVERAGE",
	OutdatedLidarCoverage: "OUTDATED_LIDAR_COVERAGE",
	NoRoofPlanesDetected:  "NO_ROOF_PLANES_DETECTED",
	AllRoofPlanesUnusable: "ALL_ROOF_PLANES_UNUSABLE",
}

// ExclusionReasons lists every non-empty reason in declaration order.
var ExclusionReasons = []ExclusionReason{
	NoLidarCoverage,
	OutdatedLidarCoverage,
	NoRoofPlanesDetected,
	AllRoofPlanesUnusable,
}

func (r ExclusionReason) String() string {
	if r == ExclusionNone {
		return ""
	}
	if s, ok := exclusionNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ExclusionReason(%d)", int(r))
}

// Excluded reports whether the building was excluded from modelling.
func (r ExclusionReason) Excluded() bool { return r != ExclusionNone }

// ParseExclusionReason is the inverse of String. The empty string parses
// to ExclusionNone.
func ParseExclusionReason(s string) (ExclusionReason, error) {
	if s == "" {
		return ExclusionNone, nil
	}
	for r, name := range exclusionNames {
		if name == s {
			return r, nil
		}
	}
	return ExclusionNone, fmt.Errorf("unknown exclusion reason %q", s)
}

// Value stores the reason as nullable text.
func (r ExclusionReason) Value() (driver.Value, error) {
	if r == ExclusionNone {
		return nil, nil
	}
	return r.String(), nil
}

// Scan reads the reason from nullable text.
func (r *ExclusionReason) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = ExclusionNone
		return nil
	case string:
		parsed, err := ParseExclusionReason(v)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	case []byte:
		return r.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ExclusionReason", src)
	}
}

// MarshalText implements encoding.TextMarshaler for JSON and GeoJSON output.
func (r ExclusionReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// NotUsableReason records which usability test a roof plane failed.
type NotUsableReason string

const (
	NotUsableNone          NotUsableReason = ""
	NotUsableSlope         NotUsableReason = "SLOPE"
	NotUsableAspect        NotUsableReason = "ASPECT"
	NotUsableArea          NotUsableReason = "AREA"
	NotUsableEmptyGeometry NotUsableReason = "EMPTY_GEOMETRY"
	NotUsableNoPanels      NotUsableReason = "NO_PANELS"
)

// PVTech is the photovoltaic technology passed to the irradiation engine.
type PVTech string

const (
	CrystSi PVTech = "crystSi"
	CIS     PVTech = "CIS"
	CdTe    PVTech = "CdTe"
)

// ParsePVTech validates a technology name.
func ParsePVTech(s string) (PVTech, error) {
	switch PVTech(s) {
	case CrystSi, CIS, CdTe:
		return PVTech(s), nil
	}
	return "", fmt.Errorf("unknown pv_tech %q (want crystSi, CIS or CdTe)", s)
}
