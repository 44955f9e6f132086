package models

import (
	"fmt"
	"strings"
	"time"
)

// OptFloat is a float64 that may be absent. Absence is not zero: a record
// with no reported altitude must not read as "altitude 0 ft".
type OptFloat struct {
	Value float64
	Valid bool
}

// Float wraps a known value.
func Float(v float64) OptFloat { return OptFloat{Value: v, Valid: true} }

// OptBool is a bool that may be absent.
type OptBool struct {
	Value bool
	Valid bool
}

// Bool wraps a known value.
func Bool(v bool) OptBool { return OptBool{Value: v, Valid: true} }

// OptInt is an int that may be absent.
type OptInt struct {
	Value int
	Valid bool
}

// Int wraps a known value.
func Int(v int) OptInt { return OptInt{Value: v, Valid: true} }

// TelemetryRecord is one position report for one aircraft at one instant.
// Identity, timestamp and the coordinate pair are mandatory; everything else
// is best-effort and carries an explicit validity flag.
type TelemetryRecord struct {
	ICAO24    string    `json:"icao24"`
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	BaroAltitude   OptFloat `json:"baro_altitude"`
	GeoAltitude    OptFloat `json:"geo_altitude"`
	Velocity       OptFloat `json:"velocity"`
	TrueTrack      OptFloat `json:"true_track"`
	VerticalRate   OptFloat `json:"vertical_rate"`
	Squawk         string   `json:"squawk"`
	OnGround       OptBool  `json:"on_ground"`
	LastContact    OptFloat `json:"last_contact"`
	SPI            OptBool  `json:"spi"`
	PositionSource OptInt   `json:"position_source"`
}

// RawRow is a header-described row from an acquisition source (CSV, database,
// live poll). Empty string means the field was not reported.
type RawRow map[string]string

// EffectiveAltitude resolves the altitude used for classification and
// statistics: barometric when present, geometric as fallback. ok is false
// when neither was reported.
func (r TelemetryRecord) EffectiveAltitude() (float64, bool) {
	if r.BaroAltitude.Valid {
		return r.BaroAltitude.Value, true
	}
	if r.GeoAltitude.Valid {
		return r.GeoAltitude.Value, true
	}
	return 0, false
}

// DisplayCallsign returns the trimmed callsign, or "N/A" when blank.
func (r TelemetryRecord) DisplayCallsign() string {
	cs := strings.TrimSpace(r.Callsign)
	if cs == "" {
		return "N/A"
	}
	return cs
}

// Label renders the human-readable marker text used by the snapshot and
// animation views.
func (r TelemetryRecord) Label() string {
	alt := "unknown"
	if v, ok := r.EffectiveAltitude(); ok {
		alt = fmt.Sprintf("%.0f ft", v)
	}
	spd := "unknown"
	if r.Velocity.Valid {
		spd = fmt.Sprintf("%.0f kts", r.Velocity.Value)
	}
	hdg := "unknown"
	if r.TrueTrack.Valid {
		hdg = fmt.Sprintf("%.0f°", r.TrueTrack.Value)
	}
	ground := "unknown"
	if r.OnGround.Valid {
		if r.OnGround.Value {
			ground = "yes"
		} else {
			ground = "no"
		}
	}
	return fmt.Sprintf("%s (%s) alt=%s spd=%s hdg=%s ground=%s @ %s",
		r.ICAO24, r.DisplayCallsign(), alt, spd, hdg, ground,
		r.Timestamp.Format(time.RFC3339))
}

// ---------------------------------------------------------------------------
// Altitude classification
// ---------------------------------------------------------------------------

// AltitudeClass buckets a record by effective altitude.
type AltitudeClass int

const (
	AltitudeLow AltitudeClass = iota
	AltitudeMedium
	AltitudeHigh
)

const (
	mediumAltitudeFt = 5000.0
	highAltitudeFt   = 10000.0
)

func (c AltitudeClass) String() string {
	switch c {
	case AltitudeHigh:
		return "high"
	case AltitudeMedium:
		return "medium"
	default:
		return "low"
	}
}

// Color is the categorical marker color for this class.
func (c AltitudeClass) Color() string {
	switch c {
	case AltitudeHigh:
		return "red"
	case AltitudeMedium:
		return "orange"
	default:
		return "green"
	}
}

// ClassifyAltitude buckets an altitude in feet: above 10000 is high, above
// 5000 is medium, everything else (including unknown, treated as 0) is low.
func ClassifyAltitude(ft float64) AltitudeClass {
	switch {
	case ft > highAltitudeFt:
		return AltitudeHigh
	case ft > mediumAltitudeFt:
		return AltitudeMedium
	default:
		return AltitudeLow
	}
}

// AltitudeClass classifies the record using its effective altitude, with 0
// substituted when no altitude was reported.
func (r TelemetryRecord) AltitudeClass() AltitudeClass {
	v, _ := r.EffectiveAltitude()
	return ClassifyAltitude(v)
}
