// Package stats computes a descriptive summary of a record store. Summarize
// is pure: it reads the store and returns a report, nothing else.
package stats

import (
	"sort"
	"time"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

// TopCallsignCount caps the ranked callsign list.
const TopCallsignCount = 10

// Ratio is a counted fraction. Value reports ok=false instead of dividing by
// a zero denominator.
type Ratio struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// Value returns Count/Total; ok is false when Total is zero.
func (r Ratio) Value() (float64, bool) {
	if r.Total == 0 {
		return 0, false
	}
	return float64(r.Count) / float64(r.Total), true
}

// FieldSummary describes a numeric field over the records that report it.
// Coverage relates Count to the store size.
type FieldSummary struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Coverage Ratio   `json:"coverage"`
}

// Bounds is the geographic bounding box of all retained records.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	Valid  bool    `json:"valid"`
}

// CallsignCount is one entry of the ranked callsign list.
type CallsignCount struct {
	Callsign string `json:"callsign"`
	Count    int    `json:"count"`
}

// Report is the full summary of one store.
type Report struct {
	TotalRecords   int `json:"total_records"`
	UniqueAircraft int `json:"unique_aircraft"`

	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	TimeSpan    time.Duration `json:"time_span"`
	HasTimeSpan bool          `json:"has_time_span"`

	MedianInterval time.Duration `json:"median_interval"`
	HasInterval    bool          `json:"has_interval"`

	PointsPerAircraft map[string]int `json:"points_per_aircraft"`
	MaxPoints         int            `json:"max_points"`
	MultiPoint        int            `json:"multi_point"`     // aircraft with >1 record
	MoreThanFive      int            `json:"more_than_five"`  // aircraft with >5 records
	MoreThanTen       int            `json:"more_than_ten"`   // aircraft with >10 records

	Altitude FieldSummary `json:"altitude"`
	Speed    FieldSummary `json:"speed"`

	Bounds Bounds `json:"bounds"`

	TopCallsigns []CallsignCount `json:"top_callsigns"`

	MissingAltitude Ratio `json:"missing_altitude"`
	MissingVelocity Ratio `json:"missing_velocity"`
	MissingTrack    Ratio `json:"missing_track"`
	MissingSquawk   Ratio `json:"missing_squawk"`
	MissingCallsign Ratio `json:"missing_callsign"`
}

// Summarize computes the report. An empty store yields a report full of
// zero counts and "no data" sentinels, never an error.
func Summarize(st *store.Store) Report {
	rep := Report{
		TotalRecords:      st.Len(),
		PointsPerAircraft: make(map[string]int),
	}

	var (
		altAgg, spdAgg aggregate
		callsigns      = make(map[string]int)
	)

	st.ForEach(func(_ int, rec *models.TelemetryRecord) bool {
		rep.PointsPerAircraft[rec.ICAO24]++

		if v, ok := rec.EffectiveAltitude(); ok {
			altAgg.add(v)
		}
		if rec.Velocity.Valid {
			spdAgg.add(rec.Velocity.Value)
		}

		if cs := rec.DisplayCallsign(); cs != "N/A" {
			callsigns[cs]++
		} else {
			rep.MissingCallsign.Count++
		}
		// A record misses altitude when either altitude field is absent.
		if !rec.BaroAltitude.Valid || !rec.GeoAltitude.Valid {
			rep.MissingAltitude.Count++
		}
		if !rec.Velocity.Valid {
			rep.MissingVelocity.Count++
		}
		if !rec.TrueTrack.Valid {
			rep.MissingTrack.Count++
		}
		if rec.Squawk == "" {
			rep.MissingSquawk.Count++
		}

		if !rep.Bounds.Valid {
			rep.Bounds = Bounds{
				MinLat: rec.Latitude, MaxLat: rec.Latitude,
				MinLon: rec.Longitude, MaxLon: rec.Longitude,
				Valid: true,
			}
		} else {
			rep.Bounds.MinLat = min(rep.Bounds.MinLat, rec.Latitude)
			rep.Bounds.MaxLat = max(rep.Bounds.MaxLat, rec.Latitude)
			rep.Bounds.MinLon = min(rep.Bounds.MinLon, rec.Longitude)
			rep.Bounds.MaxLon = max(rep.Bounds.MaxLon, rec.Longitude)
		}
		return true
	})

	rep.UniqueAircraft = len(rep.PointsPerAircraft)
	for _, n := range rep.PointsPerAircraft {
		if n > rep.MaxPoints {
			rep.MaxPoints = n
		}
		if n > 1 {
			rep.MultiPoint++
		}
		if n > 5 {
			rep.MoreThanFive++
		}
		if n > 10 {
			rep.MoreThanTen++
		}
	}

	if first, ok := st.First(); ok {
		last, _ := st.Last()
		rep.FirstSeen = first.Timestamp
		rep.LastSeen = last.Timestamp
		rep.TimeSpan = last.Timestamp.Sub(first.Timestamp)
		rep.HasTimeSpan = true
	}
	rep.MedianInterval, rep.HasInterval = st.MedianInterval()

	rep.Altitude = altAgg.summary(st.Len())
	rep.Speed = spdAgg.summary(st.Len())
	rep.TopCallsigns = rankCallsigns(callsigns)

	total := st.Len()
	rep.MissingAltitude.Total = total
	rep.MissingVelocity.Total = total
	rep.MissingTrack.Total = total
	rep.MissingSquawk.Total = total
	rep.MissingCallsign.Total = total
	return rep
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type aggregate struct {
	count    int
	sum      float64
	min, max float64
}

func (a *aggregate) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.count++
	a.sum += v
}

func (a *aggregate) summary(total int) FieldSummary {
	fs := FieldSummary{
		Count:    a.count,
		Coverage: Ratio{Count: a.count, Total: total},
	}
	if a.count > 0 {
		fs.Mean = a.sum / float64(a.count)
		fs.Min = a.min
		fs.Max = a.max
	}
	return fs
}

// rankCallsigns orders by count descending, callsign ascending on ties, and
// truncates to TopCallsignCount.
func rankCallsigns(counts map[string]int) []CallsignCount {
	if len(counts) == 0 {
		return nil
	}
	ranked := make([]CallsignCount, 0, len(counts))
	for cs, n := range counts {
		ranked = append(ranked, CallsignCount{Callsign: cs, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Callsign < ranked[j].Callsign
	})
	if len(ranked) > TopCallsignCount {
		ranked = ranked[:TopCallsignCount]
	}
	return ranked
}
