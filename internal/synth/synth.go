// Package synth turns an immutable record store into the categorical view
// models the rendering layer consumes: point-in-time snapshots, timed
// animation frames, per-aircraft path geometry and a density grid.
package synth

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/internal/track"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

// Path palette, assigned round-robin over lexicographically sorted icao24.
var pathPalette = []string{
	"red", "blue", "green", "purple", "orange", "darkred",
	"lightred", "beige", "darkblue", "darkgreen", "cadetblue",
	"darkpurple", "pink", "lightblue", "lightgreen", "gray",
	"black", "lightgray",
}

// ---------------------------------------------------------------------------
// View models
// ---------------------------------------------------------------------------

// SnapshotMarker is one record rendered as a standalone map marker.
type SnapshotMarker struct {
	ICAO24    string    `json:"icao24"`
	Callsign  string    `json:"callsign"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color"`
	Label     string    `json:"label"`
}

// Frame is one record placed on the animation timeline.
type Frame struct {
	Timestamp time.Time `json:"timestamp"`
	ICAO24    string    `json:"icao24"`
	Callsign  string    `json:"callsign"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Color     string    `json:"color"`
	Label     string    `json:"label"`
}

// Animation is the full frame sequence plus the playback period.
type Animation struct {
	Period    time.Duration `json:"-"`
	PeriodISO string        `json:"period"`
	Frames    []Frame       `json:"frames"`
}

// PathPoint is one vertex of a path polyline.
type PathPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// PathMarker annotates a position along a path.
type PathMarker struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Kind      string  `json:"kind"` // start, end, waypoint
	Label     string  `json:"label"`
}

// FlightPath is one aircraft's trace as renderable geometry.
type FlightPath struct {
	ICAO24    string       `json:"icao24"`
	Callsign  string       `json:"callsign"`
	Color     string       `json:"color"`
	Polyline  []PathPoint  `json:"polyline"`
	Start     PathMarker   `json:"start"`
	End       PathMarker   `json:"end"`
	Waypoints []PathMarker `json:"waypoints"`
}

// DensityPoint is one unit of heat on the density grid.
type DensityPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Weight    float64 `json:"weight"`
}

// ---------------------------------------------------------------------------
// Synthesizer
// ---------------------------------------------------------------------------

type trackKey struct {
	fingerprint uint64
	minPoints   int
}

// Synthesizer derives view models from one store. Construction is cheap; the
// store is never mutated, so a synthesizer is safe for concurrent use.
type Synthesizer struct {
	store     *store.Store
	minPoints int
	cache     *lru.Cache[trackKey, map[string]track.Track]
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMinPoints sets the path length threshold (default 2).
func WithMinPoints(n int) Option {
	return func(s *Synthesizer) { s.minPoints = n }
}

// WithTrackCache memoizes track builds across synthesizers that share the
// cache, keyed by store content and threshold. size below 1 clamps to 1.
func WithTrackCache(size int) Option {
	return func(s *Synthesizer) {
		if size < 1 {
			size = 1
		}
		s.cache, _ = lru.New[trackKey, map[string]track.Track](size)
	}
}

// New binds a synthesizer to a store.
func New(st *store.Store, opts ...Option) *Synthesizer {
	s := &Synthesizer{store: st, minPoints: track.DefaultMinPoints}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracks builds (or recalls) the per-aircraft tracks at the configured
// threshold.
func (s *Synthesizer) Tracks() map[string]track.Track {
	if s.cache == nil {
		return track.Build(s.store, s.minPoints)
	}
	key := trackKey{fingerprint: s.store.Fingerprint(), minPoints: s.minPoints}
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}
	built := track.Build(s.store, s.minPoints)
	s.cache.Add(key, built)
	return built
}

// Snapshot renders every record as an independent marker, in store order.
// No grouping or deduplication: simultaneous reports for one aircraft yield
// multiple markers.
func (s *Synthesizer) Snapshot() []SnapshotMarker {
	out := make([]SnapshotMarker, 0, s.store.Len())
	s.store.ForEach(func(_ int, rec *models.TelemetryRecord) bool {
		out = append(out, SnapshotMarker{
			ICAO24:    rec.ICAO24,
			Callsign:  rec.DisplayCallsign(),
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Timestamp: rec.Timestamp,
			Color:     rec.AltitudeClass().Color(),
			Label:     rec.Label(),
		})
		return true
	})
	return out
}

// Animation renders every record as a timeline frame sorted by (timestamp,
// icao24), with the period estimated from the store's cadence.
func (s *Synthesizer) Animation() Animation {
	frames := make([]Frame, 0, s.store.Len())
	s.store.ForEach(func(_ int, rec *models.TelemetryRecord) bool {
		frames = append(frames, Frame{
			Timestamp: rec.Timestamp,
			ICAO24:    rec.ICAO24,
			Callsign:  rec.DisplayCallsign(),
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Color:     rec.AltitudeClass().Color(),
			Label:     rec.Label(),
		})
		return true
	})
	// Store order is already time-ascending; break timestamp ties by identity.
	sort.SliceStable(frames, func(i, j int) bool {
		if !frames[i].Timestamp.Equal(frames[j].Timestamp) {
			return frames[i].Timestamp.Before(frames[j].Timestamp)
		}
		return frames[i].ICAO24 < frames[j].ICAO24
	})
	period := EstimatePeriod(s.store)
	return Animation{Period: period, PeriodISO: PeriodISO8601(period), Frames: frames}
}

// FlightPaths builds tracks at the configured threshold and renders them.
func (s *Synthesizer) FlightPaths() []FlightPath {
	return s.FlightPathsFrom(s.Tracks())
}

// FlightPathsFrom renders already built tracks as path geometry. Colors are
// assigned round-robin over sorted icao24, so the mapping is stable for a
// given track set.
func (s *Synthesizer) FlightPathsFrom(tracks map[string]track.Track) []FlightPath {
	ids := track.SortedIDs(tracks)
	out := make([]FlightPath, 0, len(ids))
	for i, id := range ids {
		tr := tracks[id]
		color := pathPalette[i%len(pathPalette)]

		poly := make([]PathPoint, len(tr.Points))
		for j, p := range tr.Points {
			poly[j] = PathPoint{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: p.Timestamp}
		}

		first, last := tr.First(), tr.Last()
		fp := FlightPath{
			ICAO24:   id,
			Callsign: first.DisplayCallsign(),
			Color:    color,
			Polyline: poly,
			Start: PathMarker{
				Latitude: first.Latitude, Longitude: first.Longitude,
				Kind: "start", Label: first.Label(),
			},
			End: PathMarker{
				Latitude: last.Latitude, Longitude: last.Longitude,
				Kind: "end", Label: last.Label(),
			},
		}
		var mid []models.TelemetryRecord
		if len(tr.Points) > 2 {
			mid = tr.Points[1 : len(tr.Points)-1]
		}
		for _, p := range mid {
			fp.Waypoints = append(fp.Waypoints, PathMarker{
				Latitude: p.Latitude, Longitude: p.Longitude,
				Kind: "waypoint", Label: p.Label(),
			})
		}
		out = append(out, fp)
	}
	return out
}

// DensityGrid emits one weight-1 point per record. Every retained record
// contributes regardless of track thresholds.
func (s *Synthesizer) DensityGrid() []DensityPoint {
	out := make([]DensityPoint, 0, s.store.Len())
	s.store.ForEach(func(_ int, rec *models.TelemetryRecord) bool {
		out = append(out, DensityPoint{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Weight:    1,
		})
		return true
	})
	return out
}
