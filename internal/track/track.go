// Package track reconstructs per-aircraft movement traces from a record
// store. A track is the time-ordered positions of one icao24 with stationary
// repeats collapsed.
package track

import (
	"sort"
	"time"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

// DefaultMinPoints is the threshold below which a trace is too short to draw.
const DefaultMinPoints = 2

// Track is one aircraft's trace. Points are value copies in ascending time
// order with consecutive duplicate coordinates removed (first kept).
type Track struct {
	ICAO24 string
	Points []models.TelemetryRecord
}

// First returns the earliest point.
func (t Track) First() models.TelemetryRecord { return t.Points[0] }

// Last returns the latest point.
func (t Track) Last() models.TelemetryRecord { return t.Points[len(t.Points)-1] }

// Duration is the time between the first and last point.
func (t Track) Duration() time.Duration {
	if len(t.Points) < 2 {
		return 0
	}
	return t.Last().Timestamp.Sub(t.First().Timestamp)
}

// Build groups the store by icao24, collapses consecutive points that repeat
// the same coordinate pair, and drops traces shorter than minPoints.
// minPoints below 1 is treated as 1. The result is deterministic for a given
// store and rebuilding from the same store yields identical tracks.
func Build(st *store.Store, minPoints int) map[string]Track {
	if minPoints < 1 {
		minPoints = 1
	}

	grouped := make(map[string][]models.TelemetryRecord)
	st.ForEach(func(_ int, rec *models.TelemetryRecord) bool {
		pts := grouped[rec.ICAO24]
		if n := len(pts); n > 0 &&
			pts[n-1].Latitude == rec.Latitude && pts[n-1].Longitude == rec.Longitude {
			return true // stationary repeat, keep the earlier point
		}
		grouped[rec.ICAO24] = append(pts, *rec)
		return true
	})

	tracks := make(map[string]Track, len(grouped))
	for id, pts := range grouped {
		if len(pts) < minPoints {
			continue
		}
		tracks[id] = Track{ICAO24: id, Points: pts}
	}
	return tracks
}

// SortedIDs returns the track keys in lexicographic order, the iteration
// order used for deterministic color assignment.
func SortedIDs(tracks map[string]Track) []string {
	ids := make([]string, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
