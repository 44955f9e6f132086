package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(icao string, sec int, lat, lon float64) models.TelemetryRecord {
	return models.TelemetryRecord{
		ICAO24:    icao,
		Timestamp: baseTime.Add(time.Duration(sec) * time.Second),
		Latitude:  lat,
		Longitude: lon,
	}
}

func storeWithGaps(gaps ...time.Duration) *store.Store {
	recs := []models.TelemetryRecord{rec("aaa", 0, 39, -104)}
	at := time.Duration(0)
	for i, g := range gaps {
		at += g
		r := rec("aaa", 0, 39+float64(i+1)*0.01, -104)
		r.Timestamp = baseTime.Add(at)
		recs = append(recs, r)
	}
	return store.FromRecords(recs)
}

func TestEstimatePeriodBuckets(t *testing.T) {
	s := time.Second

	// Deltas 10s,10s,200s,10s -> median 10s -> fast bucket.
	assert.Equal(t, 10*s, EstimatePeriod(storeWithGaps(10*s, 10*s, 200*s, 10*s)))

	// Boundary medians land in the slower bucket.
	assert.Equal(t, 30*s, EstimatePeriod(storeWithGaps(30*s, 30*s, 30*s)))
	assert.Equal(t, time.Minute, EstimatePeriod(storeWithGaps(120*s, 120*s, 120*s)))

	assert.Equal(t, 30*s, EstimatePeriod(storeWithGaps(45*s, 45*s)))
	assert.Equal(t, time.Minute, EstimatePeriod(storeWithGaps(10*time.Minute)))
}

func TestEstimatePeriodDefaults(t *testing.T) {
	assert.Equal(t, DefaultPeriod, EstimatePeriod(store.FromRecords(nil)))
	one := store.FromRecords([]models.TelemetryRecord{rec("aaa", 0, 39, -104)})
	assert.Equal(t, DefaultPeriod, EstimatePeriod(one))
}

func TestPeriodISO8601(t *testing.T) {
	assert.Equal(t, "PT10S", PeriodISO8601(10*time.Second))
	assert.Equal(t, "PT30S", PeriodISO8601(30*time.Second))
	assert.Equal(t, "PT1M", PeriodISO8601(time.Minute))
	assert.Equal(t, "PT5M", PeriodISO8601(5*time.Minute))
	assert.Equal(t, "PT45S", PeriodISO8601(45*time.Second))
}

func TestSnapshotOneMarkerPerRecord(t *testing.T) {
	high := rec("hi1", 0, 39, -104)
	high.BaroAltitude = models.Float(12000)
	mid := rec("md1", 1, 39.1, -104.1)
	mid.GeoAltitude = models.Float(7000)
	low := rec("lo1", 2, 39.2, -104.2)

	st := store.FromRecords([]models.TelemetryRecord{high, mid, low, high})
	markers := New(st).Snapshot()
	require.Len(t, markers, 4, "duplicates are not collapsed in snapshots")

	byID := map[string]string{}
	for _, m := range markers {
		byID[m.ICAO24] = m.Color
	}
	assert.Equal(t, "red", byID["hi1"])
	assert.Equal(t, "orange", byID["md1"])
	assert.Equal(t, "green", byID["lo1"])
}

func TestAnimationOrderAndPeriod(t *testing.T) {
	st := store.FromRecords([]models.TelemetryRecord{
		rec("bbb", 0, 39, -104),
		rec("aaa", 0, 39.1, -104.1),
		rec("aaa", 10, 39.2, -104.2),
		rec("bbb", 10, 39.3, -104.3),
	})
	anim := New(st).Animation()
	require.Len(t, anim.Frames, 4)
	assert.Equal(t, "PT10S", anim.PeriodISO)
	assert.Equal(t, 10*time.Second, anim.Period)

	// Ties on timestamp break by icao24.
	assert.Equal(t, "aaa", anim.Frames[0].ICAO24)
	assert.Equal(t, "bbb", anim.Frames[1].ICAO24)
	assert.Equal(t, "aaa", anim.Frames[2].ICAO24)
	assert.Equal(t, "bbb", anim.Frames[3].ICAO24)
}

func TestFlightPaths(t *testing.T) {
	st := store.FromRecords([]models.TelemetryRecord{
		rec("bravo", 0, 40.0, -105.0),
		rec("bravo", 1, 40.0, -105.0), // stationary repeat, collapsed
		rec("bravo", 2, 40.1, -105.1),
		rec("bravo", 3, 40.2, -105.2),
		rec("alpha", 0, 39.0, -104.0),
		rec("alpha", 5, 39.5, -104.5),
		rec("solo", 0, 38.0, -103.0), // below min points
	})
	paths := New(st).FlightPaths()
	require.Len(t, paths, 2)

	// Sorted by icao24, palette round-robin.
	assert.Equal(t, "alpha", paths[0].ICAO24)
	assert.Equal(t, "red", paths[0].Color)
	assert.Equal(t, "bravo", paths[1].ICAO24)
	assert.Equal(t, "blue", paths[1].Color)

	b := paths[1]
	require.Len(t, b.Polyline, 3, "stationary repeat collapsed")
	assert.Equal(t, "start", b.Start.Kind)
	assert.Equal(t, "end", b.End.Kind)
	assert.Equal(t, 40.0, b.Start.Latitude)
	assert.Equal(t, 40.2, b.End.Latitude)
	require.Len(t, b.Waypoints, 1)
	assert.Equal(t, 40.1, b.Waypoints[0].Latitude)

	assert.Empty(t, paths[0].Waypoints, "two-point path has no intermediates")
}

func TestPaletteWrapsAround(t *testing.T) {
	recs := make([]models.TelemetryRecord, 0, 40)
	for i := 0; i < 20; i++ {
		id := string(rune('a'+i/2)) + "x" + string(rune('a'+i))
		recs = append(recs,
			rec(id, i, 39+float64(i)*0.01, -104),
			rec(id, i+100, 39+float64(i)*0.01+0.5, -104.5))
	}
	st := store.FromRecords(recs)
	paths := New(st).FlightPaths()
	require.Greater(t, len(paths), len(pathPalette))
	assert.Equal(t, paths[0].Color, paths[len(pathPalette)].Color)
}

func TestDensityGridCountsEveryRecord(t *testing.T) {
	st := store.FromRecords([]models.TelemetryRecord{
		rec("aaa", 0, 39, -104),
		rec("aaa", 1, 39, -104), // duplicate position still counts
		rec("bbb", 0, 40, -105),
	})
	pts := New(st).DensityGrid()
	require.Equal(t, st.Len(), len(pts))
	for _, p := range pts {
		assert.Equal(t, 1.0, p.Weight)
	}
}

func TestEmptyStoreViews(t *testing.T) {
	s := New(store.FromRecords(nil))
	assert.Empty(t, s.Snapshot())
	anim := s.Animation()
	assert.Empty(t, anim.Frames)
	assert.Equal(t, "PT1M", anim.PeriodISO)
	assert.Empty(t, s.FlightPaths())
	assert.Empty(t, s.DensityGrid())
}

func TestTrackCache(t *testing.T) {
	st := store.FromRecords([]models.TelemetryRecord{
		rec("aaa", 0, 39, -104),
		rec("aaa", 1, 39.1, -104.1),
	})
	s := New(st, WithTrackCache(8))
	first := s.Tracks()
	second := s.Tracks()
	assert.Equal(t, first, second)
	assert.Equal(t, s.FlightPathsFrom(first), s.FlightPaths())
}
