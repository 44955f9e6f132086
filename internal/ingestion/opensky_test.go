package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

// ---------------------------------------------------------------------------
// Client Tests
// ---------------------------------------------------------------------------

func TestFetchStates(t *testing.T) {
	payload := map[string]interface{}{
		"time": 1700000000,
		"states": [][]interface{}{
			{
				"abc123",   // 0  icao24
				"UAL456 ",  // 1  callsign
				"US",       // 2  origin
				1700000000, // 3  time_position
				1700000000, // 4  last_contact
				-104.9,     // 5  longitude
				39.7,       // 6  latitude
				10000.0,    // 7  baro_altitude
				false,      // 8  on_ground
				250.0,      // 9  velocity
				180.0,      // 10 true_track
				-2.5,       // 11 vertical_rate
				nil,        // 12 sensors
				10500.0,    // 13 geo_altitude
				"1234",     // 14 squawk
				false,      // 15 spi
				0,          // 16 position_source
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/states/all", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	recs, err := client.FetchStates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "abc123", rec.ICAO24)
	assert.Equal(t, "UAL456", rec.Callsign, "callsign trimmed on ingest")
	assert.InDelta(t, 39.7, rec.Latitude, 0.01)
	assert.InDelta(t, -104.9, rec.Longitude, 0.01)
	assert.Equal(t, models.Float(10000.0), rec.BaroAltitude)
	assert.Equal(t, models.Float(10500.0), rec.GeoAltitude)
	assert.Equal(t, models.Float(250.0), rec.Velocity)
	assert.Equal(t, models.Float(-2.5), rec.VerticalRate)
	assert.Equal(t, models.Bool(false), rec.OnGround)
	assert.Equal(t, models.Bool(false), rec.SPI)
	assert.Equal(t, models.Int(0), rec.PositionSource)
	assert.Equal(t, "1234", rec.Squawk)
	assert.WithinDuration(t, time.Now().UTC(), rec.Timestamp, 5*time.Second,
		"records are stamped with the scrape time")
}

func TestFetchStatesSkipsPositionless(t *testing.T) {
	payload := map[string]interface{}{
		"time": 1700000000,
		"states": [][]interface{}{
			{"nopos1", "X", "US", nil, nil, nil, nil, nil, false, nil, nil, nil, nil, nil, nil, false, 0},
			{"haspos", "Y", "US", nil, nil, -104.0, 39.0, nil, false, nil, nil, nil, nil, nil, nil, false, 0},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	recs, err := NewClient(WithBaseURL(srv.URL)).FetchStates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "haspos", recs[0].ICAO24)
	assert.False(t, recs[0].BaroAltitude.Valid)
}

func TestFetchStatesBoundingBoxParams(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{"time": 0, "states": [][]interface{}{}})
	}))
	defer srv.Close()

	box := ColoradoBox()
	_, err := NewClient(WithBaseURL(srv.URL)).FetchStates(context.Background(), &box)
	require.NoError(t, err)
	assert.Contains(t, query, "lamin=37")
	assert.Contains(t, query, "lamax=41")
	assert.Contains(t, query, "lomin=-109")
	assert.Contains(t, query, "lomax=-102")
}

func TestFetchStatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).FetchStates(context.Background(), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status: 500")
}

func TestFetchWithRetrySuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"time": 1700000000, "states": [][]interface{}{}})
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).FetchStatesWithRetry(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestClientBasicAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"time": 0, "states": [][]interface{}{}})
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL),
		WithBasicAuth("user", "pass"),
	)
	_, err := client.FetchStates(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "Basic")
}

// ---------------------------------------------------------------------------
// Filter Tests
// ---------------------------------------------------------------------------

func TestColoradoFilter(t *testing.T) {
	f := ColoradoFilter()

	tests := []struct {
		name    string
		rec     models.TelemetryRecord
		matches bool
	}{
		{
			name:    "over Denver",
			rec:     models.TelemetryRecord{Latitude: 39.7, Longitude: -104.9},
			matches: true,
		},
		{
			name:    "on the southern boundary",
			rec:     models.TelemetryRecord{Latitude: 37.0, Longitude: -105.0},
			matches: true,
		},
		{
			name:    "over New York",
			rec:     models.TelemetryRecord{Latitude: 40.7, Longitude: -73.9},
			matches: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.matches, f.Matches(&tc.rec))
		})
	}
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	f := Filter{}
	rec := models.TelemetryRecord{Callsign: "ANY123"}
	assert.True(t, f.Matches(&rec))
}

func TestFilterCallsignOnly(t *testing.T) {
	f := Filter{CallsignPrefixes: []string{"DAL", "UAL"}}

	assert.True(t, f.Matches(&models.TelemetryRecord{Callsign: "DAL100"}))
	assert.True(t, f.Matches(&models.TelemetryRecord{Callsign: "UAL200"}))
	assert.False(t, f.Matches(&models.TelemetryRecord{Callsign: "ACA300"}))
}

func TestFilterOrLogicWhenBothSet(t *testing.T) {
	box := ColoradoBox()
	f := Filter{CallsignPrefixes: []string{"UAL"}, BoundingBox: &box}

	// Callsign match outside the box still passes.
	assert.True(t, f.Matches(&models.TelemetryRecord{Callsign: "UAL1", Latitude: 0, Longitude: 0}))
	// In-box record with other callsign still passes.
	assert.True(t, f.Matches(&models.TelemetryRecord{Callsign: "DAL2", Latitude: 39, Longitude: -105}))
	// Neither criterion fails.
	assert.False(t, f.Matches(&models.TelemetryRecord{Callsign: "DAL2", Latitude: 0, Longitude: 0}))
}

// ---------------------------------------------------------------------------
// Metrics Tests
// ---------------------------------------------------------------------------

func TestMetricsRecordLatency(t *testing.T) {
	m := &Metrics{}

	m.RecordLatency(100 * time.Millisecond)
	assert.Equal(t, int64(100_000_000), m.LastLatencyNs.Load())
	assert.Equal(t, int64(100_000_000), m.AvgLatencyNs.Load())

	m.RecordLatency(200 * time.Millisecond)
	assert.Equal(t, int64(200_000_000), m.LastLatencyNs.Load())
	assert.Equal(t, int64(150_000_000), m.AvgLatencyNs.Load()) // Average of 100 and 200
}

func TestMetricsSnapshot(t *testing.T) {
	m := &Metrics{}
	m.TotalRequests.Store(10)
	m.SuccessRequests.Store(8)
	m.FailedRequests.Store(2)
	m.TotalRecords.Store(1000)
	m.KeptRecords.Store(50)
	m.LastLatencyNs.Store(50_000_000)
	m.AvgLatencyNs.Store(45_000_000)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap.TotalRequests)
	assert.Equal(t, int64(8), snap.SuccessRequests)
	assert.Equal(t, int64(2), snap.FailedRequests)
	assert.Equal(t, int64(1000), snap.TotalRecords)
	assert.Equal(t, int64(50), snap.KeptRecords)
	assert.InDelta(t, 50.0, snap.LastLatencyMs, 0.1)
	assert.InDelta(t, 45.0, snap.AvgLatencyMs, 0.1)
}

// ---------------------------------------------------------------------------
// Collector Tests
// ---------------------------------------------------------------------------

func state(icao, callsign string, lon, lat float64) []interface{} {
	return []interface{}{
		icao, callsign, "US", 0, 1700000000, lon, lat,
		10000.0, false, 250.0, 180.0, 0.0, nil, 10500.0, "1234", false, 0,
	}
}

func TestCollectorCollectOnce(t *testing.T) {
	payload := map[string]interface{}{
		"time": 1700000000,
		"states": [][]interface{}{
			state("abc123", "UAL100 ", -104.9, 39.7), // in Colorado
			state("def456", "UAL200 ", -73.9, 40.7),  // New York, filtered out
			state("ghi789", "FFT300 ", -105.0, 39.9), // in Colorado
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	var processed int32
	handler := func(ctx context.Context, recs []models.TelemetryRecord) error {
		atomic.AddInt32(&processed, int32(len(recs)))
		return nil
	}

	client := NewClient(WithBaseURL(srv.URL))
	col := NewCollector(client, DefaultCollectorConfig(), handler)

	count, err := col.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, int32(2), atomic.LoadInt32(&processed))

	m := col.Metrics().Snapshot()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessRequests)
	assert.Equal(t, int64(3), m.TotalRecords)
	assert.Equal(t, int64(2), m.KeptRecords)
}

func TestCollectorStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"time": 0, "states": [][]interface{}{}})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	config := CollectorConfig{
		PollInterval: 50 * time.Millisecond,
		Filter:       Filter{},
	}
	col := NewCollector(client, config, nil)

	assert.False(t, col.IsRunning())

	err := col.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, col.IsRunning())

	// Can't start twice
	err = col.Start(context.Background())
	assert.Error(t, err)

	time.Sleep(100 * time.Millisecond)
	col.Stop()

	// Give it time to stop
	time.Sleep(50 * time.Millisecond)
	assert.False(t, col.IsRunning())
}

func TestCollectorBatchSplitting(t *testing.T) {
	states := make([][]interface{}, 250)
	for i := 0; i < 250; i++ {
		states[i] = state(fmt.Sprintf("abc%03d", i), "FFT100 ", -104.9, 39.7)
	}
	payload := map[string]interface{}{"time": 1700000000, "states": states}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	var batchCount int32
	var totalProcessed int32
	handler := func(ctx context.Context, recs []models.TelemetryRecord) error {
		atomic.AddInt32(&batchCount, 1)
		atomic.AddInt32(&totalProcessed, int32(len(recs)))
		return nil
	}

	client := NewClient(WithBaseURL(srv.URL))
	config := CollectorConfig{
		PollInterval: 10 * time.Second,
		Filter:       ColoradoFilter(),
		BatchSize:    100,
		Workers:      2,
	}
	col := NewCollector(client, config, handler)

	count, err := col.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 250, count)
	assert.Equal(t, int32(250), atomic.LoadInt32(&totalProcessed))
	assert.Equal(t, int32(3), atomic.LoadInt32(&batchCount)) // 100 + 100 + 50
}

func TestEventChannel(t *testing.T) {
	ch := make(chan TelemetryEvent, 10)
	handler := EventChannel(ch)

	recs := []models.TelemetryRecord{
		{ICAO24: "abc123", Callsign: "FFT100"},
		{ICAO24: "def456", Callsign: "FFT200"},
	}

	err := handler(context.Background(), recs)
	require.NoError(t, err)

	assert.Len(t, ch, 2)

	event1 := <-ch
	assert.Equal(t, "abc123", event1.Record.ICAO24)

	event2 := <-ch
	assert.Equal(t, "def456", event2.Record.ICAO24)
}

func TestEventChannelContextCancel(t *testing.T) {
	ch := make(chan TelemetryEvent) // Unbuffered, will block
	handler := EventChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler(ctx, []models.TelemetryRecord{{ICAO24: "abc123"}})
	assert.ErrorIs(t, err, context.Canceled)
}
